package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MinutesPerDay bounds every ClockTime value.
const MinutesPerDay = 24 * 60

var clockPattern = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*([ap]m)$`)

// ClockTime is a time of day expressed as minutes since midnight. The zero value
// is midnight; other values are only produced by ParseTime.
type ClockTime struct {
	minutes int
}

// Minutes returns the number of minutes since midnight (0..1439).
func (t ClockTime) Minutes() int {
	return t.minutes
}

// String renders the canonical H:MMam|pm form.
func (t ClockTime) String() string {
	return FormatTime(t.minutes)
}

// ParseTime converts strings such as "9am", "2:15pm" or "12 PM" into a ClockTime.
func ParseTime(raw string) (ClockTime, error) {
	text := strings.TrimSpace(raw)
	match := clockPattern.FindStringSubmatch(text)
	if match == nil {
		return ClockTime{}, newError(KindInvalidTime, raw, "expected H[:MM]am|pm", nil)
	}

	hour, err := strconv.Atoi(match[1])
	if err != nil || hour < 1 || hour > 12 {
		return ClockTime{}, newError(KindInvalidTime, raw, "hour must be between 1 and 12", err)
	}

	minute := 0
	if match[2] != "" {
		minute, err = strconv.Atoi(match[2])
		if err != nil || minute > 59 {
			return ClockTime{}, newError(KindInvalidTime, raw, "minute must be between 00 and 59", err)
		}
	}

	hour %= 12
	if strings.EqualFold(match[3], "pm") {
		hour += 12
	}

	return ClockTime{minutes: hour*60 + minute}, nil
}

// FormatTime renders minutes since midnight as H:MMam|pm. Values outside a day
// wrap around.
func FormatTime(minutes int) string {
	minutes = ((minutes % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	hour, minute := minutes/60, minutes%60

	suffix := "am"
	if hour >= 12 {
		suffix = "pm"
	}
	hour %= 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%d:%02d%s", hour, minute, suffix)
}
