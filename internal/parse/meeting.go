package parse

import (
	"fmt"
	"strings"
)

// Day is a single-letter weekday code as used by schedule exports.
type Day string

const (
	Monday    Day = "M"
	Tuesday   Day = "T"
	Wednesday Day = "W"
	Thursday  Day = "R"
	Friday    Day = "F"
	Saturday  Day = "S"
	Sunday    Day = "U"
)

var validDays = map[rune]Day{
	'M': Monday,
	'T': Tuesday,
	'W': Wednesday,
	'R': Thursday,
	'F': Friday,
	'S': Saturday,
	'U': Sunday,
}

// DoesNotMeet is the export sentinel for sections without a meeting time.
const DoesNotMeet = "Does Not Meet"

// MeetingPattern is one weekly session: a day and a [start, end) minute range.
type MeetingPattern struct {
	Day         Day `json:"day"`
	StartMinute int `json:"startMinute"`
	EndMinute   int `json:"endMinute"`
}

// String renders the pattern as "T 2:00pm-3:15pm".
func (p MeetingPattern) String() string {
	return fmt.Sprintf("%s %s-%s", p.Day, FormatTime(p.StartMinute), FormatTime(p.EndMinute))
}

// ParseMeetingPatterns parses clauses such as "MWF 9:05am-9:55am; S 2pm-4pm".
//
// Each clause expands to one pattern per day letter, all sharing the clause's
// time range. "Does Not Meet" and blank input yield an empty list. A clause
// that fails to parse fails the whole field.
func ParseMeetingPatterns(raw string) ([]MeetingPattern, error) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.EqualFold(text, DoesNotMeet) {
		return []MeetingPattern{}, nil
	}

	patterns := make([]MeetingPattern, 0, 4)
	for _, clause := range strings.Split(text, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parsed, err := parseClause(raw, clause)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, parsed...)
	}
	if len(patterns) == 0 {
		return nil, newError(KindInvalidMeetingPattern, raw, "no meeting clauses found", nil)
	}
	return patterns, nil
}

func parseClause(raw, clause string) ([]MeetingPattern, error) {
	fields := strings.Fields(clause)
	if len(fields) < 2 {
		return nil, newError(KindInvalidMeetingPattern, raw, fmt.Sprintf("clause %q needs days and a time range", clause), nil)
	}

	days, err := parseDays(raw, fields[0])
	if err != nil {
		return nil, err
	}

	start, end, err := splitTimeRange(raw, strings.Join(fields[1:], ""))
	if err != nil {
		return nil, err
	}

	out := make([]MeetingPattern, 0, len(days))
	for _, day := range days {
		out = append(out, MeetingPattern{Day: day, StartMinute: start.Minutes(), EndMinute: end.Minutes()})
	}
	return out, nil
}

func parseDays(raw, token string) ([]Day, error) {
	days := make([]Day, 0, len(token))
	for _, r := range strings.ToUpper(token) {
		day, ok := validDays[r]
		if !ok {
			return nil, newError(KindInvalidMeetingPattern, raw, fmt.Sprintf("unknown day code %q", r), nil)
		}
		days = append(days, day)
	}
	return days, nil
}

// splitTimeRange splits at the first '-' immediately preceded by 'm' or 'M'.
func splitTimeRange(raw, token string) (ClockTime, ClockTime, error) {
	idx := -1
	for i := 1; i < len(token); i++ {
		if token[i] == '-' && (token[i-1] == 'm' || token[i-1] == 'M') {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ClockTime{}, ClockTime{}, newError(KindInvalidMeetingPattern, raw, fmt.Sprintf("time range %q has no separator", token), nil)
	}

	start, err := ParseTime(token[:idx])
	if err != nil {
		return ClockTime{}, ClockTime{}, newError(KindInvalidMeetingPattern, raw, "invalid start time", err)
	}
	end, err := ParseTime(token[idx+1:])
	if err != nil {
		return ClockTime{}, ClockTime{}, newError(KindInvalidMeetingPattern, raw, "invalid end time", err)
	}
	if start.Minutes() >= end.Minutes() {
		return ClockTime{}, ClockTime{}, newError(KindInvalidMeetingPattern, raw, "start must be before end", nil)
	}
	return start, end, nil
}
