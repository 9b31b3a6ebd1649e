package parse

import (
	"errors"
	"testing"
)

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"9am", 540},
		{"9:05am", 545},
		{"2:15pm", 855},
		{"12am", 0},
		{"12pm", 720},
		{"12:30AM", 30},
		{" 11:59 pm ", 1439},
		{"1PM", 780},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTime(tc.in)
			if err != nil {
				t.Fatalf("ParseTime(%q) returned error: %v", tc.in, err)
			}
			if got.Minutes() != tc.want {
				t.Fatalf("ParseTime(%q) = %d, want %d", tc.in, got.Minutes(), tc.want)
			}
		})
	}
}

func TestParseTime_Rejects(t *testing.T) {
	for _, in := range []string{"", "9", "13pm", "0am", "9:60am", "9:5am", "noon", "9am-10am", "09:00"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTime(in)
			if !errors.Is(err, ErrInvalidTime) {
				t.Fatalf("expected ErrInvalidTime for %q, got %v", in, err)
			}
			var pErr *Error
			if !errors.As(err, &pErr) || pErr.Raw != in {
				t.Fatalf("expected *Error carrying raw input %q, got %#v", in, err)
			}
		})
	}
}

func TestFormatTime_RoundTrip(t *testing.T) {
	for _, in := range []string{"9am", "9:05am", "12am", "12pm", "12:01am", "3:15PM", "11:59pm"} {
		first, err := ParseTime(in)
		if err != nil {
			t.Fatalf("ParseTime(%q): %v", in, err)
		}
		again, err := ParseTime(FormatTime(first.Minutes()))
		if err != nil {
			t.Fatalf("re-parse of %q failed: %v", FormatTime(first.Minutes()), err)
		}
		if again != first {
			t.Fatalf("round trip of %q changed value: %d -> %d", in, first.Minutes(), again.Minutes())
		}
	}

	for minute := 0; minute < MinutesPerDay; minute++ {
		parsed, err := ParseTime(FormatTime(minute))
		if err != nil || parsed.Minutes() != minute {
			t.Fatalf("FormatTime(%d) = %q does not re-parse (got %d, err %v)", minute, FormatTime(minute), parsed.Minutes(), err)
		}
	}
}

func TestFormatTime_Canonical(t *testing.T) {
	if got := FormatTime(0); got != "12:00am" {
		t.Fatalf("FormatTime(0) = %q", got)
	}
	if got := FormatTime(720); got != "12:00pm" {
		t.Fatalf("FormatTime(720) = %q", got)
	}
	if got := FormatTime(545); got != "9:05am" {
		t.Fatalf("FormatTime(545) = %q", got)
	}
}
