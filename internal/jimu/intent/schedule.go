package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date and time layouts used by Schedule.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Schedule is a deferred-execution hint found in the text. Either field may
// be empty; Date is YYYY-MM-DD and Time is HH:MM (24h).
type Schedule struct {
	Date string `json:"date,omitempty" yaml:"date,omitempty"`
	Time string `json:"time,omitempty" yaml:"time,omitempty"`
}

// Empty reports whether neither a date nor a time was found.
func (s *Schedule) Empty() bool {
	return s == nil || (s.Date == "" && s.Time == "")
}

// Resolve turns the schedule into an instant. A missing date uses fallback's
// date, a missing time keeps fallback's time of day. The result is in
// fallback's location.
func (s *Schedule) Resolve(fallback time.Time) time.Time {
	if s.Empty() {
		return fallback
	}
	out := fallback
	if s.Date != "" {
		if d, err := time.ParseInLocation(DateLayout, s.Date, fallback.Location()); err == nil {
			out = time.Date(d.Year(), d.Month(), d.Day(),
				fallback.Hour(), fallback.Minute(), fallback.Second(), 0, fallback.Location())
		}
	}
	if s.Time != "" {
		if t, err := time.Parse(TimeLayout, s.Time); err == nil {
			out = time.Date(out.Year(), out.Month(), out.Day(), t.Hour(), t.Minute(), 0, 0, out.Location())
		}
	}
	return out
}

var (
	clockTimeRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	meridiemRe  = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// parseSchedule extracts a best-effort schedule from text. It returns nil
// when no date or time fragment was recognised.
func parseSchedule(text string, tokens []string, now time.Time) *Schedule {
	s := &Schedule{}
	if d, ok := parseDate(tokens, now); ok {
		s.Date = d.Format(DateLayout)
	}
	if t, ok := parseTime(strings.ToLower(text), tokens); ok {
		s.Time = t
	}
	if s.Empty() {
		return nil
	}
	return s
}

func parseDate(tokens []string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for i, tok := range tokens {
		if len(tok) == len(DateLayout) {
			if d, err := time.ParseInLocation(DateLayout, tok, now.Location()); err == nil {
				return d, true
			}
		}

		switch tok {
		case "today", "tonight":
			return today, true
		case "tomorrow":
			return today.AddDate(0, 0, 1), true
		case "next":
			if i+1 < len(tokens) && tokens[i+1] == "week" {
				return today.AddDate(0, 0, 7), true
			}
		case "in":
			if i+2 < len(tokens) {
				n, err := strconv.Atoi(tokens[i+1])
				if err != nil || n < 0 {
					continue
				}
				switch tokens[i+2] {
				case "day", "days":
					return today.AddDate(0, 0, n), true
				case "week", "weeks":
					return today.AddDate(0, 0, 7*n), true
				}
			}
		}

		if wd, ok := weekdays[tok]; ok {
			delta := (int(wd) - int(today.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return today.AddDate(0, 0, delta), true
		}
	}
	return time.Time{}, false
}

func parseTime(lower string, tokens []string) (string, bool) {
	if m := clockTimeRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if h, ok := applyMeridiem(h, m[3]); ok && minute < 60 {
			return fmt.Sprintf("%02d:%02d", h, minute), true
		}
	}
	if m := meridiemRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h, ok := applyMeridiem(h, m[2]); ok {
			return fmt.Sprintf("%02d:00", h), true
		}
	}
	for _, tok := range tokens {
		switch tok {
		case "noon", "midday":
			return "12:00", true
		case "midnight":
			return "00:00", true
		}
	}
	return "", false
}

// applyMeridiem converts a 12h hour to 24h. An empty meridiem accepts 0-23.
func applyMeridiem(h int, meridiem string) (int, bool) {
	switch meridiem {
	case "":
		return h, h >= 0 && h < 24
	case "am":
		if h < 1 || h > 12 {
			return 0, false
		}
		if h == 12 {
			return 0, true
		}
		return h, true
	case "pm":
		if h < 1 || h > 12 {
			return 0, false
		}
		if h == 12 {
			return 12, true
		}
		return h + 12, true
	}
	return 0, false
}
