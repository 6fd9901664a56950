package routines

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a compiled 5-field cron expression:
//
//	minute(0-59)  hour(0-23)  day-of-month(1-31)  month(1-12)  day-of-week(0-6)
type CronSchedule struct {
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int

	// A day matches either day field when both are restricted.
	eitherDay bool
}

// ParseCron compiles expr. Each field accepts "*", "*/N", "N", "N-M",
// "N-M/S", "N/S" and comma lists of single values. As in standard cron,
// when neither day-of-month nor day-of-week starts with "*" a day matching
// either field fires.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have exactly 5 fields, got %d in %q", len(fields), expr)
	}

	s := &CronSchedule{}
	specs := []struct {
		name   string
		lo, hi int
		dest   *[]int
	}{
		{"minute", 0, 59, &s.minute},
		{"hour", 0, 23, &s.hour},
		{"day-of-month", 1, 31, &s.dayOfMonth},
		{"month", 1, 12, &s.month},
		{"day-of-week", 0, 6, &s.dayOfWeek},
	}

	for i, spec := range specs {
		vals, err := parseCronField(fields[i], spec.lo, spec.hi)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", spec.name, fields[i], err)
		}
		*spec.dest = vals
	}
	s.eitherDay = !strings.HasPrefix(fields[2], "*") && !strings.HasPrefix(fields[4], "*")
	return s, nil
}

func parseCronField(field string, lo, hi int) ([]int, error) {
	if idx := strings.LastIndex(field, "/"); idx != -1 {
		step, err := strconv.Atoi(field[idx+1:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value %q", field[idx+1:])
		}
		start, end, err := cronBounds(field[:idx], lo, hi)
		if err != nil {
			return nil, err
		}
		var vals []int
		for v := start; v <= end; v += step {
			vals = append(vals, v)
		}
		return vals, nil
	}

	if strings.Contains(field, ",") {
		seen := make(map[int]bool)
		var vals []int
		for _, p := range strings.Split(field, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid list value %q", p)
			}
			if v < lo || v > hi {
				return nil, fmt.Errorf("value %d out of range [%d, %d]", v, lo, hi)
			}
			if !seen[v] {
				seen[v] = true
				vals = append(vals, v)
			}
		}
		sort.Ints(vals)
		return vals, nil
	}

	if field == "*" || strings.Contains(field, "-") {
		start, end, err := cronBounds(field, lo, hi)
		if err != nil {
			return nil, err
		}
		vals := make([]int, 0, end-start+1)
		for v := start; v <= end; v++ {
			vals = append(vals, v)
		}
		return vals, nil
	}

	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", field)
	}
	if v < lo || v > hi {
		return nil, fmt.Errorf("value %d out of range [%d, %d]", v, lo, hi)
	}
	return []int{v}, nil
}

// cronBounds resolves the base of a field ("*", "N-M" or a lone "N", which
// runs to the end of the range) to an inclusive interval.
func cronBounds(base string, lo, hi int) (int, int, error) {
	start, end := lo, hi
	switch {
	case base == "*":
	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)
		s, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range start %q", parts[0])
		}
		e, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range end %q", parts[1])
		}
		start, end = s, e
	default:
		s, err := strconv.Atoi(base)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid value %q", base)
		}
		start = s
	}
	if start < lo || end > hi || start > end {
		return 0, 0, fmt.Errorf("range [%d, %d] out of bounds [%d, %d]", start, end, lo, hi)
	}
	return start, end, nil
}

// Next returns the first minute strictly after t that matches the
// schedule, or the zero time when nothing matches within a year.
func (s *CronSchedule) Next(t time.Time) time.Time {
	c := t.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 366*24*60; i++ {
		if containsInt(s.month, int(c.Month())) &&
			s.matchesDay(c) &&
			containsInt(s.hour, c.Hour()) &&
			containsInt(s.minute, c.Minute()) {
			return c
		}
		c = c.Add(time.Minute)
	}
	return time.Time{}
}

func (s *CronSchedule) matchesDay(t time.Time) bool {
	dom := containsInt(s.dayOfMonth, t.Day())
	dow := containsInt(s.dayOfWeek, int(t.Weekday()))
	if s.eitherDay {
		return dom || dow
	}
	return dom && dow
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
