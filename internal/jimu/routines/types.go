// Package routines binds playbooks to a recurring schedule and runs them
// unattended.
//
// The package has no timer of its own. An external trigger (the app ticker
// or `jimuctl routines tick`) calls Scheduler.RunDue, which runs every
// active routine whose next_run_at has passed.
package routines

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
)

// ErrNotFound is returned when no routine has the given ID.
var ErrNotFound = errors.New("routine not found")

// Frequency is how often a routine fires.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// ParseFrequency validates s.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q (want daily, weekly, monthly or custom)", s)
}

const day = 24 * time.Hour

// NextRun returns when a routine with frequency f should next fire after
// from. Months are a fixed 30 days. A custom frequency uses cronExpr when
// set and falls back to daily otherwise.
func NextRun(f Frequency, cronExpr string, from time.Time) (time.Time, error) {
	switch f {
	case FrequencyDaily:
		return from.Add(day), nil
	case FrequencyWeekly:
		return from.Add(7 * day), nil
	case FrequencyMonthly:
		return from.Add(30 * day), nil
	case FrequencyCustom:
		if strings.TrimSpace(cronExpr) == "" {
			return from.Add(day), nil
		}
		sched, err := ParseCron(cronExpr)
		if err != nil {
			return time.Time{}, err
		}
		next := sched.Next(from)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", cronExpr)
		}
		return next, nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", f)
}

// Routine binds a playbook to a schedule.
type Routine struct {
	ID          string
	PlaybookID  string
	Owner       string
	Frequency   Frequency
	CronExpr    string
	NextRunAt   time.Time
	LastRunAt   *time.Time
	Active      bool
	NotifyOwner bool
	CreatedAt   time.Time
}

// LogStatus is the outcome of one routine run.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
	LogPending LogStatus = "pending"
)

// Log records one routine run. Logs are never modified after insert and
// outlive their routine.
type Log struct {
	ID            string
	RoutineID     string
	PlaybookID    string
	RunAt         time.Time
	Status        LogStatus
	StepResults   []playbooks.StepResult
	ErrorMessage  string
	TotalAffected int
}
