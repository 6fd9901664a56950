// Package playbooks stores named, ordered lists of natural-language steps
// and runs them through the engine one step at a time.
package playbooks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no playbook has the given ID.
	ErrNotFound = errors.New("playbook not found")
	// ErrTitleTaken is returned when the owner already has a playbook with
	// the same title.
	ErrTitleTaken = errors.New("playbook title already in use")
)

// Step is one instruction of a playbook. Steps are re-parsed on every run.
type Step struct {
	InputText            string `json:"input_text"`
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
}

// Playbook is a named, reusable sequence of steps.
type Playbook struct {
	ID          string
	Owner       string
	Title       string
	Description string
	Steps       []Step
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Patch describes an edit. Nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Steps       []Step
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	return nil
}

func validateSteps(steps []Step) error {
	for i, s := range steps {
		if strings.TrimSpace(s.InputText) == "" {
			return fmt.Errorf("step %d: input text must not be empty", i+1)
		}
	}
	return nil
}

// stepLines renders steps one per line for diffs and chat output.
func stepLines(steps []Step) []string {
	lines := make([]string, len(steps))
	for i, s := range steps {
		line := fmt.Sprintf("%d. %s", i+1, s.InputText)
		if s.RequiresConfirmation {
			line += " [confirm]"
		}
		lines[i] = line
	}
	return lines
}

// Format renders a playbook for display.
func (p *Playbook) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", p.Title, p.ID)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n", p.Description)
	}
	for _, l := range stepLines(p.Steps) {
		fmt.Fprintf(&b, "  %s\n", l)
	}
	return b.String()
}
