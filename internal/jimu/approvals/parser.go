package approvals

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotADecision is returned when a message is not an approve or deny.
var ErrNotADecision = errors.New("not an approval decision")

// Decision is a parsed approve or deny message.
type Decision struct {
	Approve    bool
	ApprovalID string
	// Reason is optional for approve and required for deny.
	Reason string
}

// ParseDecision parses a room message of one of the forms
//
//	approve <id> [reason]
//	deny <id> reason="<text>"
//	deny <id> <text>
//
// The verb is case-insensitive. Messages starting with anything else
// return ErrNotADecision.
func ParseDecision(text string) (*Decision, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, ErrNotADecision
	}

	verb := strings.ToLower(fields[0])
	if verb != "approve" && verb != "deny" {
		return nil, ErrNotADecision
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("usage: %s <approval-id> [reason]", verb)
	}

	d := &Decision{
		Approve:    verb == "approve",
		ApprovalID: fields[1],
		Reason:     parseReason(strings.Join(fields[2:], " ")),
	}
	if !d.Approve && d.Reason == "" {
		return nil, fmt.Errorf(`deny requires a reason: deny <id> reason="<text>" or deny <id> <text>`)
	}
	return d, nil
}

// parseReason accepts reason="<text>", reason=<text> or plain text.
func parseReason(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len("reason=") && strings.EqualFold(s[:len("reason=")], "reason=") {
		s = strings.TrimSpace(strings.Trim(s[len("reason="):], `"'`))
	}
	return s
}
