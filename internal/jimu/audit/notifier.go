// Package audit posts concise notices about automation activity to the
// Matrix audit room so operators can follow what the engine did without
// tailing the SQLite logs.
//
// Every notice carries the originating trace ID; `/jimu logs trace <id>`
// shows the full automation log for it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Jimu/common/retry"
	"github.com/bdobrica/Jimu/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindPlanExecuted      Kind = "plan.executed"
	KindPlanFailed        Kind = "plan.failed"
	KindApprovalRequested Kind = "approval.requested"
	KindApprovalApproved  Kind = "approval.approved"
	KindApprovalDenied    Kind = "approval.denied"
	KindPlaybookChanged   Kind = "playbook.changed"
	KindPlaybookRun       Kind = "playbook.run"
	KindRoutineChanged    Kind = "routine.changed"
	KindRoutineRun        Kind = "routine.run"
	KindError             Kind = "error"
)

// Event carries the data that the audit notifier formats and sends.
type Event struct {
	Kind Kind
	// Actor is the operator (Matrix user ID or CLI user) behind the event.
	Actor string
	// Target is the primary resource: entity type, playbook or routine.
	Target  string
	Message string
	// TraceID defaults to the trace in the context.
	TraceID   string
	Timestamp time.Time
}

// Notifier sends audit room notices. Send failures are logged, never
// returned.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sender is the subset of the Matrix client needed by MatrixNotifier.
type Sender interface {
	SendNotice(roomID, message string) error
}

// MatrixNotifier posts formatted notices to a Matrix audit room.
type MatrixNotifier struct {
	sender Sender
	roomID string
	retry  retry.Config
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	cfg := retry.DefaultConfig
	cfg.Op = "audit notice"
	return &MatrixNotifier{sender: sender, roomID: roomID, retry: cfg}
}

// Notify formats evt and posts it to the audit room, retrying transient
// failures.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}

	msg := Format(ctx, evt)
	err := retry.Do(ctx, n.retry, func(context.Context) error {
		return n.sender.SendNotice(n.roomID, msg)
	})
	if err != nil {
		slog.Warn("audit notifier: failed to send room notice",
			"room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	slog.Debug("audit notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
}

// Format renders evt as the notice text.
func Format(ctx context.Context, evt Event) string {
	tid := evt.TraceID
	if tid == "" {
		tid = trace.FromContext(ctx)
	}

	icon := kindIcon(evt.Kind)
	msg := fmt.Sprintf("%s [%s] %s", icon, evt.Kind, evt.Message)
	if evt.Target != "" {
		msg = fmt.Sprintf("%s %s → %s", icon, evt.Target, evt.Message)
	}
	if tid != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, tid)
	}
	if evt.Actor != "" {
		msg = fmt.Sprintf("%s\n  actor: %s", msg, evt.Actor)
	}
	return msg
}

// Noop is a no-op Notifier used when audit room notifications are disabled.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ Event) {}

// Recorder keeps events in memory. The CLI and tests use it.
type Recorder struct {
	Events []Event
}

// Notify appends evt.
func (r *Recorder) Notify(_ context.Context, evt Event) {
	r.Events = append(r.Events, evt)
}

func kindIcon(k Kind) string {
	switch k {
	case KindPlanExecuted:
		return "✅"
	case KindPlanFailed:
		return "❌"
	case KindApprovalRequested:
		return "🔔"
	case KindApprovalApproved:
		return "👍"
	case KindApprovalDenied:
		return "🚫"
	case KindPlaybookChanged:
		return "📝"
	case KindPlaybookRun, KindRoutineRun:
		return "▶️"
	case KindRoutineChanged:
		return "🗓️"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
