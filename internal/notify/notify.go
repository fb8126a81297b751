// Package notify defines the push-notification delivery contract events
// can be forwarded through (operator-facing alerts, worker stall
// warnings) and a logging-only default implementation. Per DESIGN.md/
// SPEC_FULL.md §9, wiring a real transport (Discord, Slack) is out of
// kernel scope: delivery is fire-and-forget and a failure here must never
// surface back into the dispatch/event path, so the interface is kept
// deliberately narrow.
package notify

import (
	"context"
	"log/slog"

	"github.com/agentkanban/orchestrator/internal/types"
)

// Notifier delivers an event to some external channel. Implementations
// must not block the caller for long and must swallow their own
// delivery failures (log them, don't return them upstream) — Send's
// error return exists only so a Notifier can report a failure to its own
// caller's logs; internal/events never acts on it.
type Notifier interface {
	Send(ctx context.Context, event types.Event) error
}

// LogNotifier is the default Notifier: it writes the event to the
// structured logger and never fails. Every orchestrator deployment gets
// this unless an operator wires a real transport behind the same
// interface.
type LogNotifier struct{}

// Send logs event at a level matching its severity. It never returns an
// error: a logging sink can't meaningfully fail in a way a caller should
// act on.
func (LogNotifier) Send(_ context.Context, event types.Event) error {
	attrs := []any{"type", event.Type, "task_id", event.TaskID, "worker_id", event.WorkerID}
	switch event.Level {
	case types.LevelCritical, types.LevelError:
		slog.Error(event.Message, attrs...)
	case types.LevelWarning:
		slog.Warn(event.Message, attrs...)
	default:
		slog.Info(event.Message, attrs...)
	}
	return nil
}

// FanOut broadcasts an event to every configured Notifier, logging (but
// not propagating) any individual delivery failure so one bad channel
// never blocks the others.
func FanOut(ctx context.Context, notifiers []Notifier, event types.Event) {
	for _, n := range notifiers {
		if err := n.Send(ctx, event); err != nil {
			slog.Error("notifier delivery failed", "error", err, "event_type", event.Type)
		}
	}
}
