/*
Package notify delivers approval notifications after a transition commits.

PURPOSE:
  The approval workflow only knows the fees.Publisher interface. This
  package supplies the publishers wired by the server:

    LogNotifier  writes one structured log line per notification
    Multi        fans a notification out to several publishers
    Dispatcher   queues notifications and delivers them on a worker
                 goroutine so a slow publisher never holds up a request
    Func         adapts a plain function (handy in tests)

  Every publisher is best-effort. Errors are reported to the caller (or
  logged by the Dispatcher) and never undo the approval transition.

USAGE:
  d := notify.NewDispatcher(notify.Multi{
      notify.NewLogNotifier(logger),
      m.ApprovalPublisher(),
  }, logger, notify.DispatcherOptions{})
  defer d.Close(context.Background())

  workflow := &fees.ApprovalWorkflow{Structures: catalog, Publisher: d}

SEE ALSO:
  - fees/approval.go: ApprovalWorkflow.Publish
*/
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier records notifications in the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Publish(_ context.Context, note fees.Notification) error {
	fields := []zap.Field{
		zap.String("event", string(note.Kind)),
		zap.String("approval_id", note.Approval.ID),
		zap.String("fee_structure_id", note.Structure.ID),
		zap.String("hostel_id", note.Structure.HostelID),
		zap.String("room_type", note.Structure.RoomType),
		zap.String("fee_type", string(note.Structure.FeeType)),
		zap.String("requested_amount", note.Approval.RequestedAmount.String()),
		zap.String("actor", note.ActorID),
		zap.Time("occurred_at", note.OccurredAt),
	}
	if note.Approval.PreviousAmount != nil {
		fields = append(fields, zap.String("previous_amount", note.Approval.PreviousAmount.String()))
	}
	if note.Note != "" {
		fields = append(fields, zap.String("note", note.Note))
	}
	n.logger.Info("fee approval "+string(note.Kind), fields...)
	return nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi publishes to every member, even when an earlier one fails, and
// joins the errors.
type Multi []fees.Publisher

func (m Multi) Publish(ctx context.Context, note fees.Notification) error {
	var errs []error
	for i, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to fees.Publisher.
type Func func(ctx context.Context, note fees.Notification) error

func (f Func) Publish(ctx context.Context, note fees.Notification) error {
	return f(ctx, note)
}
