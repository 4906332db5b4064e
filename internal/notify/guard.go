package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketflow/internal/metrics"
	"marketflow/logger"
)

type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeSkipped
	OutcomeFailed
	OutcomeDisabled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDisabled:
		return "disabled"
	default:
		return "failed"
	}
}

// Sender delivers one message with its own fallback policy.
type Sender interface {
	Notify(ctx context.Context, text string) error
}

// Guard sends at most one notification per task per day.
type Guard struct {
	flags  FlagStore
	sender Sender
	log    *logger.Log
}

func NewGuard(flags FlagStore, sender Sender) *Guard {
	return &Guard{flags: flags, sender: sender, log: logger.GetLogger()}
}

// Once sends text unless task already notified for date. The flag is only
// written after a successful send, so a failed run can be retried the same
// day. If the flag cannot be read nothing is sent.
func (g *Guard) Once(ctx context.Context, task string, date time.Time, text string) (Outcome, error) {
	log := g.log.WithComponent("notify").WithFields(logger.Fields{
		"task": task,
		"date": date.Format("2006-01-02"),
	})

	exists, err := g.flags.Exists(ctx, task, date)
	if err != nil {
		log.WithError(err).Error("failed to read notification flag; not sending")
		return OutcomeFailed, fmt.Errorf("read flag: %w", err)
	}
	if exists {
		log.Info("notification already sent today; skipping")
		metrics.EmitMetric(g.log, "notify", metrics.MetricNotifySkipped, 1, "counter", logger.Fields{"task": task})
		return OutcomeSkipped, nil
	}

	if err := g.sender.Notify(ctx, text); err != nil {
		if errors.Is(err, ErrNotifierDisabled) {
			return OutcomeDisabled, nil
		}
		return OutcomeFailed, err
	}

	if err := g.flags.Mark(ctx, task, date); err != nil {
		log.WithError(err).Warn("notification sent but flag could not be written")
	}
	return OutcomeSent, nil
}
