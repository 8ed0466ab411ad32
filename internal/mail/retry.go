package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetrySender retries transient delivery failures with exponential backoff
// starting at delay.
//
// RETRY POLICY:
//
//	network errors, 4xx replies → retried, up to maxTries attempts in total
//	AUTH failures, 5xx replies   → returned immediately
type RetrySender struct {
	next     Sender
	maxTries uint
	delay    time.Duration
	logger   *slog.Logger
}

var _ Sender = (*RetrySender)(nil)

// NewRetrySender wraps next. maxTries below 1 is treated as 1.
func NewRetrySender(next Sender, maxTries int, delay time.Duration, logger *slog.Logger) *RetrySender {
	if maxTries < 1 {
		maxTries = 1
	}
	return &RetrySender{next: next, maxTries: uint(maxTries), delay: delay, logger: logger}
}

func (s *RetrySender) Send(ctx context.Context, msg Message) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := s.next.Send(ctx, msg)
		if err != nil && permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("mail delivery failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("mail: sending to %s after %d attempt(s): %w", msg.To, attempt, err)
	}
	return nil
}

// backOff doubles the wait after each failure, with jitter, up to eight
// times the initial delay.
func (s *RetrySender) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.delay
	b.MaxInterval = 8 * s.delay
	b.Reset()
	return b
}

// permanent reports whether err cannot be fixed by trying again.
func permanent(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 500
	}
	return false
}
