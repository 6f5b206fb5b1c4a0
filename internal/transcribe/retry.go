package transcribe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/meeting"
)

// retryInitialInterval is the first backoff wait; tests shrink it.
var retryInitialInterval = 2 * time.Second

// Retry runs op with exponential backoff. Only errors classified as
// transient (meeting.TransientError) are retried, up to maxRetries
// additional attempts; everything else aborts immediately. Once retries
// exhaust, the last transient error is returned and becomes a terminal
// stage failure in the orchestrator.
func Retry(ctx context.Context, log *logrus.Entry, maxRetries int, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 30 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if meeting.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait.Round(time.Millisecond)).
			Warn("transient provider error, retrying")
	})
}
