package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openminutes/openminutes/internal/meeting"
)

func TestMain(m *testing.M) {
	retryInitialInterval = time.Millisecond
	m.Run()
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestRetry_TransientErrorsAreRetried(t *testing.T) {
	calls := 0
	err := Retry(shortCtx(t), testLog(), 5, func() error {
		calls++
		if calls < 3 {
			return meeting.Transient(errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentErrorAbortsImmediately(t *testing.T) {
	calls := 0
	permErr := meeting.PermanentInput("undecodable audio")
	err := Retry(shortCtx(t), testLog(), 5, func() error {
		calls++
		return permErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var pe *meeting.PermanentInputError
	assert.True(t, errors.As(err, &pe))
}

func TestRetry_ExhaustionReturnsLastTransient(t *testing.T) {
	calls := 0
	err := Retry(shortCtx(t), testLog(), 2, func() error {
		calls++
		return meeting.Transient(errors.New("rate limited"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.True(t, meeting.IsTransient(err))
}

// shortCtx keeps backoff waits from stalling the test run if a case
// regresses into unbounded retries.
func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
