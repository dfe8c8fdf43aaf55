package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errTerminal = errors.New("terminal")

func classify(err error) bool { return errors.Is(err, errTransient) }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Classify: classify}

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Classify: classify}

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnTerminalError(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Classify: classify}

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errTerminal
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTerminal)
	assert.Equal(t, 1, attempts, "terminal errors must not be retried")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, Classify: classify}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, func(context.Context) error {
			attempts++
			return errTransient
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	assert.Less(t, time.Since(start), time.Second, "cancellation should stop backoff waits")
}

func TestDoSingleAttemptPolicy(t *testing.T) {
	p := Policy{MaxAttempts: 1, Classify: classify}

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
