package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRedeliverer struct{ calls atomic.Int32 }

func (c *countingRedeliverer) RedeliverDue(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

type countingExpirer struct {
	calls atomic.Int32
	ttl   atomic.Int64
}

func (c *countingExpirer) ExpirePendingMatches(ctx context.Context, ttl time.Duration) (int, error) {
	c.calls.Add(1)
	c.ttl.Store(int64(ttl))
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerRunsJobs(t *testing.T) {
	outcomes := &countingRedeliverer{}
	matches := &countingExpirer{}

	w, err := Start(context.Background(), Config{
		OutcomeSweepInterval: 20 * time.Millisecond,
		PendingMatchTTL:      30 * time.Minute,
	}, outcomes, matches, discardLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Shutdown()) }()

	require.Eventually(t, func() bool {
		return outcomes.calls.Load() >= 2 && matches.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(30*time.Minute), matches.ttl.Load())
}

func TestWorkerSkipsExpiryWithoutTTL(t *testing.T) {
	matches := &countingExpirer{}

	w, err := Start(context.Background(), Config{OutcomeSweepInterval: 10 * time.Millisecond}, nil, matches, discardLogger())
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, w.Shutdown())
	assert.Zero(t, matches.calls.Load())
}
