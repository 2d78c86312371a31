package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presencepro/platform/pkg/config"
)

func newTestSweeper(t *testing.T) (*Sweeper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.NotifierConfig{SweepInterval: time.Minute, SweepLeaseTTL: 30 * time.Second}
	return NewSweeper(nil, nil, nil, client, zap.NewNop(), cfg), mr
}

func TestRunLeasedIsSingleFlight(t *testing.T) {
	sweeper, _ := newTestSweeper(t)

	runs := 0
	job := func() error {
		runs++
		return nil
	}

	key := leaseKey("retry", "202603020815")
	sweeper.runLeased(context.Background(), "retry_resubmit", key, 30*time.Second, job)
	sweeper.runLeased(context.Background(), "retry_resubmit", key, 30*time.Second, job)

	assert.Equal(t, 1, runs)
}

func TestRunLeasedRunsAgainAfterLeaseExpiry(t *testing.T) {
	sweeper, mr := newTestSweeper(t)

	runs := 0
	job := func() error {
		runs++
		return nil
	}

	key := leaseKey("retry", "202603020816")
	sweeper.runLeased(context.Background(), "retry_resubmit", key, 30*time.Second, job)
	mr.FastForward(31 * time.Second)
	sweeper.runLeased(context.Background(), "retry_resubmit", key, 30*time.Second, job)

	assert.Equal(t, 2, runs)
}

func TestRunLeasedSkipsJobWhenStoreIsDown(t *testing.T) {
	sweeper, mr := newTestSweeper(t)
	mr.Close()

	runs := 0
	sweeper.runLeased(context.Background(), "retry_resubmit", leaseKey("retry", "x"), 30*time.Second, func() error {
		runs++
		return nil
	})

	assert.Equal(t, 0, runs)
}

func TestRunLeasedKeepsLeaseOnJobError(t *testing.T) {
	sweeper, mr := newTestSweeper(t)

	key := leaseKey("digest", "20260302")
	sweeper.runLeased(context.Background(), "daily_digest", key, dailyLeaseTTL, func() error {
		return errors.New("boom")
	})

	// The lease stays owned; the job is not retried within the window.
	require.True(t, mr.Exists(key))
	runs := 0
	sweeper.runLeased(context.Background(), "daily_digest", key, dailyLeaseTTL, func() error {
		runs++
		return nil
	})
	assert.Equal(t, 0, runs)
}
