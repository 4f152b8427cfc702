package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScheduler() *Scheduler {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
}

func TestAddJobRejectsBadScheduleAndDuplicates(t *testing.T) {
	s := testScheduler()
	noop := func(context.Context) error { return nil }

	require.Error(t, s.AddJob("purge", "not a schedule", noop))
	require.NoError(t, s.AddJob("purge", "@every 1h", noop))
	require.Error(t, s.AddJob("purge", "@every 2h", noop))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "purge", jobs[0].Name)
}

func TestRunNowPassesDeadline(t *testing.T) {
	s := testScheduler()

	err := s.RunNow(context.Background(), "purge", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestRunNowHonorsCallerContext(t *testing.T) {
	s := testScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunNow(ctx, "purge", func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJobsReportsNextRunAfterStart(t *testing.T) {
	s := testScheduler()
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.AddJob("reconcile", "0 3 * * *", noop))
	require.NoError(t, s.AddJob("purge", "@every 1h", noop))

	s.Start()
	defer s.Stop()

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "purge", jobs[0].Name)
	assert.Equal(t, "reconcile", jobs[1].Name)
	assert.False(t, jobs[0].NextRun.IsZero())
	assert.True(t, jobs[0].LastRun.IsZero())
}

func TestScheduledJobRuns(t *testing.T) {
	s := testScheduler()

	var runs atomic.Int32
	require.NoError(t, s.AddJob("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
}
