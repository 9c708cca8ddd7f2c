package cronsched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dankermu/digital-earth/internal/retryutil"
)

func TestNewRejectsInvalidCronExpr(t *testing.T) {
	_, err := New(func(ctx context.Context) (Result, error) { return Result{}, nil }, Config{CronExpr: "not a cron expr"})
	require.Error(t, err)
}

func TestNewAcceptsStandardCronExpr(t *testing.T) {
	sched, err := New(func(ctx context.Context) (Result, error) { return Result{}, nil }, Config{CronExpr: "0 * * * *"})
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestRunOnceSucceeds(t *testing.T) {
	var calls int32
	sched, err := New(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{Message: "ok"}, nil
	}, Config{CronExpr: "0 * * * *", MaxRetries: 1, Backoff: retryutil.Backoff{Base: time.Millisecond}})
	require.NoError(t, err)

	sched.runOnce(context.Background())
	assert.Equal(t, int32(1), calls)

	status := sched.GetStatus()
	assert.False(t, status.Running)
	assert.NoError(t, status.LastErr)
	assert.False(t, status.LastRun.IsZero())
}

func TestRunOnceRetriesThenRecordsError(t *testing.T) {
	sched, err := New(func(ctx context.Context) (Result, error) {
		return Result{}, errors.New("boom")
	}, Config{CronExpr: "0 * * * *", MaxRetries: 2, Backoff: retryutil.Backoff{Base: time.Millisecond, MaxWait: 2 * time.Millisecond}})
	require.NoError(t, err)

	sched.runOnce(context.Background())
	status := sched.GetStatus()
	assert.Error(t, status.LastErr)
}

func TestTriggerDebouncedCollapsesRapidCalls(t *testing.T) {
	var calls int32
	sched, err := New(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, nil
	}, Config{CronExpr: "0 * * * *", MaxRetries: 1, DebounceDuration: 20 * time.Millisecond})
	require.NoError(t, err)

	sched.TriggerDebounced()
	sched.TriggerDebounced()
	sched.TriggerDebounced()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStartStopRunsLoopCleanly(t *testing.T) {
	sched, err := New(func(ctx context.Context) (Result, error) { return Result{}, nil }, Config{CronExpr: "0 * * * *"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	cancel()
	sched.Stop()
}
