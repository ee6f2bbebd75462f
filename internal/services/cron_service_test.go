package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSweeper holds each sweep until released
type blockingSweeper struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (b *blockingSweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		<-b.release
	}
	if b.err != nil {
		return nil, b.err
	}
	return &SweepReport{Verified: 2, Succeeded: 1}, nil
}

func TestCronService_RunReconcileNow(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the report and remembers it", func(t *testing.T) {
		svc := NewCronService(&blockingSweeper{}, "0 */10 * * * *", quietLogger())

		report, err := svc.RunReconcileNow(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, report.Verified)
		status := svc.GetJobStatus()
		assert.Equal(t, report, status["last_report"])
		assert.Equal(t, false, status["sweep_running"])
		assert.Contains(t, status, "last_run_at")
		assert.NotContains(t, status, "last_error")
	})

	t.Run("a second run while one is in flight is refused", func(t *testing.T) {
		sweeper := &blockingSweeper{started: make(chan struct{}), release: make(chan struct{})}
		svc := NewCronService(sweeper, "0 */10 * * * *", quietLogger())

		done := make(chan error, 1)
		go func() {
			_, err := svc.RunReconcileNow(ctx)
			done <- err
		}()
		<-sweeper.started

		_, err := svc.RunReconcileNow(ctx)
		assert.ErrorIs(t, err, ErrSweepRunning)
		assert.Equal(t, true, svc.GetJobStatus()["sweep_running"])

		close(sweeper.release)
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("sweep did not finish")
		}
	})

	t.Run("failure is recorded", func(t *testing.T) {
		svc := NewCronService(&blockingSweeper{err: errors.New("db down")}, "0 */10 * * * *", quietLogger())

		_, err := svc.RunReconcileNow(ctx)

		assert.EqualError(t, err, "db down")
		assert.Equal(t, "db down", svc.GetJobStatus()["last_error"])
	})
}

func TestCronService_Start(t *testing.T) {
	t.Run("schedules the sweep", func(t *testing.T) {
		svc := NewCronService(&blockingSweeper{}, "0 */10 * * * *", quietLogger())

		require.NoError(t, svc.Start())
		defer svc.Stop()

		status := svc.GetJobStatus()
		assert.Equal(t, true, status["scheduled"])
		assert.Equal(t, 1, status["job_count"])
	})

	t.Run("rejects a bad schedule", func(t *testing.T) {
		svc := NewCronService(&blockingSweeper{}, "every ten minutes", quietLogger())
		assert.Error(t, svc.Start())
	})

	t.Run("schedules cleanup jobs alongside the sweep", func(t *testing.T) {
		svc := NewCronService(&blockingSweeper{}, "0 */10 * * * *", quietLogger())
		svc.AddCleanup("guest_access_attempts", "0 0 * * * *", &countingCleaner{})

		require.NoError(t, svc.Start())
		defer svc.Stop()

		assert.Equal(t, 2, svc.GetJobStatus()["job_count"])
	})

	t.Run("rejects a bad cleanup schedule", func(t *testing.T) {
		svc := NewCronService(&blockingSweeper{}, "0 */10 * * * *", quietLogger())
		svc.AddCleanup("guest_access_attempts", "hourly-ish", &countingCleaner{})
		assert.Error(t, svc.Start())
	})
}

type countingCleaner struct {
	calls int
	err   error
}

func (c *countingCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return 3, nil
}

func TestCronService_RunCleanup(t *testing.T) {
	svc := NewCronService(&blockingSweeper{}, "0 */10 * * * *", quietLogger())

	ok := &countingCleaner{}
	svc.runCleanup(cleanupJob{name: "ok", cleaner: ok})
	assert.Equal(t, 1, ok.calls)

	failing := &countingCleaner{err: errors.New("db down")}
	assert.NotPanics(t, func() { svc.runCleanup(cleanupJob{name: "failing", cleaner: failing}) })
	assert.Equal(t, 1, failing.calls)
}
