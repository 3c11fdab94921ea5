package tasks

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/logger"
)

type fakePromoter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakePromoter) PointAlias(_ context.Context, targetIndex, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, targetIndex+"->"+alias)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

type fakeStats struct {
	invalidated []domain.MediaType
}

func (f *fakeStats) Invalidate(mt domain.MediaType) {
	f.invalidated = append(f.invalidated, mt)
}

func TestCoordinatorPromotesOnlyOnFullSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("partial shard failure blocks promotion", func(t *testing.T) {
		promoter := &fakePromoter{}
		stats := &fakeStats{}
		coordinator := NewCoordinator(NewWorkerRegistry(), promoter, &fakeNotifier{}, stats, logger.NewNop())

		tracker := NewTracker()
		task := tracker.Add(domain.MediaImage, ActionReindex)
		done, err := coordinator.BeginJob(task, domain.MediaImage, "image-abc", "image", true,
			[]string{"10.0.0.1", "10.0.0.2", "10.0.0.3"})
		require.NoError(t, err)

		require.NoError(t, coordinator.WorkerFinished(ctx, "10.0.0.1", false))
		require.NoError(t, coordinator.WorkerFinished(ctx, "10.0.0.2", false))
		require.NoError(t, coordinator.WorkerFinished(ctx, "10.0.0.3", true))

		select {
		case <-done:
		default:
			t.Fatal("job must complete after the last callback")
		}
		task.finish()

		assert.Empty(t, promoter.calls, "alias must not move on partial failure")
		assert.Empty(t, stats.invalidated)

		status := task.Snapshot()
		assert.False(t, status.Active)
		assert.Contains(t, status.Error, "not promoted")
		assert.False(t, status.IsBadRequest)
	})

	t.Run("full success promotes and invalidates stats", func(t *testing.T) {
		promoter := &fakePromoter{}
		stats := &fakeStats{}
		notifier := &fakeNotifier{}
		coordinator := NewCoordinator(NewWorkerRegistry(), promoter, notifier, stats, logger.NewNop())

		tracker := NewTracker()
		task := tracker.Add(domain.MediaImage, ActionReindex)
		done, err := coordinator.BeginJob(task, domain.MediaImage, "image-abc", "image", true,
			[]string{"10.0.0.1", "10.0.0.2"})
		require.NoError(t, err)

		require.NoError(t, coordinator.WorkerFinished(ctx, "10.0.0.1", false))
		assert.InDelta(t, 50, task.Progress(), 0.01)
		require.NoError(t, coordinator.WorkerFinished(ctx, "10.0.0.2", false))

		<-done
		task.finish()

		assert.Equal(t, []string{"image-abc->image"}, promoter.calls)
		assert.Equal(t, []domain.MediaType{domain.MediaImage}, stats.invalidated)
		assert.Equal(t, float64(100), task.Progress())
		assert.Empty(t, task.Snapshot().Error)
	})

	t.Run("unknown origin rejected", func(t *testing.T) {
		coordinator := NewCoordinator(NewWorkerRegistry(), &fakePromoter{}, &fakeNotifier{}, nil, logger.NewNop())
		task := NewTracker().Add(domain.MediaImage, ActionReindex)
		_, err := coordinator.BeginJob(task, domain.MediaImage, "image-abc", "", false, []string{"10.0.0.1"})
		require.NoError(t, err)

		assert.Error(t, coordinator.WorkerFinished(ctx, "10.9.9.9", false))
	})

	t.Run("duplicate callback after completion is rejected", func(t *testing.T) {
		promoter := &fakePromoter{}
		coordinator := NewCoordinator(NewWorkerRegistry(), promoter, &fakeNotifier{}, &fakeStats{}, logger.NewNop())

		tracker := NewTracker()
		task := tracker.Add(domain.MediaImage, ActionReindex)
		done, err := coordinator.BeginJob(task, domain.MediaImage, "image-abc", "image", true,
			[]string{"10.0.0.1"})
		require.NoError(t, err)

		require.NoError(t, coordinator.WorkerFinished(ctx, "10.0.0.1", false))
		<-done

		assert.Error(t, coordinator.WorkerFinished(ctx, "10.0.0.1", false),
			"a second report from the same origin must be rejected, not re-enter completion")
		assert.Equal(t, []string{"image-abc->image"}, promoter.calls, "the alias must move exactly once")
	})
}

func TestWorkerRegistry(t *testing.T) {
	registry := NewWorkerRegistry()
	registry.RegisterJob([]string{"a", "b", "c", "d"})

	assert.False(t, registry.AllFinished())
	require.NoError(t, registry.WorkerFinished("a", true))
	assert.Error(t, registry.WorkerFinished("a", true), "each origin reports exactly once")
	require.NoError(t, registry.WorkerFinished("b", false))
	assert.InDelta(t, 50, registry.PercentCompleted(), 0.01)
	assert.InDelta(t, 25, registry.PercentSuccessful(), 0.01)

	require.NoError(t, registry.WorkerFinished("c", true))
	require.NoError(t, registry.WorkerFinished("d", true))
	assert.True(t, registry.AllFinished())
	assert.InDelta(t, 75, registry.PercentSuccessful(), 0.01)

	registry.Clear()
	assert.False(t, registry.AllFinished())
	assert.Error(t, registry.WorkerFinished("a", true))
}
