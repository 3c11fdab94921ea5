package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/ingest"
	"github.com/WordPress/openverse-api/internal/logger"
)

type fakeIndexer struct {
	mu         sync.Mutex
	reindexed  []string
	aliased    []string
	deleted    []string
	updated    []string
	failDelete error
}

func (f *fakeIndexer) Reindex(_ context.Context, _ domain.MediaType, targetIndex string, progress func(float64)) error {
	progress(50)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed = append(f.reindexed, targetIndex)
	return nil
}

func (f *fakeIndexer) UpdateIndex(_ context.Context, _ domain.MediaType, index, sinceDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, index+"@"+sinceDate)
	return nil
}

func (f *fakeIndexer) PointAlias(_ context.Context, targetIndex, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliased = append(f.aliased, targetIndex+"->"+alias)
	return nil
}

func (f *fakeIndexer) DeleteIndex(_ context.Context, _ domain.MediaType, alias, suffix string, _ bool) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, alias+suffix)
	return nil
}

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []domain.MediaType
}

func (f *fakeRefresher) Refresh(_ context.Context, model domain.MediaType, progress func(float64)) error {
	progress(100)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, model)
	return nil
}

func newTestRunner(indexer *fakeIndexer, refresher *fakeRefresher) (*Runner, *Tracker) {
	tracker := NewTracker()
	runner := NewRunner(
		tracker, indexer, refresher,
		nil, nil,
		&fakeStats{}, &fakeNotifier{}, logger.NewNop(),
	)
	return runner, tracker
}

func waitForTask(t *testing.T, task *Task) Status {
	t.Helper()
	require.Eventually(t, func() bool { return !task.Alive() },
		5*time.Second, 10*time.Millisecond)
	return task.Snapshot()
}

func TestRunnerReindex(t *testing.T) {
	indexer := &fakeIndexer{}
	runner, tracker := newTestRunner(indexer, &fakeRefresher{})

	task, err := runner.Run(Request{Model: "image", Action: "REINDEX", IndexSuffix: "abc"}, ActionReindex)
	require.NoError(t, err)

	status := waitForTask(t, task)
	assert.Equal(t, float64(100), status.Progress)
	assert.Empty(t, status.Error)
	assert.Equal(t, []string{"image-abc"}, indexer.reindexed)
	assert.Empty(t, indexer.aliased, "reindex without alias must not touch aliases")

	listed := tracker.List()
	require.Len(t, listed, 1)
	assert.Equal(t, task.ID, listed[0].TaskID)
}

func TestRunnerReindexWithAliasPromotes(t *testing.T) {
	indexer := &fakeIndexer{}
	runner, _ := newTestRunner(indexer, &fakeRefresher{})

	task, err := runner.Run(Request{
		Model: "image", Action: "REINDEX", IndexSuffix: "abc", Alias: "image",
	}, ActionReindex)
	require.NoError(t, err)

	waitForTask(t, task)
	assert.Equal(t, []string{"image-abc->image"}, indexer.aliased)
}

func TestRunnerPointAlias(t *testing.T) {
	indexer := &fakeIndexer{}
	runner, _ := newTestRunner(indexer, &fakeRefresher{})

	task, err := runner.Run(Request{
		Model: "audio", Action: "POINT_ALIAS", IndexSuffix: "xyz", Alias: "audio",
	}, ActionPointAlias)
	require.NoError(t, err)

	waitForTask(t, task)
	assert.Equal(t, []string{"audio-xyz->audio"}, indexer.aliased)
}

func TestRunnerUpdateIndex(t *testing.T) {
	indexer := &fakeIndexer{}
	runner, _ := newTestRunner(indexer, &fakeRefresher{})

	task, err := runner.Run(Request{
		Model: "image", Action: "UPDATE_INDEX", SinceDate: "2026-01-01",
	}, ActionUpdateIndex)
	require.NoError(t, err)

	waitForTask(t, task)
	assert.Equal(t, []string{"image@2026-01-01"}, indexer.updated)
}

func TestRunnerIngestUpstream(t *testing.T) {
	indexer := &fakeIndexer{}
	refresher := &fakeRefresher{}
	runner, _ := newTestRunner(indexer, refresher)

	task, err := runner.Run(Request{
		Model: "image", Action: "INGEST_UPSTREAM", IndexSuffix: "fresh",
	}, ActionIngestUpstream)
	require.NoError(t, err)

	status := waitForTask(t, task)
	assert.Equal(t, float64(100), status.Progress)
	assert.Equal(t, []domain.MediaType{domain.MediaImage}, refresher.refreshed)
	assert.Equal(t, []string{"image-fresh"}, indexer.reindexed)
	assert.Equal(t, []string{"image-fresh->image"}, indexer.aliased)
}

func TestRunnerBadRequestFailure(t *testing.T) {
	indexer := &fakeIndexer{
		failDelete: fmt.Errorf("cannot delete serving index: %w", ingest.ErrBadRequest),
	}
	runner, _ := newTestRunner(indexer, &fakeRefresher{})

	task, err := runner.Run(Request{
		Model: "image", Action: "DELETE_INDEX", IndexSuffix: "abc",
	}, ActionDeleteIndex)
	require.Error(t, err, "a rejected delete fails the launch, not just the task status")
	assert.ErrorIs(t, err, ingest.ErrBadRequest)

	status := waitForTask(t, task)
	assert.True(t, status.IsBadRequest)
	assert.Contains(t, status.Error, "cannot delete serving index")
	assert.Less(t, status.Progress, float64(100))
}
