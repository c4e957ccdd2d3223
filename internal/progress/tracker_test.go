package progress

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestTracker(t *testing.T, clock *fakeClock) (*Tracker, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewTracker(s, WithClock(clock.Now)), s
}

func TestCreate(t *testing.T) {
	clock := newClock()
	tr, s := newTestTracker(t, clock)
	ctx := context.Background()

	p, err := tr.Create(ctx, "camp-1", 4)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StepInitializing, p.CurrentStep)
	assert.Equal(t, int64(4*15000), p.EstimatedTimeRemaining)
	assert.Empty(t, p.Errors)
	assert.Nil(t, p.CompletedAt)

	stored, err := s.GetGenerationProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.TotalPublications)
}

func TestIncrementCompleted_RunningMean(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, err := tr.Create(ctx, "camp-1", 3)
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))

	got := tr.Get(ctx, "camp-1")
	assert.Equal(t, 1, got.CompletedPublications)
	assert.Equal(t, int64(2*4000), got.EstimatedTimeRemaining)

	clock.Advance(2 * time.Second)
	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))

	got = tr.Get(ctx, "camp-1")
	assert.Equal(t, 2, got.CompletedPublications)
	assert.Equal(t, int64(3000), got.EstimatedTimeRemaining, "mean is 6s over 2 items")

	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))
	got = tr.Get(ctx, "camp-1")
	assert.Equal(t, StepCompleted, got.CurrentStep)
	assert.Equal(t, int64(0), got.EstimatedTimeRemaining)
}

func TestIncrementCompleted_NeverExceedsTotal(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, _ := tr.Create(ctx, "camp-1", 2)
	last := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.IncrementCompleted(ctx, p.ID))
		got := tr.Get(ctx, "camp-1")
		assert.LessOrEqual(t, got.CompletedPublications, got.TotalPublications)
		assert.GreaterOrEqual(t, got.CompletedPublications, last)
		last = got.CompletedPublications
	}
	assert.Equal(t, 2, last)
}

func TestUpdateCurrentPublication(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, _ := tr.Create(ctx, "camp-1", 2)
	require.NoError(t, tr.UpdateCurrentPublication(ctx, p.ID, "item-1", models.AgentTextImage, StepGenerating))

	got := tr.Get(ctx, "camp-1")
	assert.Equal(t, "item-1", got.CurrentPublicationID)
	assert.Equal(t, models.AgentTextImage, got.CurrentAgent)
	assert.Equal(t, StepGenerating, got.CurrentStep)
	assert.Equal(t, int64(2*15000), got.EstimatedTimeRemaining)
}

func TestAddError(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, _ := tr.Create(ctx, "camp-1", 2)
	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))
	require.NoError(t, tr.AddError(ctx, p.ID, models.GenerationError{
		PublicationID: "item-2",
		AgentType:     models.AgentTextOnly,
		Error:         "Resource not found",
	}))

	got := tr.Get(ctx, "camp-1")
	require.Len(t, got.Errors, 1)
	assert.Equal(t, StepErrorHandling, got.CurrentStep)
	assert.Equal(t, 1, got.CompletedPublications)
	assert.Equal(t, clock.Now(), got.Errors[0].Timestamp)
}

func TestComplete_EvictsAndFreezes(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, _ := tr.Create(ctx, "camp-1", 2)
	require.NoError(t, tr.UpdateCurrentPublication(ctx, p.ID, "item-1", models.AgentTextOnly, StepGenerating))
	clock.Advance(time.Second)
	require.NoError(t, tr.Complete(ctx, p.ID))

	tr.mu.Lock()
	_, cached := tr.byCampaign["camp-1"]
	tr.mu.Unlock()
	assert.False(t, cached, "completed progress must be evicted")

	got := tr.Get(ctx, "camp-1")
	require.NotNil(t, got, "falls back to the store")
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.CurrentPublicationID)
	assert.Empty(t, got.CurrentAgent)
	assert.Equal(t, int64(0), got.EstimatedTimeRemaining)

	// Completed records are immutable
	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))
	require.NoError(t, tr.AddError(ctx, p.ID, models.GenerationError{Error: "late"}))
	again := tr.Get(ctx, "camp-1")
	assert.Equal(t, 0, again.CompletedPublications)
	assert.Empty(t, again.Errors)
}

// slowStore holds the first in-flight progress write until released.
type slowStore struct {
	*store.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) UpdateGenerationProgress(ctx context.Context, p *models.GenerationProgress) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.UpdateGenerationProgress(ctx, p)
}

func TestMutate_WritesLandInOrder(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	slow := &slowStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
	tr := NewTracker(slow, WithClock(newClock().Now))
	ctx := context.Background()

	p, err := tr.Create(ctx, "camp-1", 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, tr.IncrementCompleted(ctx, p.ID))
	}()
	<-slow.entered

	completeDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(completeDone)
		assert.NoError(t, tr.Complete(ctx, p.ID))
	}()

	select {
	case <-completeDone:
		t.Fatal("completion persisted ahead of an earlier write")
	case <-time.After(50 * time.Millisecond):
	}
	close(slow.release)
	wg.Wait()

	stored, err := s.GetGenerationProgress(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CompletedAt, "the completed snapshot is the last write")
	assert.Equal(t, 1, stored.CompletedPublications)
}

func TestGet_Idempotent(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, _ := tr.Create(ctx, "camp-1", 3)
	require.NoError(t, tr.AddError(ctx, p.ID, models.GenerationError{Error: "timeout"}))

	first := tr.Get(ctx, "camp-1")
	second := tr.Get(ctx, "camp-1")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("snapshots differ (-first +second):\n%s", diff)
	}

	// Snapshots are detached from the cache
	first.Errors[0].Error = "mutated"
	third := tr.Get(ctx, "camp-1")
	assert.Equal(t, "timeout", third.Errors[0].Error)
}

type failingStore struct {
	Store
}

func (failingStore) GetGenerationProgressByCampaign(context.Context, string) (*models.GenerationProgress, error) {
	return nil, errors.New("database is down")
}

func TestGet_SwallowsStoreErrors(t *testing.T) {
	tr := NewTracker(failingStore{})
	assert.Nil(t, tr.Get(context.Background(), "camp-1"))
	assert.Nil(t, tr.Stats(context.Background(), "camp-1"))
}

func TestStats(t *testing.T) {
	clock := newClock()
	tr, _ := newTestTracker(t, clock)
	ctx := context.Background()

	p, _ := tr.Create(ctx, "camp-1", 3)

	s := tr.Stats(ctx, "camp-1")
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Percentage)
	assert.Equal(t, int64(15000), s.AverageTimePerPublication)

	clock.Advance(9 * time.Second)
	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))

	s = tr.Stats(ctx, "camp-1")
	assert.Equal(t, 33, s.Percentage)
	assert.Equal(t, int64(9000), s.ElapsedTime)
	assert.Equal(t, int64(9000), s.AverageTimePerPublication)

	require.NoError(t, tr.IncrementCompleted(ctx, p.ID))
	require.NoError(t, tr.Complete(ctx, p.ID))
	clock.Advance(time.Hour)

	s = tr.Stats(ctx, "camp-1")
	assert.Equal(t, 67, s.Percentage)
	assert.Equal(t, int64(9000), s.ElapsedTime, "elapsed stops at completion")
}
