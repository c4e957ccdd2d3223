// Package progress owns per-campaign generation progress records: creation,
// pointer updates, completion counting, error accumulation, and remaining
// time estimates.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/postloom/internal/models"
)

// DefaultPerItemEstimate is the prior used before any item has completed.
const DefaultPerItemEstimate = 15 * time.Second

// Steps written to GenerationProgress.CurrentStep.
const (
	StepInitializing  = "initializing"
	StepGenerating    = "generating"
	StepPersisting    = "persisting"
	StepRecovering    = "recovering"
	StepErrorHandling = "error_handling"
	StepCompleted     = "completed"
)

// ErrNotFound is returned when a progress record does not exist.
var ErrNotFound = errors.New("progress not found")

// Store is the persistence used by the tracker.
type Store interface {
	CreateGenerationProgress(ctx context.Context, p *models.GenerationProgress) error
	GetGenerationProgress(ctx context.Context, id string) (*models.GenerationProgress, error)
	GetGenerationProgressByCampaign(ctx context.Context, campaignID string) (*models.GenerationProgress, error)
	UpdateGenerationProgress(ctx context.Context, p *models.GenerationProgress) error
}

// Stats are values derived from a progress record.
type Stats struct {
	Progress                  *models.GenerationProgress `json:"progress"`
	Percentage                int                        `json:"percentage"`
	ElapsedTime               int64                      `json:"elapsedTime"`
	AverageTimePerPublication int64                      `json:"averageTimePerPublication"`
}

// Tracker keeps a read cache of live records in front of the store.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	prior  time.Duration

	// writeMu orders store writes so they land in mutation order. It is
	// taken before mu and held across the store call.
	writeMu sync.Mutex

	mu         sync.Mutex
	byCampaign map[string]*models.GenerationProgress
	byID       map[string]*models.GenerationProgress
	average    map[string]time.Duration // campaign id -> mean per item
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithPerItemEstimate overrides the default per-item prior.
func WithPerItemEstimate(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.prior = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a tracker over s.
func NewTracker(s Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:      s,
		logger:     zap.NewNop(),
		now:        time.Now,
		prior:      DefaultPerItemEstimate,
		byCampaign: make(map[string]*models.GenerationProgress),
		byID:       make(map[string]*models.GenerationProgress),
		average:    make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "progress"))
	return t
}

// Create starts a progress record for a run of total items.
func (t *Tracker) Create(ctx context.Context, campaignID string, total int) (*models.GenerationProgress, error) {
	p := &models.GenerationProgress{
		CampaignID:             campaignID,
		TotalPublications:      total,
		CurrentStep:            StepInitializing,
		Errors:                 []models.GenerationError{},
		StartedAt:              t.now().UTC(),
		EstimatedTimeRemaining: int64(total) * t.prior.Milliseconds(),
	}
	if err := t.store.CreateGenerationProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("create progress: %w", err)
	}

	t.mu.Lock()
	if old, ok := t.byCampaign[campaignID]; ok {
		delete(t.byID, old.ID)
	}
	t.byCampaign[campaignID] = p
	t.byID[p.ID] = p
	delete(t.average, campaignID)
	snapshot := p.Clone()
	t.mu.Unlock()

	return snapshot, nil
}

// UpdateCurrentPublication moves the in-flight pointer and refreshes the estimate.
func (t *Tracker) UpdateCurrentPublication(ctx context.Context, progressID, publicationID string, agent models.AgentType, step string) error {
	return t.mutate(ctx, progressID, func(p *models.GenerationProgress) {
		p.CurrentPublicationID = publicationID
		p.CurrentAgent = agent
		p.CurrentStep = step
		p.EstimatedTimeRemaining = t.estimateLocked(p)
	})
}

// UpdateStep changes only the current step.
func (t *Tracker) UpdateStep(ctx context.Context, progressID, step string) error {
	return t.mutate(ctx, progressID, func(p *models.GenerationProgress) {
		p.CurrentStep = step
	})
}

// IncrementCompleted counts one finished item and recomputes the running mean.
func (t *Tracker) IncrementCompleted(ctx context.Context, progressID string) error {
	return t.mutate(ctx, progressID, func(p *models.GenerationProgress) {
		if p.CompletedPublications < p.TotalPublications {
			p.CompletedPublications++
		}
		if p.CompletedPublications > 0 {
			elapsed := t.now().Sub(p.StartedAt)
			if elapsed < 0 {
				elapsed = 0
			}
			t.average[p.CampaignID] = elapsed / time.Duration(p.CompletedPublications)
		}
		if p.CompletedPublications == p.TotalPublications {
			p.CurrentStep = StepCompleted
		}
		p.EstimatedTimeRemaining = t.estimateLocked(p)
	})
}

// AddError appends a generation error without affecting the completed count.
func (t *Tracker) AddError(ctx context.Context, progressID string, genErr models.GenerationError) error {
	return t.mutate(ctx, progressID, func(p *models.GenerationProgress) {
		if genErr.Timestamp.IsZero() {
			genErr.Timestamp = t.now().UTC()
		}
		p.Errors = append(p.Errors, genErr)
		p.CurrentStep = StepErrorHandling
	})
}

// Complete finalizes the record and evicts it from the cache.
func (t *Tracker) Complete(ctx context.Context, progressID string) error {
	err := t.mutate(ctx, progressID, func(p *models.GenerationProgress) {
		now := t.now().UTC()
		p.CompletedAt = &now
		p.EstimatedTimeRemaining = 0
		p.CurrentPublicationID = ""
		p.CurrentAgent = ""
	})

	t.mu.Lock()
	if p, ok := t.byID[progressID]; ok {
		delete(t.byID, progressID)
		if cur, ok := t.byCampaign[p.CampaignID]; ok && cur.ID == progressID {
			delete(t.byCampaign, p.CampaignID)
			delete(t.average, p.CampaignID)
		}
	}
	t.mu.Unlock()

	return err
}

// Get returns a snapshot of the campaign's current progress, or nil.
// Lookup failures are logged and read as nil.
func (t *Tracker) Get(ctx context.Context, campaignID string) *models.GenerationProgress {
	t.mu.Lock()
	if p, ok := t.byCampaign[campaignID]; ok {
		snapshot := p.Clone()
		t.mu.Unlock()
		return snapshot
	}
	t.mu.Unlock()

	p, err := t.store.GetGenerationProgressByCampaign(ctx, campaignID)
	if err != nil {
		t.logger.Warn("progress lookup failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil
	}
	return p
}

// Stats derives percentage and timing figures for a campaign, or nil.
func (t *Tracker) Stats(ctx context.Context, campaignID string) *Stats {
	p := t.Get(ctx, campaignID)
	if p == nil {
		return nil
	}

	end := t.now()
	if p.CompletedAt != nil {
		end = *p.CompletedAt
	}
	elapsed := end.Sub(p.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	s := &Stats{
		Progress:                  p,
		ElapsedTime:               elapsed.Milliseconds(),
		AverageTimePerPublication: t.prior.Milliseconds(),
	}
	if p.TotalPublications > 0 {
		s.Percentage = int(math.Round(float64(p.CompletedPublications) / float64(p.TotalPublications) * 100))
	}
	if p.CompletedPublications > 0 {
		s.AverageTimePerPublication = elapsed.Milliseconds() / int64(p.CompletedPublications)
	}
	return s
}

// mutate applies fn to the cached record and persists a snapshot. Records
// that are already completed are left untouched.
func (t *Tracker) mutate(ctx context.Context, progressID string, fn func(*models.GenerationProgress)) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	live, err := t.ensureCached(ctx, progressID)
	if err != nil || !live {
		return err
	}

	t.mu.Lock()
	p, ok := t.byID[progressID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, progressID)
	}
	if p.CompletedAt != nil {
		t.mu.Unlock()
		return nil
	}
	fn(p)
	snapshot := p.Clone()
	t.mu.Unlock()

	if err := t.store.UpdateGenerationProgress(ctx, snapshot); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

// ensureCached loads a record from the store when the cache misses. It
// reports false for records that are already completed.
func (t *Tracker) ensureCached(ctx context.Context, progressID string) (bool, error) {
	t.mu.Lock()
	_, ok := t.byID[progressID]
	t.mu.Unlock()
	if ok {
		return true, nil
	}

	p, err := t.store.GetGenerationProgress(ctx, progressID)
	if err != nil {
		return false, fmt.Errorf("load progress: %w", err)
	}
	if p == nil {
		return false, fmt.Errorf("%w: %s", ErrNotFound, progressID)
	}
	if p.CompletedAt != nil {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[progressID]; ok {
		return true, nil
	}
	t.byID[progressID] = p
	if cur, ok := t.byCampaign[p.CampaignID]; !ok || cur.StartedAt.Before(p.StartedAt) {
		t.byCampaign[p.CampaignID] = p
	}
	return true, nil
}

// estimateLocked returns the remaining time in milliseconds. Callers hold t.mu.
func (t *Tracker) estimateLocked(p *models.GenerationProgress) int64 {
	remaining := p.TotalPublications - p.CompletedPublications
	if remaining <= 0 {
		return 0
	}
	avg, ok := t.average[p.CampaignID]
	if !ok || avg <= 0 {
		avg = t.prior
	}
	return int64(remaining) * avg.Milliseconds()
}
