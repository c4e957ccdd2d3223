// Package orchestrator drives a campaign's content plan to completion: it
// dispatches each item to a strategy, tracks progress, hands failures to the
// recovery engine, persists publications, and finalizes campaign status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/postloom/internal/agents"
	"github.com/fentz26/postloom/internal/audit"
	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/recovery"
	"github.com/fentz26/postloom/internal/runguard"
)

// Errors returned to callers.
var (
	ErrGenerationInProgress = errors.New("generation already in progress")
	ErrEmptyPlan            = errors.New("content plan is empty")
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrPublicationNotFound  = errors.New("publication not found")
	ErrNoActiveGeneration   = errors.New("no active generation")
)

// Store is the persistence gateway used by the orchestrator.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error
	CreatePublication(ctx context.Context, p *models.Publication) error
	GetPublication(ctx context.Context, id string) (*models.Publication, error)
	UpdatePublication(ctx context.Context, id string, u models.PublicationUpdate) error
	CreateRegenerationHistory(ctx context.Context, h *models.RegenerationHistory) error
}

// Generator runs a strategy. *agents.Registry satisfies it.
type Generator interface {
	Generate(ctx context.Context, agent models.AgentType, req agents.Request) (*agents.Output, error)
}

// Auditor records decisions. *audit.PDRWriter satisfies it.
type Auditor interface {
	Record(ctx context.Context, action string, inputs interface{}, outcome, campaignID, details string) (*models.PDREntry, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     Store
	Tracker   *progress.Tracker
	Recovery  *recovery.Engine
	Generator Generator
	Guard     runguard.Guard
	Auditor   Auditor
	Logger    *zap.Logger
}

// Input is one generation request.
type Input struct {
	CampaignID string                   `json:"campaignId"`
	Plan       []models.ContentPlanItem `json:"contentPlan"`
	Workspace  models.WorkspaceData     `json:"workspace"`
	Resources  []models.ResourceData    `json:"resources,omitempty"`
	Templates  []models.TemplateData    `json:"templates,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	CampaignID string                `json:"campaignId"`
	ProgressID string                `json:"progressId"`
	Total      int                   `json:"total"`
	Completed  int                   `json:"completed"`
	Failed     int                   `json:"failed"`
	Cancelled  bool                  `json:"cancelled"`
	Status     models.CampaignStatus `json:"status"`
}

// runToken identifies one run so a cancelled run never touches its successor.
type runToken struct {
	cancelled atomic.Bool

	mu         sync.Mutex
	progressID string
}

func (t *runToken) setProgress(id string) {
	t.mu.Lock()
	t.progressID = id
	t.mu.Unlock()
}

func (t *runToken) progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progressID
}

// Orchestrator coordinates generation runs.
type Orchestrator struct {
	store     Store
	tracker   *progress.Tracker
	recovery  *recovery.Engine
	generator Generator
	guard     runguard.Guard
	auditor   Auditor
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.Mutex
	runs map[string]*runToken
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := d.Guard
	if guard == nil {
		guard = runguard.NewMemory()
	}
	return &Orchestrator{
		store:     d.Store,
		tracker:   d.Tracker,
		recovery:  d.Recovery,
		generator: d.Generator,
		guard:     guard,
		auditor:   d.Auditor,
		logger:    logger.With(zap.String("component", "orchestrator")),
		now:       time.Now,
		runs:      make(map[string]*runToken),
	}
}

// Run is an admitted generation run. Exactly one of Execute or Abort must be called.
type Run struct {
	o     *Orchestrator
	in    Input
	token *runToken
	once  sync.Once

	// lost is set when a lease-backed guard passed to another holder.
	lost bool
}

// CampaignID returns the campaign being generated.
func (r *Run) CampaignID() string { return r.in.CampaignID }

// Begin validates the request and takes the single-flight guard. No state
// is changed when it fails.
func (o *Orchestrator) Begin(ctx context.Context, in Input) (*Run, error) {
	if len(in.Plan) == 0 {
		return nil, ErrEmptyPlan
	}
	c, err := o.store.GetCampaign(ctx, in.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}

	ok, err := o.guard.TryAcquire(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}

	token := &runToken{}
	o.mu.Lock()
	o.runs[in.CampaignID] = token
	o.mu.Unlock()

	return &Run{o: o, in: in, token: token}, nil
}

// GenerateCampaignContent runs the whole plan synchronously.
func (o *Orchestrator) GenerateCampaignContent(ctx context.Context, in Input) (*Summary, error) {
	run, err := o.Begin(ctx, in)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Abort releases the guard of a run that will not be executed.
func (r *Run) Abort(ctx context.Context) {
	r.release(ctx)
}

func (r *Run) release(ctx context.Context) {
	r.once.Do(func() {
		o := r.o
		o.mu.Lock()
		current := o.runs[r.in.CampaignID] == r.token
		if current {
			delete(o.runs, r.in.CampaignID)
		}
		o.mu.Unlock()

		// A cancelled run already gave up the guard, possibly to a newer run.
		if current && !r.token.cancelled.Load() && !r.lost {
			if err := o.guard.Release(ctx, r.in.CampaignID); err != nil {
				o.logger.Warn("release guard failed", zap.String("campaign_id", r.in.CampaignID), zap.Error(err))
			}
		}
	})
}

// Execute processes the plan items in order.
func (r *Run) Execute(ctx context.Context) (*Summary, error) {
	o := r.o
	in := r.in
	// Finalization must outlive a cancelled caller context.
	bg := context.WithoutCancel(ctx)
	defer r.release(bg)

	log := o.logger.With(zap.String("campaign_id", in.CampaignID))
	summary := &Summary{CampaignID: in.CampaignID, Total: len(in.Plan)}

	if err := o.store.UpdateCampaignStatus(ctx, in.CampaignID, models.CampaignGenerating); err != nil {
		o.failCampaign(bg, in.CampaignID, log)
		return nil, fmt.Errorf("set campaign generating: %w", err)
	}

	p, err := o.tracker.Create(ctx, in.CampaignID, len(in.Plan))
	if err != nil {
		o.failCampaign(bg, in.CampaignID, log)
		return nil, fmt.Errorf("create progress: %w", err)
	}
	r.token.setProgress(p.ID)
	summary.ProgressID = p.ID
	o.record(bg, audit.ActionGenerationStart, in, "started", in.CampaignID, fmt.Sprintf("items=%d", len(in.Plan)))
	log.Info("generation started", zap.String("progress_id", p.ID), zap.Int("items", len(in.Plan)))

	for _, item := range in.Plan {
		if r.token.cancelled.Load() {
			break
		}
		if ctx.Err() != nil {
			log.Warn("generation interrupted", zap.Error(ctx.Err()))
			summary.Cancelled = true
			break
		}
		if !o.renew(ctx, in.CampaignID, log) {
			r.lost = true
			break
		}

		if o.processItem(ctx, r, p.ID, item, log) {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}

	if !summary.Cancelled && !r.lost && !r.token.cancelled.Load() {
		status := models.CampaignCompleted
		if summary.Failed > 0 {
			status = models.CampaignFailed
		}
		if err := o.tracker.Complete(bg, p.ID); err != nil {
			log.Warn("complete progress failed", zap.Error(err))
		}
		written, err := r.writeStatus(bg, status)
		if err != nil {
			summary.Status = status
			return summary, fmt.Errorf("set campaign %s: %w", status, err)
		}
		if written {
			summary.Status = status
			o.record(bg, audit.ActionGenerationFinish, summary, string(status), in.CampaignID,
				fmt.Sprintf("completed=%d failed=%d", summary.Completed, summary.Failed))
			log.Info("generation finished",
				zap.String("status", string(status)),
				zap.Int("completed", summary.Completed),
				zap.Int("failed", summary.Failed))
			return summary, nil
		}
	}

	// Cancelled, interrupted, or the guard passed to another holder. Only an
	// interrupted run still owns the campaign status.
	summary.Cancelled = true
	summary.Status = models.CampaignFailed
	if err := o.tracker.Complete(bg, p.ID); err != nil {
		log.Warn("complete progress failed", zap.Error(err))
	}
	if !r.lost {
		if _, err := r.writeStatus(bg, models.CampaignFailed); err != nil {
			log.Warn("set campaign failed", zap.Error(err))
		}
	}
	log.Info("generation stopped early",
		zap.Bool("guard_lost", r.lost),
		zap.Int("completed", summary.Completed), zap.Int("failed", summary.Failed))
	return summary, nil
}

// writeStatus sets the campaign status while r is still the campaign's
// registered run. A cancelled or superseded run writes nothing.
func (r *Run) writeStatus(ctx context.Context, status models.CampaignStatus) (bool, error) {
	o := r.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[r.in.CampaignID] != r.token {
		return false, nil
	}
	return true, o.store.UpdateCampaignStatus(ctx, r.in.CampaignID, status)
}

// renew extends a lease-backed guard before the next item. It reports false
// only when the lease is known to belong to another holder; lookup errors
// are logged and the run continues.
func (o *Orchestrator) renew(ctx context.Context, campaignID string, log *zap.Logger) bool {
	rn, ok := o.guard.(runguard.Renewer)
	if !ok {
		return true
	}
	held, err := rn.Renew(ctx, campaignID)
	if err != nil {
		log.Warn("renew generation guard failed", zap.Error(err))
		return true
	}
	if !held {
		log.Warn("generation guard taken over by another holder")
	}
	return held
}

// processItem generates, recovers and persists one item. It reports success.
func (o *Orchestrator) processItem(ctx context.Context, r *Run, progressID string, item models.ContentPlanItem, log *zap.Logger) bool {
	in := r.in
	log = log.With(zap.String("item_id", item.ID))

	agent, req, err := agents.BuildRequest(item, in.Workspace, in.Resources, in.Templates)
	if agent == "" {
		agent = models.AgentTextOnly
	}
	if perr := o.tracker.UpdateCurrentPublication(ctx, progressID, item.ID, agent, progress.StepGenerating); perr != nil {
		log.Warn("update progress failed", zap.Error(perr))
	}

	var out *agents.Output
	if err == nil {
		out, err = o.generator.Generate(ctx, agent, req)
	}

	retries := 0
	if err != nil {
		log.Info("generation failed, attempting recovery", zap.Error(err))
		if perr := o.tracker.UpdateStep(ctx, progressID, progress.StepRecovering); perr != nil {
			log.Warn("update progress failed", zap.Error(perr))
		}
		res := o.recovery.Handle(ctx, recovery.Input{
			PublicationID: item.ID,
			CampaignID:    in.CampaignID,
			Item:          item,
			Workspace:     in.Workspace,
			Resources:     in.Resources,
			Templates:     in.Templates,
			Agent:         agent,
			Err:           err,
			Attempt:       1,
		})
		if res.Success {
			out, agent, err = res.Output, res.Agent, nil
		} else {
			err, retries = res.Err, res.RetryCount
		}
	}

	if err == nil {
		if perr := o.tracker.UpdateStep(ctx, progressID, progress.StepPersisting); perr != nil {
			log.Warn("update progress failed", zap.Error(perr))
		}
		pub := newPublication(in.CampaignID, item)
		pub.GeneratedContent = out.Text
		pub.GeneratedImageURLs = out.ImageURLs
		pub.TemplateTexts = out.TemplateTexts
		pub.GenerationMetadata = out.Metadata
		pub.GenerationStatus = models.GenerationCompleted
		if err = o.store.CreatePublication(ctx, pub); err == nil {
			if perr := o.tracker.IncrementCompleted(ctx, progressID); perr != nil {
				log.Warn("update progress failed", zap.Error(perr))
			}
			return true
		}
		err = fmt.Errorf("persist publication: %w", err)
	}

	log.Warn("item failed", zap.Error(err), zap.Int("retry_count", retries))
	if perr := o.tracker.AddError(ctx, progressID, models.GenerationError{
		PublicationID: item.ID,
		AgentType:     agent,
		Error:         err.Error(),
		Timestamp:     o.now().UTC(),
		RetryCount:    retries,
	}); perr != nil {
		log.Warn("record progress error failed", zap.Error(perr))
	}

	pub := newPublication(in.CampaignID, item)
	pub.GenerationStatus = models.GenerationFailed
	pub.ErrorMessage = err.Error()
	pub.GenerationMetadata = models.GenerationMetadata{AgentUsed: agent, RetryCount: retries}
	if perr := o.store.CreatePublication(ctx, pub); perr != nil {
		log.Error("persist failed publication", zap.Error(perr))
	}
	return false
}

func newPublication(campaignID string, item models.ContentPlanItem) *models.Publication {
	return &models.Publication{
		CampaignID:      campaignID,
		PlanItemID:      item.ID,
		ContentType:     item.ContentType,
		TemplateID:      item.TemplateID,
		ResourceIDs:     item.ResourceIDs,
		SocialNetwork:   item.SocialNetwork,
		Title:           item.Title,
		OriginalContent: item.Description,
		ScheduledDate:   item.ScheduledDate,
	}
}

func (o *Orchestrator) failCampaign(ctx context.Context, campaignID string, log *zap.Logger) {
	if err := o.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignFailed); err != nil {
		log.Warn("set campaign failed", zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, action string, inputs interface{}, outcome, campaignID, details string) {
	if o.auditor == nil {
		return
	}
	if _, err := o.auditor.Record(ctx, action, inputs, outcome, campaignID, details); err != nil {
		o.logger.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

// CancelGeneration stops a campaign's run cooperatively. The in-flight item
// finishes; no further items start.
func (o *Orchestrator) CancelGeneration(ctx context.Context, campaignID string) error {
	o.mu.Lock()
	token := o.runs[campaignID]
	delete(o.runs, campaignID)
	if token != nil {
		token.cancelled.Store(true)
	}
	o.mu.Unlock()

	if token == nil && !o.guard.IsActive(ctx, campaignID) {
		return ErrNoActiveGeneration
	}

	if err := o.guard.Release(ctx, campaignID); err != nil {
		return fmt.Errorf("release guard: %w", err)
	}
	if err := o.store.UpdateCampaignStatus(ctx, campaignID, models.CampaignFailed); err != nil {
		return fmt.Errorf("set campaign failed: %w", err)
	}

	progressID := ""
	if token != nil {
		progressID = token.progress()
	}
	if progressID == "" {
		if p := o.tracker.Get(ctx, campaignID); p != nil && !p.IsCompleted() {
			progressID = p.ID
		}
	}
	if progressID != "" {
		if err := o.tracker.Complete(ctx, progressID); err != nil {
			o.logger.Warn("complete progress failed", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	}

	o.record(ctx, audit.ActionGenerationCancel, map[string]string{"campaignId": campaignID}, "cancelled", campaignID, "")
	o.logger.Info("generation cancelled", zap.String("campaign_id", campaignID))
	return nil
}

// GetGenerationProgress returns the campaign's latest progress, or nil.
func (o *Orchestrator) GetGenerationProgress(ctx context.Context, campaignID string) *models.GenerationProgress {
	return o.tracker.Get(ctx, campaignID)
}

// GetGenerationStats returns derived progress figures, or nil.
func (o *Orchestrator) GetGenerationStats(ctx context.Context, campaignID string) *progress.Stats {
	return o.tracker.Stats(ctx, campaignID)
}

// IsGenerationActive reports whether a run holds the campaign's guard.
func (o *Orchestrator) IsGenerationActive(ctx context.Context, campaignID string) bool {
	return o.guard.IsActive(ctx, campaignID)
}
