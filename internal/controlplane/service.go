// Package controlplane provides the HTTP API and service layer for Postloom.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/orchestrator"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/scheduler"
	"github.com/fentz26/postloom/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	orch      *orchestrator.Orchestrator
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewService creates a new control plane service.
func NewService(s *store.Store, orch *orchestrator.Orchestrator, sch *scheduler.Scheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     s,
		orch:      orch,
		scheduler: sch,
		logger:    logger.With(zap.String("component", "controlplane")),
	}
}

// --- Campaign Operations ---

// CampaignView is a campaign with its live generation flag.
type CampaignView struct {
	*models.Campaign
	GenerationActive bool `json:"generationActive"`
}

// CreateCampaign creates a campaign in the planning state.
func (s *Service) CreateCampaign(ctx context.Context, workspaceID, name string) (*models.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	return s.store.CreateCampaign(ctx, workspaceID, name)
}

// GetCampaign retrieves a campaign by ID.
func (s *Service) GetCampaign(ctx context.Context, id string) (*CampaignView, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return &CampaignView{Campaign: c, GenerationActive: s.orch.IsGenerationActive(ctx, id)}, nil
}

// GenerateRequest is the body of a generation request.
type GenerateRequest struct {
	Plan      []models.ContentPlanItem `json:"contentPlan"`
	Workspace models.WorkspaceData     `json:"workspace"`
	Resources []models.ResourceData    `json:"resources,omitempty"`
	Templates []models.TemplateData    `json:"templates,omitempty"`
}

// GenerateResponse acknowledges an accepted generation.
type GenerateResponse struct {
	CampaignID string `json:"campaignId"`
	Status     string `json:"status"`
	Items      int    `json:"items"`
}

// StartGeneration admits a run and executes it in the background.
func (s *Service) StartGeneration(ctx context.Context, campaignID string, req GenerateRequest) (*GenerateResponse, error) {
	run, err := s.orch.Begin(ctx, orchestrator.Input{
		CampaignID: campaignID,
		Plan:       req.Plan,
		Workspace:  req.Workspace,
		Resources:  req.Resources,
		Templates:  req.Templates,
	})
	if err != nil {
		return nil, err
	}

	err = s.scheduler.Go(scheduler.KindGenerate, campaignID, func(jobCtx context.Context) {
		if _, err := run.Execute(jobCtx); err != nil {
			s.logger.Error("generation run failed", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	})
	if err != nil {
		run.Abort(ctx)
		if errors.Is(err, scheduler.ErrAtCapacity) || errors.Is(err, scheduler.ErrStopped) {
			return nil, ErrAtCapacity
		}
		return nil, err
	}

	return &GenerateResponse{
		CampaignID: campaignID,
		Status:     string(models.CampaignGenerating),
		Items:      len(req.Plan),
	}, nil
}

// CancelGeneration stops a running generation.
func (s *Service) CancelGeneration(ctx context.Context, campaignID string) error {
	return s.orch.CancelGeneration(ctx, campaignID)
}

// GetProgress returns the campaign's latest progress record.
func (s *Service) GetProgress(ctx context.Context, campaignID string) (*models.GenerationProgress, error) {
	p := s.orch.GetGenerationProgress(ctx, campaignID)
	if p == nil {
		return nil, ErrProgressNotFound
	}
	return p, nil
}

// GetStats returns derived progress figures.
func (s *Service) GetStats(ctx context.Context, campaignID string) (*progress.Stats, error) {
	st := s.orch.GetGenerationStats(ctx, campaignID)
	if st == nil {
		return nil, ErrProgressNotFound
	}
	return st, nil
}

// ListPublications returns a campaign's publications.
func (s *Service) ListPublications(ctx context.Context, campaignID string) ([]models.Publication, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return s.store.ListPublications(ctx, campaignID)
}

// --- Publication Operations ---

type regenerateResult struct {
	pub *models.Publication
	err error
}

// RegeneratePublication regenerates one publication on a scheduler slot and
// waits for the result.
func (s *Service) RegeneratePublication(ctx context.Context, publicationID string, in orchestrator.RegenerateInput) (*models.Publication, error) {
	done := make(chan regenerateResult, 1)
	err := s.scheduler.Go(scheduler.KindRegenerate, publicationID, func(jobCtx context.Context) {
		pub, err := s.orch.RegeneratePublication(jobCtx, publicationID, in)
		done <- regenerateResult{pub: pub, err: err}
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrAtCapacity) || errors.Is(err, scheduler.ErrStopped) {
			return nil, ErrAtCapacity
		}
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.pub, res.err
	}
}

// PublicationHistory returns the regeneration snapshots of a publication.
func (s *Service) PublicationHistory(ctx context.Context, publicationID string) ([]models.RegenerationHistory, error) {
	pub, err := s.store.GetPublication(ctx, publicationID)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, orchestrator.ErrPublicationNotFound
	}
	return s.store.ListRegenerationHistory(ctx, publicationID)
}

// Workers returns scheduler statistics.
func (s *Service) Workers() scheduler.Stats {
	return s.scheduler.Stats()
}
