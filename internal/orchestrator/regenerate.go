package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fentz26/postloom/internal/agents"
	"github.com/fentz26/postloom/internal/audit"
	"github.com/fentz26/postloom/internal/models"
)

// RegenerateInput is the context for regenerating one publication. A zero
// Item is rebuilt from the stored publication.
type RegenerateInput struct {
	Item      models.ContentPlanItem `json:"item"`
	Workspace models.WorkspaceData   `json:"workspace"`
	Resources []models.ResourceData  `json:"resources,omitempty"`
	Templates []models.TemplateData  `json:"templates,omitempty"`
}

// ItemFromPublication reconstructs a plan item from a stored publication.
// Publications without a recorded content type infer it from their links.
func ItemFromPublication(p *models.Publication) models.ContentPlanItem {
	ct := p.ContentType
	if ct == "" {
		ct = models.ContentTextOnly
		switch {
		case p.TemplateID != "":
			ct = models.ContentTextTemplate
		case len(p.ResourceIDs) > 0:
			ct = models.ContentTextImage
		}
	}
	return models.ContentPlanItem{
		ID:            p.PlanItemID,
		Title:         p.Title,
		Description:   p.OriginalContent,
		SocialNetwork: p.SocialNetwork,
		ScheduledDate: p.ScheduledDate,
		ContentType:   ct,
		ResourceIDs:   p.ResourceIDs,
		TemplateID:    p.TemplateID,
	}
}

// RegeneratePublication regenerates a stored publication directly, without
// the recovery engine, and keeps a before/after snapshot.
func (o *Orchestrator) RegeneratePublication(ctx context.Context, publicationID string, in RegenerateInput) (*models.Publication, error) {
	pub, err := o.store.GetPublication(ctx, publicationID)
	if err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	if pub == nil {
		return nil, ErrPublicationNotFound
	}

	log := o.logger.With(zap.String("publication_id", publicationID), zap.String("campaign_id", pub.CampaignID))

	item := in.Item
	if item.ContentType == "" {
		item = ItemFromPublication(pub)
	}

	generating := models.GenerationGenerating
	if err := o.store.UpdatePublication(ctx, publicationID, models.PublicationUpdate{GenerationStatus: &generating}); err != nil {
		return nil, fmt.Errorf("mark publication generating: %w", err)
	}

	out, genErr := o.regenerate(ctx, item, in)
	if genErr != nil {
		failed := models.GenerationFailed
		msg := genErr.Error()
		if err := o.store.UpdatePublication(ctx, publicationID, models.PublicationUpdate{
			GenerationStatus: &failed,
			ErrorMessage:     &msg,
		}); err != nil {
			log.Error("mark publication failed", zap.Error(err))
		}
		o.record(ctx, audit.ActionRegenerate, map[string]string{"publicationId": publicationID}, "failed", pub.CampaignID, msg)
		log.Warn("regeneration failed", zap.Error(genErr))
		return nil, genErr
	}

	if err := o.store.CreateRegenerationHistory(ctx, &models.RegenerationHistory{
		PublicationID:     publicationID,
		PreviousContent:   pub.GeneratedContent,
		PreviousImageURLs: pub.GeneratedImageURLs,
		PreviousMetadata:  pub.GenerationMetadata,
		NewContent:        out.Text,
		NewImageURLs:      out.ImageURLs,
		NewMetadata:       out.Metadata,
		CreatedAt:         o.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("record regeneration history: %w", err)
	}

	completed := models.GenerationCompleted
	empty := ""
	if err := o.store.UpdatePublication(ctx, publicationID, models.PublicationUpdate{
		GeneratedContent:   &out.Text,
		GeneratedImageURLs: &out.ImageURLs,
		TemplateTexts:      &out.TemplateTexts,
		GenerationMetadata: &out.Metadata,
		GenerationStatus:   &completed,
		ErrorMessage:       &empty,
	}); err != nil {
		return nil, fmt.Errorf("update publication: %w", err)
	}

	o.record(ctx, audit.ActionRegenerate, map[string]string{"publicationId": publicationID}, "success", pub.CampaignID,
		fmt.Sprintf("agent=%s", out.Metadata.AgentUsed))
	log.Info("publication regenerated", zap.String("agent", string(out.Metadata.AgentUsed)))

	return o.store.GetPublication(ctx, publicationID)
}

func (o *Orchestrator) regenerate(ctx context.Context, item models.ContentPlanItem, in RegenerateInput) (*agents.Output, error) {
	agent, req, err := agents.BuildRequest(item, in.Workspace, in.Resources, in.Templates)
	if err != nil {
		return nil, err
	}
	return o.generator.Generate(ctx, agent, req)
}
