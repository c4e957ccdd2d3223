package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fentz26/postloom/internal/models"
	"github.com/google/uuid"
)

// --- Generation Progress Operations ---

const progressColumns = `id, campaign_id, total_publications, completed_publications, current_publication_id,
	current_agent, current_step, errors, started_at, completed_at, estimated_time_remaining`

// CreateGenerationProgress inserts a progress record, assigning its ID if empty.
func (s *Store) CreateGenerationProgress(ctx context.Context, p *models.GenerationProgress) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Errors == nil {
		p.Errors = []models.GenerationError{}
	}
	errs, err := encodeJSON(p.Errors)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO generation_progress (`+progressColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CampaignID, p.TotalPublications, p.CompletedPublications,
		nullString(p.CurrentPublicationID), nullString(string(p.CurrentAgent)), nullString(p.CurrentStep),
		errs, p.StartedAt.UTC(), completedAtValue(p), p.EstimatedTimeRemaining,
	)
	if err != nil {
		return fmt.Errorf("insert generation progress: %w", err)
	}
	return nil
}

// UpdateGenerationProgress overwrites the mutable fields of a progress record.
func (s *Store) UpdateGenerationProgress(ctx context.Context, p *models.GenerationProgress) error {
	errs, err := encodeJSON(p.Errors)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	res, err := s.exec(ctx,
		`UPDATE generation_progress SET completed_publications = ?, current_publication_id = ?, current_agent = ?,
			current_step = ?, errors = ?, completed_at = ?, estimated_time_remaining = ? WHERE id = ?`,
		p.CompletedPublications, nullString(p.CurrentPublicationID), nullString(string(p.CurrentAgent)),
		nullString(p.CurrentStep), errs, completedAtValue(p), p.EstimatedTimeRemaining, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update generation progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrProgressNotFound
	}
	return nil
}

// GetGenerationProgress retrieves a progress record by ID. It returns nil when absent.
func (s *Store) GetGenerationProgress(ctx context.Context, id string) (*models.GenerationProgress, error) {
	p, err := scanProgress(s.queryRow(ctx, `SELECT `+progressColumns+` FROM generation_progress WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query generation progress: %w", err)
	}
	return p, nil
}

// GetGenerationProgressByCampaign returns the most recent progress record for a campaign.
func (s *Store) GetGenerationProgressByCampaign(ctx context.Context, campaignID string) (*models.GenerationProgress, error) {
	p, err := scanProgress(s.queryRow(ctx,
		`SELECT `+progressColumns+` FROM generation_progress WHERE campaign_id = ? ORDER BY started_at DESC LIMIT 1`,
		campaignID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query generation progress: %w", err)
	}
	return p, nil
}

func scanProgress(row rowScanner) (*models.GenerationProgress, error) {
	var p models.GenerationProgress
	var currentPub, currentAgent, currentStep, errs sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(&p.ID, &p.CampaignID, &p.TotalPublications, &p.CompletedPublications,
		&currentPub, &currentAgent, &currentStep, &errs, &p.StartedAt, &completedAt, &p.EstimatedTimeRemaining); err != nil {
		return nil, err
	}

	p.CurrentPublicationID = currentPub.String
	p.CurrentAgent = models.AgentType(currentAgent.String)
	p.CurrentStep = currentStep.String
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		p.CompletedAt = &t
	}
	p.StartedAt = p.StartedAt.UTC()
	p.Errors = []models.GenerationError{}
	if err := decodeJSON(errs, &p.Errors); err != nil {
		return nil, fmt.Errorf("decode errors: %w", err)
	}
	return &p, nil
}

func completedAtValue(p *models.GenerationProgress) sql.NullTime {
	if p.CompletedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.CompletedAt.UTC(), Valid: true}
}
