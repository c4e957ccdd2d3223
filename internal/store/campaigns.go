package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/postloom/internal/models"
	"github.com/google/uuid"
)

// --- Campaign Operations ---

// CreateCampaign inserts a new campaign in the planning state.
func (s *Store) CreateCampaign(ctx context.Context, workspaceID, name string) (*models.Campaign, error) {
	now := time.Now().UTC()
	c := &models.Campaign{
		ID:               uuid.New().String(),
		WorkspaceID:      workspaceID,
		Name:             name,
		GenerationStatus: models.CampaignPlanning,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err := s.exec(ctx,
		`INSERT INTO campaigns (id, workspace_id, name, generation_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Name, c.GenerationStatus, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	return c, nil
}

// GetCampaign retrieves a campaign by ID. It returns nil when absent.
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := s.queryRow(ctx,
		`SELECT id, workspace_id, name, generation_status, created_at, updated_at FROM campaigns WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.GenerationStatus, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign: %w", err)
	}
	return c, nil
}

// UpdateCampaignStatus sets the campaign generation status.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	res, err := s.exec(ctx,
		`UPDATE campaigns SET generation_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// --- Publication Operations ---

const publicationColumns = `id, campaign_id, plan_item_id, content_type, template_id, resource_ids, social_network, title,
	original_content, generated_content, generated_image_urls, template_texts, generation_metadata,
	generation_status, error_message, scheduled_date, created_at, updated_at`

// CreatePublication inserts a publication, assigning its ID and timestamps.
func (s *Store) CreatePublication(ctx context.Context, p *models.Publication) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.GenerationStatus == "" {
		p.GenerationStatus = models.GenerationPending
	}
	if p.ContentType == "" {
		p.ContentType = models.ContentTextOnly
	}

	resourceIDs, err := encodeJSON(p.ResourceIDs)
	if err != nil {
		return fmt.Errorf("encode resource ids: %w", err)
	}
	images, err := encodeJSON(p.GeneratedImageURLs)
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}
	texts, err := encodeJSON(p.TemplateTexts)
	if err != nil {
		return fmt.Errorf("encode template texts: %w", err)
	}
	meta, err := encodeJSON(p.GenerationMetadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO publications (`+publicationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CampaignID, p.PlanItemID, p.ContentType, nullString(p.TemplateID), resourceIDs, p.SocialNetwork, p.Title,
		p.OriginalContent, p.GeneratedContent, images, texts, meta,
		p.GenerationStatus, nullString(p.ErrorMessage), p.ScheduledDate.UTC(), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert publication: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPublication(row rowScanner) (*models.Publication, error) {
	var p models.Publication
	var templateID, resourceIDs, original, generated, images, texts, meta, errMsg sql.NullString

	if err := row.Scan(&p.ID, &p.CampaignID, &p.PlanItemID, &p.ContentType, &templateID, &resourceIDs, &p.SocialNetwork, &p.Title,
		&original, &generated, &images, &texts, &meta,
		&p.GenerationStatus, &errMsg, &p.ScheduledDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.TemplateID = templateID.String
	p.OriginalContent = original.String
	p.GeneratedContent = generated.String
	p.ErrorMessage = errMsg.String
	if err := decodeJSON(resourceIDs, &p.ResourceIDs); err != nil {
		return nil, fmt.Errorf("decode resource ids: %w", err)
	}
	if err := decodeJSON(images, &p.GeneratedImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls: %w", err)
	}
	if err := decodeJSON(texts, &p.TemplateTexts); err != nil {
		return nil, fmt.Errorf("decode template texts: %w", err)
	}
	if err := decodeJSON(meta, &p.GenerationMetadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &p, nil
}

// GetPublication retrieves a publication by ID. It returns nil when absent.
func (s *Store) GetPublication(ctx context.Context, id string) (*models.Publication, error) {
	p, err := scanPublication(s.queryRow(ctx, `SELECT `+publicationColumns+` FROM publications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query publication: %w", err)
	}
	return p, nil
}

// ListPublications returns a campaign's publications in creation order.
func (s *Store) ListPublications(ctx context.Context, campaignID string) ([]models.Publication, error) {
	rows, err := s.query(ctx,
		`SELECT `+publicationColumns+` FROM publications WHERE campaign_id = ? ORDER BY created_at ASC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("query publications: %w", err)
	}
	defer rows.Close()

	var pubs []models.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		pubs = append(pubs, *p)
	}
	return pubs, rows.Err()
}

// UpdatePublication applies a partial update to a publication.
func (s *Store) UpdatePublication(ctx context.Context, id string, u models.PublicationUpdate) error {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if u.GeneratedContent != nil {
		add("generated_content", *u.GeneratedContent)
	}
	if u.GeneratedImageURLs != nil {
		v, err := encodeJSON(*u.GeneratedImageURLs)
		if err != nil {
			return fmt.Errorf("encode image urls: %w", err)
		}
		add("generated_image_urls", v)
	}
	if u.TemplateTexts != nil {
		v, err := encodeJSON(*u.TemplateTexts)
		if err != nil {
			return fmt.Errorf("encode template texts: %w", err)
		}
		add("template_texts", v)
	}
	if u.GenerationMetadata != nil {
		v, err := encodeJSON(*u.GenerationMetadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		add("generation_metadata", v)
	}
	if u.GenerationStatus != nil {
		add("generation_status", *u.GenerationStatus)
	}
	if u.ErrorMessage != nil {
		add("error_message", nullString(*u.ErrorMessage))
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	res, err := s.exec(ctx, `UPDATE publications SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update publication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrPublicationNotFound
	}
	return nil
}

// --- Regeneration History ---

// CreateRegenerationHistory appends a regeneration snapshot.
func (s *Store) CreateRegenerationHistory(ctx context.Context, h *models.RegenerationHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	prevImages, err := encodeJSON(h.PreviousImageURLs)
	if err != nil {
		return fmt.Errorf("encode previous images: %w", err)
	}
	prevMeta, err := encodeJSON(h.PreviousMetadata)
	if err != nil {
		return fmt.Errorf("encode previous metadata: %w", err)
	}
	newImages, err := encodeJSON(h.NewImageURLs)
	if err != nil {
		return fmt.Errorf("encode new images: %w", err)
	}
	newMeta, err := encodeJSON(h.NewMetadata)
	if err != nil {
		return fmt.Errorf("encode new metadata: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO regeneration_history (id, publication_id, previous_content, previous_image_urls, previous_metadata,
			new_content, new_image_urls, new_metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.PublicationID, h.PreviousContent, prevImages, prevMeta, h.NewContent, newImages, newMeta, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert regeneration history: %w", err)
	}
	return nil
}

// ListRegenerationHistory returns a publication's history, oldest first.
func (s *Store) ListRegenerationHistory(ctx context.Context, publicationID string) ([]models.RegenerationHistory, error) {
	rows, err := s.query(ctx,
		`SELECT id, publication_id, previous_content, previous_image_urls, previous_metadata,
			new_content, new_image_urls, new_metadata, created_at
		 FROM regeneration_history WHERE publication_id = ? ORDER BY created_at ASC`,
		publicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query regeneration history: %w", err)
	}
	defer rows.Close()

	var entries []models.RegenerationHistory
	for rows.Next() {
		var h models.RegenerationHistory
		var prevContent, prevImages, prevMeta, newContent, newImages, newMeta sql.NullString
		if err := rows.Scan(&h.ID, &h.PublicationID, &prevContent, &prevImages, &prevMeta,
			&newContent, &newImages, &newMeta, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan regeneration history: %w", err)
		}
		h.PreviousContent = prevContent.String
		h.NewContent = newContent.String
		if err := decodeJSON(prevImages, &h.PreviousImageURLs); err != nil {
			return nil, err
		}
		if err := decodeJSON(prevMeta, &h.PreviousMetadata); err != nil {
			return nil, err
		}
		if err := decodeJSON(newImages, &h.NewImageURLs); err != nil {
			return nil, err
		}
		if err := decodeJSON(newMeta, &h.NewMetadata); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}
