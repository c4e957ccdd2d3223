// Package models defines the core domain types for Postloom.
package models

import "time"

// GenerationStatus is the lifecycle state of a single publication.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// CampaignStatus is the coarse campaign-level generation state.
type CampaignStatus string

const (
	CampaignPlanning   CampaignStatus = "planning"
	CampaignGenerating CampaignStatus = "generating"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

// ContentType is the kind of publication requested by a plan item.
type ContentType string

const (
	ContentTextOnly     ContentType = "text-only"
	ContentTextImage    ContentType = "text-with-image"
	ContentTextTemplate ContentType = "text-with-template"
	ContentCarousel     ContentType = "text-with-carousel"
)

// AgentType names the generation strategy used for an item.
type AgentType string

const (
	AgentTextOnly     AgentType = "text-only"
	AgentTextImage    AgentType = "text-image"
	AgentTextTemplate AgentType = "text-template"
	AgentCarousel     AgentType = "carousel"
)

// TemplateType distinguishes single-image templates from carousels.
type TemplateType string

const (
	TemplateSingle   TemplateType = "single"
	TemplateCarousel TemplateType = "carousel"
)

// Campaign is a tenant's batch of scheduled publications.
type Campaign struct {
	ID               string         `json:"id"`
	WorkspaceID      string         `json:"workspaceId"`
	Name             string         `json:"name"`
	GenerationStatus CampaignStatus `json:"generationStatus"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// ContentPlanItem is one requested publication awaiting generated content.
type ContentPlanItem struct {
	ID            string      `json:"id" yaml:"id"`
	Title         string      `json:"title" yaml:"title"`
	Description   string      `json:"description" yaml:"description"`
	SocialNetwork string      `json:"socialNetwork" yaml:"social_network"`
	ScheduledDate time.Time   `json:"scheduledDate" yaml:"scheduled_date"`
	ContentType   ContentType `json:"contentType" yaml:"content_type"`
	ResourceIDs   []string    `json:"resourceIds,omitempty" yaml:"resource_ids"`
	TemplateID    string      `json:"templateId,omitempty" yaml:"template_id"`
	Priority      string      `json:"priority,omitempty" yaml:"priority"`
	Tags          []string    `json:"tags,omitempty" yaml:"tags"`
}

// WorkspaceData carries tenant branding used in prompts.
type WorkspaceData struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Slogan      string   `json:"slogan,omitempty" yaml:"slogan"`
	Colors      []string `json:"colors,omitempty" yaml:"colors"`
}

// ResourceData is a selectable media asset.
type ResourceData struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name,omitempty" yaml:"name"`
	URL      string `json:"url" yaml:"url"`
	MimeType string `json:"mimeType" yaml:"mime_type"`
}

// TemplateData is a design template with an ordered image list.
type TemplateData struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name,omitempty" yaml:"name"`
	Type           TemplateType `json:"type" yaml:"type"`
	Images         []string     `json:"images" yaml:"images"`
	SocialNetworks []string     `json:"socialNetworks,omitempty" yaml:"social_networks"`
}

// GenerationMetadata records how a piece of content was produced.
type GenerationMetadata struct {
	AgentUsed        AgentType `json:"agentUsed"`
	PromptsUsed      []string  `json:"promptsUsed,omitempty"`
	TemplateUsed     string    `json:"templateUsed,omitempty"`
	ResourcesUsed    []string  `json:"resourcesUsed,omitempty"`
	Model            string    `json:"model,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	RetryCount       int       `json:"retryCount"`
	RecoveryStrategy string    `json:"recoveryStrategy,omitempty"`
	FallbackUsed     bool      `json:"fallbackUsed,omitempty"`
	Simplified       bool      `json:"simplified,omitempty"`
	Truncated        bool      `json:"truncated,omitempty"`
}

// GenerationResult is the outcome of generating one plan item.
type GenerationResult struct {
	Success       bool               `json:"success"`
	Text          string             `json:"text,omitempty"`
	ImageURLs     []string           `json:"imageUrls,omitempty"`
	TemplateTexts []string           `json:"templateTexts,omitempty"`
	Metadata      GenerationMetadata `json:"metadata"`
	Error         string             `json:"error,omitempty"`
}

// GenerationError is one failure recorded against a progress record.
type GenerationError struct {
	PublicationID string    `json:"publicationId"`
	AgentType     AgentType `json:"agentType"`
	Error         string    `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retryCount"`
}

// GenerationProgress is the per-run tracking record polled by clients.
// EstimatedTimeRemaining is expressed in milliseconds.
type GenerationProgress struct {
	ID                     string            `json:"id"`
	CampaignID             string            `json:"campaignId"`
	TotalPublications      int               `json:"totalPublications"`
	CompletedPublications  int               `json:"completedPublications"`
	CurrentPublicationID   string            `json:"currentPublicationId,omitempty"`
	CurrentAgent           AgentType         `json:"currentAgent,omitempty"`
	CurrentStep            string            `json:"currentStep,omitempty"`
	Errors                 []GenerationError `json:"errors"`
	StartedAt              time.Time         `json:"startedAt"`
	CompletedAt            *time.Time        `json:"completedAt,omitempty"`
	EstimatedTimeRemaining int64             `json:"estimatedTimeRemaining"`
}

// Clone returns a deep copy safe to hand out to callers.
func (p *GenerationProgress) Clone() *GenerationProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.Errors = make([]GenerationError, len(p.Errors))
	copy(c.Errors, p.Errors)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IsCompleted reports whether the run behind this record has finished.
func (p *GenerationProgress) IsCompleted() bool {
	return p != nil && p.CompletedAt != nil
}

// Publication is the durable record created for every plan item.
type Publication struct {
	ID                 string             `json:"id"`
	CampaignID         string             `json:"campaignId"`
	PlanItemID         string             `json:"planItemId"`
	ContentType        ContentType        `json:"contentType"`
	TemplateID         string             `json:"templateId,omitempty"`
	ResourceIDs        []string           `json:"resourceIds,omitempty"`
	SocialNetwork      string             `json:"socialNetwork"`
	Title              string             `json:"title"`
	OriginalContent    string             `json:"originalContent"`
	GeneratedContent   string             `json:"generatedContent"`
	GeneratedImageURLs []string           `json:"generatedImageUrls,omitempty"`
	TemplateTexts      []string           `json:"templateTexts,omitempty"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
	GenerationStatus   GenerationStatus   `json:"generationStatus"`
	ErrorMessage       string             `json:"errorMessage,omitempty"`
	ScheduledDate      time.Time          `json:"scheduledDate"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// PublicationUpdate is a partial update; nil fields are left unchanged.
type PublicationUpdate struct {
	GeneratedContent   *string
	GeneratedImageURLs *[]string
	TemplateTexts      *[]string
	GenerationMetadata *GenerationMetadata
	GenerationStatus   *GenerationStatus
	ErrorMessage       *string
}

// RegenerationHistory is a before/after snapshot of one regeneration.
type RegenerationHistory struct {
	ID                string             `json:"id"`
	PublicationID     string             `json:"publicationId"`
	PreviousContent   string             `json:"previousContent"`
	PreviousImageURLs []string           `json:"previousImageUrls,omitempty"`
	PreviousMetadata  GenerationMetadata `json:"previousMetadata"`
	NewContent        string             `json:"newContent"`
	NewImageURLs      []string           `json:"newImageUrls,omitempty"`
	NewMetadata       GenerationMetadata `json:"newMetadata"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// Lock represents a held resource lock with a TTL.
type Lock struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	HolderID   string    `json:"holderId"`
	LockType   string    `json:"lockType"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputsHash"`
	Outcome    string    `json:"outcome"`
	CampaignID string    `json:"campaignId,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
