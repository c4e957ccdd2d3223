// Package agents implements the content generation strategies and the
// dispatch rules that route a plan item to one of them.
package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/postloom/internal/models"
)

// Errors whose messages are matched by the recovery engine.
var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrUnknownAgent       = errors.New("unknown agent type")
)

// Options carries adjustments applied by a recovery attempt.
type Options struct {
	// Timeout bounds a single Generate call when positive.
	Timeout time.Duration

	// Recovery names the recovery strategy that produced this attempt.
	Recovery   string
	Fallback   bool
	Simplified bool
	Truncated  bool
}

// Request is the input handed to a strategy. Resources and Template only
// hold what the plan item references.
type Request struct {
	Item      models.ContentPlanItem
	Workspace models.WorkspaceData
	Resources []models.ResourceData
	Template  *models.TemplateData
	Options   Options
}

// Output is what a strategy produced.
type Output struct {
	Text          string
	ImageURLs     []string
	TemplateTexts []string
	Metadata      models.GenerationMetadata
}

// Strategy is one content generation variant.
type Strategy interface {
	Type() models.AgentType
	Generate(ctx context.Context, req Request) (*Output, error)
}

// Registry maps agent types to strategies.
type Registry struct {
	strategies map[models.AgentType]Strategy
	now        func() time.Time
	timeout    time.Duration
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{
		strategies: make(map[models.AgentType]Strategy, len(strategies)),
		now:        time.Now,
	}
	for _, s := range strategies {
		r.strategies[s.Type()] = s
	}
	return r
}

// SetDefaultTimeout bounds calls whose options carry no timeout.
func (r *Registry) SetDefaultTimeout(d time.Duration) {
	r.timeout = d
}

// Get returns the strategy registered for t.
func (r *Registry) Get(t models.AgentType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, t)
	}
	return s, nil
}

// Generate invokes the strategy for agent and stamps timing metadata.
func (r *Registry) Generate(ctx context.Context, agent models.AgentType, req Request) (*Output, error) {
	s, err := r.Get(agent)
	if err != nil {
		return nil, err
	}

	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := r.now()
	out, err := s.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timeout after %s: %w", timeout, err)
		}
		return nil, err
	}

	out.Metadata.AgentUsed = agent
	out.Metadata.ProcessingTimeMs = r.now().Sub(start).Milliseconds()
	out.Metadata.RecoveryStrategy = req.Options.Recovery
	out.Metadata.FallbackUsed = req.Options.Fallback
	out.Metadata.Simplified = req.Options.Simplified
	out.Metadata.Truncated = req.Options.Truncated
	return out, nil
}

// Resolve maps a plan item to its agent type. The rule depends only on the
// content type and whether a template is referenced.
func Resolve(item models.ContentPlanItem) (models.AgentType, error) {
	switch item.ContentType {
	case models.ContentTextOnly:
		return models.AgentTextOnly, nil
	case models.ContentTextImage:
		if item.TemplateID != "" {
			return models.AgentTextTemplate, nil
		}
		return models.AgentTextImage, nil
	case models.ContentTextTemplate:
		return models.AgentTextTemplate, nil
	case models.ContentCarousel:
		return models.AgentCarousel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, item.ContentType)
	}
}

// NeedsTemplate reports whether the agent cannot run without a template.
func NeedsTemplate(agent models.AgentType) bool {
	return agent == models.AgentTextTemplate || agent == models.AgentCarousel
}

// SelectContext narrows the candidate resources and templates to those the
// item references. Resources keep the item's reference order.
func SelectContext(item models.ContentPlanItem, resources []models.ResourceData, templates []models.TemplateData) ([]models.ResourceData, *models.TemplateData) {
	byID := make(map[string]models.ResourceData, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}

	selected := make([]models.ResourceData, 0, len(item.ResourceIDs))
	for _, id := range item.ResourceIDs {
		if r, ok := byID[id]; ok {
			selected = append(selected, r)
		}
	}

	var tpl *models.TemplateData
	if item.TemplateID != "" {
		for i := range templates {
			if templates[i].ID == item.TemplateID {
				t := templates[i]
				tpl = &t
				break
			}
		}
	}
	return selected, tpl
}

// BuildRequest resolves the agent for item and assembles its request.
// A template-based item whose template is missing fails before any strategy runs.
func BuildRequest(item models.ContentPlanItem, workspace models.WorkspaceData, resources []models.ResourceData, templates []models.TemplateData) (models.AgentType, Request, error) {
	agent, err := Resolve(item)
	if err != nil {
		return "", Request{}, err
	}

	selected, tpl := SelectContext(item, resources, templates)
	if NeedsTemplate(agent) && tpl == nil {
		return agent, Request{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, item.TemplateID)
	}

	return agent, Request{
		Item:      item,
		Workspace: workspace,
		Resources: selected,
		Template:  tpl,
	}, nil
}
