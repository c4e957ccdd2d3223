package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/postloom/internal/connectors"
	"github.com/fentz26/postloom/internal/models"
)

// NewDefaultRegistry wires the four strategies to one provider.
func NewDefaultRegistry(p connectors.Provider) *Registry {
	return NewRegistry(
		NewTextOnly(p, p.Model()),
		NewTextImage(p, p, p.Model()),
		NewTextTemplate(p, p.Model()),
		NewCarousel(p, p.Model()),
	)
}

// TextOnly writes a caption and nothing else.
type TextOnly struct {
	text  connectors.TextGenerator
	model string
}

// NewTextOnly creates the text-only strategy.
func NewTextOnly(text connectors.TextGenerator, model string) *TextOnly {
	return &TextOnly{text: text, model: model}
}

// Type returns models.AgentTextOnly.
func (s *TextOnly) Type() models.AgentType { return models.AgentTextOnly }

// Generate writes the caption.
func (s *TextOnly) Generate(ctx context.Context, req Request) (*Output, error) {
	prompt := captionPrompt(req)
	text, err := writeCaption(ctx, s.text, req, prompt)
	if err != nil {
		return nil, err
	}
	return &Output{
		Text: text,
		Metadata: models.GenerationMetadata{
			PromptsUsed:   []string{prompt.User},
			ResourcesUsed: resourceIDs(req.Resources),
			Model:         s.model,
		},
	}, nil
}

// TextImage writes a caption and attaches an image, reusing referenced
// image resources when there are any.
type TextImage struct {
	text  connectors.TextGenerator
	image connectors.ImageGenerator
	model string
}

// NewTextImage creates the text-with-image strategy.
func NewTextImage(text connectors.TextGenerator, image connectors.ImageGenerator, model string) *TextImage {
	return &TextImage{text: text, image: image, model: model}
}

// Type returns models.AgentTextImage.
func (s *TextImage) Type() models.AgentType { return models.AgentTextImage }

// Generate writes the caption and resolves the image.
func (s *TextImage) Generate(ctx context.Context, req Request) (*Output, error) {
	prompt := captionPrompt(req)
	text, err := writeCaption(ctx, s.text, req, prompt)
	if err != nil {
		return nil, err
	}

	prompts := []string{prompt.User}
	images := imageResources(req.Resources)
	if len(images) == 0 {
		ip := imagePrompt(req)
		url, err := s.image.GenerateImage(ctx, ip)
		if err != nil {
			return nil, fmt.Errorf("image generation failed: %w", err)
		}
		images = []string{url}
		prompts = append(prompts, ip)
	}

	return &Output{
		Text:      text,
		ImageURLs: images,
		Metadata: models.GenerationMetadata{
			PromptsUsed:   prompts,
			ResourcesUsed: resourceIDs(req.Resources),
			Model:         s.model,
		},
	}, nil
}

// TextTemplate writes a caption plus the overlay text for a single-image template.
type TextTemplate struct {
	text  connectors.TextGenerator
	model string
}

// NewTextTemplate creates the text-with-template strategy.
func NewTextTemplate(text connectors.TextGenerator, model string) *TextTemplate {
	return &TextTemplate{text: text, model: model}
}

// Type returns models.AgentTextTemplate.
func (s *TextTemplate) Type() models.AgentType { return models.AgentTextTemplate }

// Generate fills the first template image.
func (s *TextTemplate) Generate(ctx context.Context, req Request) (*Output, error) {
	if req.Template == nil {
		return nil, ErrTemplateNotFound
	}
	prompt := captionPrompt(req)
	text, err := writeCaption(ctx, s.text, req, prompt)
	if err != nil {
		return nil, err
	}

	images := req.Template.Images
	if len(images) > 1 {
		images = images[:1]
	}
	texts, prompts, err := writeOverlays(ctx, s.text, req, max(len(images), 1))
	if err != nil {
		return nil, fmt.Errorf("template processing failed: %w", err)
	}

	return &Output{
		Text:          text,
		ImageURLs:     append([]string(nil), images...),
		TemplateTexts: texts,
		Metadata: models.GenerationMetadata{
			PromptsUsed:   append([]string{prompt.User}, prompts...),
			TemplateUsed:  req.Template.ID,
			ResourcesUsed: resourceIDs(req.Resources),
			Model:         s.model,
		},
	}, nil
}

// Carousel writes a caption plus one overlay per template slide.
type Carousel struct {
	text  connectors.TextGenerator
	model string
}

// NewCarousel creates the carousel strategy.
func NewCarousel(text connectors.TextGenerator, model string) *Carousel {
	return &Carousel{text: text, model: model}
}

// Type returns models.AgentCarousel.
func (s *Carousel) Type() models.AgentType { return models.AgentCarousel }

// Generate fills every slide of the template.
func (s *Carousel) Generate(ctx context.Context, req Request) (*Output, error) {
	if req.Template == nil {
		return nil, ErrTemplateNotFound
	}
	if len(req.Template.Images) == 0 {
		return nil, fmt.Errorf("carousel generation failed: template %s has no slides", req.Template.ID)
	}
	prompt := captionPrompt(req)
	text, err := writeCaption(ctx, s.text, req, prompt)
	if err != nil {
		return nil, err
	}

	texts, prompts, err := writeOverlays(ctx, s.text, req, len(req.Template.Images))
	if err != nil {
		return nil, fmt.Errorf("carousel generation failed: %w", err)
	}

	return &Output{
		Text:          text,
		ImageURLs:     append([]string(nil), req.Template.Images...),
		TemplateTexts: texts,
		Metadata: models.GenerationMetadata{
			PromptsUsed:   append([]string{prompt.User}, prompts...),
			TemplateUsed:  req.Template.ID,
			ResourcesUsed: resourceIDs(req.Resources),
			Model:         s.model,
		},
	}, nil
}

func writeCaption(ctx context.Context, gen connectors.TextGenerator, req Request, prompt connectors.Prompt) (string, error) {
	text, err := gen.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if err := checkLength(req.Item.SocialNetwork, text); err != nil {
		return "", err
	}
	return text, nil
}

func writeOverlays(ctx context.Context, gen connectors.TextGenerator, req Request, n int) ([]string, []string, error) {
	texts := make([]string, 0, n)
	prompts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := overlayPrompt(req, i, n)
		t, err := gen.GenerateText(ctx, p)
		if err != nil {
			return nil, nil, fmt.Errorf("slide %d: %w", i, err)
		}
		texts = append(texts, strings.TrimSpace(t))
		prompts = append(prompts, p.User)
	}
	return texts, prompts, nil
}
