// Package offline provides a deterministic provider that never touches the
// network. It backs local runs and tests.
package offline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fentz26/postloom/internal/connectors"
)

// maxTextLen keeps generated captions under the tightest network limit.
const maxTextLen = 240

// Provider echoes the brief back as a short caption.
type Provider struct {
	// ImageBaseURL prefixes generated image references.
	ImageBaseURL string
}

var _ connectors.Provider = (*Provider)(nil)

// New creates an offline provider.
func New() *Provider {
	return &Provider{ImageBaseURL: "https://images.postloom.local/"}
}

// Name returns the connector identifier.
func (p *Provider) Name() string { return "offline" }

// Model returns the pseudo model name.
func (p *Provider) Model() string { return "offline" }

// GenerateText builds a caption from the title and brief lines of the prompt.
func (p *Provider) GenerateText(ctx context.Context, prompt connectors.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var title, brief string
	for _, line := range strings.Split(prompt.User, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Title:"):
			title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "Brief:"):
			brief = strings.TrimSpace(strings.TrimPrefix(line, "Brief:"))
		}
	}

	text := strings.TrimSpace(title + "\n\n" + brief)
	if text == "" {
		text = strings.TrimSpace(prompt.User)
	}
	return clip(text, maxTextLen), nil
}

// GenerateImage returns a stable URL derived from the prompt.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(prompt))
	return p.ImageBaseURL + hex.EncodeToString(sum[:8]) + ".png", nil
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit-3])
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
