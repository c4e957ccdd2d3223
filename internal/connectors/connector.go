// Package connectors defines the AI capability interfaces consumed by the
// generation strategies.
package connectors

import "context"

// Prompt is a single system/user exchange sent to a text model.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt Prompt) (string, error)
}

// ImageGenerator produces an image and returns its URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Provider bundles both capabilities behind one identity.
type Provider interface {
	TextGenerator
	ImageGenerator

	// Name returns the connector identifier.
	Name() string

	// Model returns the text model recorded in generation metadata.
	Model() string
}

// Settings configures a concrete provider.
type Settings struct {
	Kind       string `yaml:"kind"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"`
	ImageSize  string `yaml:"image_size"`
}
