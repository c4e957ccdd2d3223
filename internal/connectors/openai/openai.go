// Package openai implements the connectors.Provider interface with the
// official openai-go SDK (chat completions and image generation).
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fentz26/postloom/internal/connectors"
)

const (
	defaultTextModel  = "gpt-4o-mini"
	defaultImageModel = "dall-e-3"
	defaultImageSize  = "1024x1024"
)

// Client talks to the OpenAI API.
type Client struct {
	client     openai.Client
	textModel  string
	imageModel string
	imageSize  string
}

var _ connectors.Provider = (*Client)(nil)

// New builds a client from provider settings.
func New(cfg connectors.Settings) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide provider.api_key or OPENAI_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &Client{
		client:     openai.NewClient(opts...),
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
		imageSize:  cfg.ImageSize,
	}
	if c.textModel == "" {
		c.textModel = defaultTextModel
	}
	if c.imageModel == "" {
		c.imageModel = defaultImageModel
	}
	if c.imageSize == "" {
		c.imageSize = defaultImageSize
	}
	return c, nil
}

// Name returns the connector identifier.
func (c *Client) Name() string { return "openai" }

// Model returns the configured text model.
func (c *Client) Model() string { return c.textModel }

// GenerateText runs a chat completion.
func (c *Client) GenerateText(ctx context.Context, prompt connectors.Prompt) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	if prompt.System != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt.User))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.textModel),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai api error: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage creates one image and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(c.imageModel),
		Size:           openai.ImageGenerateParamsSize(c.imageSize),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("openai api error: empty image response")
	}
	return resp.Data[0].URL, nil
}
