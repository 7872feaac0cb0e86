// Package ai talks to a vision model served through Ollama's
// OpenAI-compatible API.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the model endpoint cannot be reached or
// returns no answer.
var ErrUnavailable = errors.New("ai model unavailable")

// Config selects the model and endpoint.
type Config struct {
	// Endpoint is the Ollama base URL, e.g. http://localhost:11434.
	Endpoint string
	Model    string
	Timeout  time.Duration
	// APIKey is sent as a bearer token; Ollama ignores it.
	APIKey string
}

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "gemma3:12b"
	defaultTimeout  = 2 * time.Minute
)

// Client implements crawler.Asker.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// New configures a client; it does not contact the endpoint.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL(cfg.Endpoint)
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger = logger.Named("ai")
	logger.Info("ai client configured", zap.String("model", cfg.Model), zap.String("base_url", clientConfig.BaseURL))
	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger,
	}
}

// baseURL appends the /v1 prefix of the OpenAI-compatible routes.
func baseURL(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, "/v1") {
		return endpoint
	}
	return endpoint + "/v1"
}

// Ask sends prompt, with the image at imagePath attached when it is not
// empty, and returns the trimmed answer.
func (c *Client) Ask(ctx context.Context, prompt, imagePath string) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if imagePath == "" {
		msg.Content = prompt
	} else {
		image, err := dataURL(imagePath)
		if err != nil {
			return "", err
		}
		msg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: image, Detail: openai.ImageURLDetailAuto}},
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ask %s: %w", c.model, ctx.Err())
		}
		return "", fmt.Errorf("ask %s: %w: %w", c.model, ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ask %s: %w: no choices returned", c.model, ErrUnavailable)
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("model answered",
		zap.String("image", imagePath),
		zap.Duration("took", time.Since(start)),
		zap.String("answer", answer),
	)
	return answer, nil
}

func dataURL(imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath) // #nosec G304 -- captures written by the scraper or named by the operator.
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", imagePath, err)
	}
	media := mimetype.Detect(data).String()
	if idx := strings.Index(media, ";"); idx >= 0 {
		media = media[:idx]
	}
	return "data:" + media + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
