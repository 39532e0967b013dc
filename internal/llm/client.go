package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/retry"
)

const textSystemPrompt = "你是一个专业的内容分析师，擅长总结和提取关键信息。"

// maxImagesPerCall caps the attachments sent on one vision request.
const maxImagesPerCall = 10

// Client is the uniform call surface for the text, vision and smart models.
// All calls stream the completion and assemble the chunks.
type Client struct {
	api    *openai.Client
	cfg    config.LLMConfig
	logger *slog.Logger
}

// Result is a successful model call.
type Result struct {
	Content string
	Model   string
}

// ImageAttachment is one image for a vision call: either a remote URL or an
// inline base64 payload.
type ImageAttachment struct {
	URL    string
	Base64 string
}

// NewClient builds the model client. A missing API key fails fast.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:    openai.NewClientWithConfig(apiConfig),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// CallText runs a text chat completion against the given model.
func (c *Client) CallText(ctx context.Context, prompt, model string, temperature float32) (*Result, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: textSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	return c.call(ctx, model, messages, temperature, nil)
}

// CallVision runs a vision chat completion with image attachments. A
// 400-class provider error or a bad-image-format message aborts the retry
// loop immediately.
func (c *Client) CallVision(ctx context.Context, prompt, model string, images []ImageAttachment, temperature float32) (*Result, error) {
	if len(images) > maxImagesPerCall {
		images = images[:maxImagesPerCall]
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, img := range images {
		url := img.URL
		if url == "" {
			url = img.Base64
			if !strings.HasPrefix(url, "data:") {
				url = "data:image/png;base64," + url
			}
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		})
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	}

	return c.call(ctx, model, messages, temperature, AbortOnBadRequest)
}

// CallSmart runs the smart model, or when modelOverride is empty, tries the
// configured report models in order and returns the first success.
func (c *Client) CallSmart(ctx context.Context, prompt string, temperature float32, modelOverride string) (*Result, error) {
	if modelOverride != "" {
		return c.CallText(ctx, prompt, modelOverride, temperature)
	}

	models := c.cfg.ReportModels
	if len(models) == 0 {
		models = []string{c.cfg.SmartModel}
	}

	var lastErr error
	for _, model := range models {
		result, err := c.CallText(ctx, prompt, model, temperature)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.logger.Warn("smart model failed, trying next", "model", model, "error", err)
	}

	return nil, fmt.Errorf("all smart models failed: %w", lastErr)
}

func (c *Client) call(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32, abort func(error) bool) (*Result, error) {
	policy := retry.Policy{
		MaxAttempts: c.cfg.MaxRetries,
		BaseDelay:   2 * time.Second,
		Abort:       abort,
	}

	var content string
	err := retry.Do(ctx, policy, func() error {
		assembled, err := c.stream(ctx, model, messages, temperature)
		if err != nil {
			c.logger.Warn("model call failed", "model", model, "error", err)
			return err
		}
		content = assembled
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{Content: content, Model: model}, nil
}

// stream issues one streaming completion and concatenates the chunk deltas.
// Malformed chunks are skipped with a warning; an empty final assembly is an
// error.
func (c *Client) stream(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stream read: %w", err)
		}

		if len(chunk.Choices) == 0 {
			c.logger.Warn("skipping malformed stream chunk", "model", model)
			continue
		}
		sb.WriteString(chunk.Choices[0].Delta.Content)
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", fmt.Errorf("model %s returned empty content", model)
	}
	return content, nil
}

// AbortOnBadRequest reports whether a model error will never succeed on
// retry: a 4xx provider response or a malformed-image complaint.
func AbortOnBadRequest(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "400") ||
		strings.Contains(msg, "bad image format") ||
		strings.Contains(msg, "invalid image")
}
