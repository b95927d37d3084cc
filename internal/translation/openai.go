package translation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIOptions configures an OpenAI-compatible chat completion backend.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Retry       RetryPolicy
}

type OpenAIClient struct {
	client      *openai.Client
	logger      *logrus.Logger
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	retry       RetryPolicy
	wsHub       Broadcaster
}

func NewOpenAIClient(opts OpenAIOptions, logger *logrus.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		logger:      logger,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		retry:       opts.Retry,
	}
}

// SetBroadcaster enables llm_request and llm_response events.
func (c *OpenAIClient) SetBroadcaster(hub Broadcaster) {
	c.wsHub = hub
}

func (c *OpenAIClient) Name() string {
	return c.model
}

func (c *OpenAIClient) DetectLanguage(ctx context.Context, text string) (string, error) {
	requestContext := map[string]interface{}{
		"input_length":  len(text),
		"input_preview": truncateText(text, 100),
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: detectPrompt(text)},
	}

	response, err := c.makeRequest(ctx, messages, false, "language_detection", requestContext)
	if err != nil {
		return "", fmt.Errorf("failed to detect language: %w", err)
	}

	lang := parseLanguageCode(response)
	c.logger.Debugf("Detected language: %s", lang)
	return lang, nil
}

// Translate sends the whole batch as one JSON request.
func (c *OpenAIClient) Translate(ctx context.Context, req Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}

	user, err := userPrompt(req.Texts)
	if err != nil {
		return nil, err
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.SourceLang, req.TargetLang)},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}

	requestContext := map[string]interface{}{
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
		"texts":       len(req.Texts),
	}

	response, err := c.makeRequest(ctx, messages, true, "batch_translation", requestContext)
	if err != nil {
		return nil, fmt.Errorf("failed to translate batch: %w", err)
	}

	return parseTranslations(response, len(req.Texts))
}

func (c *OpenAIClient) makeRequest(ctx context.Context, messages []openai.ChatCompletionMessage, jsonMode bool, requestType string, requestContext map[string]interface{}) (string, error) {
	requestID := uuid.New().String()
	startTime := time.Now()

	if c.wsHub != nil {
		c.wsHub.BroadcastMessage("llm_request", map[string]interface{}{
			"request_id":   requestID,
			"model":        c.model,
			"prompt":       truncateText(messages[len(messages)-1].Content, 1000),
			"max_tokens":   c.maxTokens,
			"temperature":  c.temperature,
			"timestamp":    startTime,
			"request_type": requestType,
			"context":      requestContext,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    messages,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var (
		response     string
		tokensUsed   int
		finishReason string
	)

	err := c.retry.Do(ctx, c.logger, func(ctx context.Context) error {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no response choices returned")
		}

		response = resp.Choices[0].Message.Content
		tokensUsed = resp.Usage.TotalTokens
		finishReason = string(resp.Choices[0].FinishReason)
		return nil
	})

	if c.wsHub != nil {
		respMsg := map[string]interface{}{
			"request_id":    requestID,
			"response":      truncateText(response, 1000),
			"tokens_used":   tokensUsed,
			"finish_reason": finishReason,
			"duration":      time.Since(startTime).String(),
			"success":       err == nil,
			"timestamp":     time.Now(),
			"context":       requestContext,
		}
		if err != nil {
			respMsg["error"] = err.Error()
		}
		c.wsHub.BroadcastMessage("llm_response", respMsg)
	}

	if err != nil {
		return "", err
	}
	return response, nil
}
