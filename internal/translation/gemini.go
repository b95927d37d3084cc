package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GeminiOptions configures the Google Gemini backend.
type GeminiOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Retry       RetryPolicy
}

type GeminiClient struct {
	client *genai.Client
	logger *logrus.Logger
	opts   GeminiOptions
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions, logger *logrus.Logger) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		logger: logger,
		opts:   opts,
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) Name() string {
	return c.opts.Model
}

func (c *GeminiClient) model(system string, jsonMode bool) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.opts.Model)
	model.SetTemperature(c.opts.Temperature)
	if c.opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.opts.MaxTokens))
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if jsonMode {
		model.ResponseMIMEType = "application/json"
	}
	return model
}

func (c *GeminiClient) Translate(ctx context.Context, req Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}

	user, err := userPrompt(req.Texts)
	if err != nil {
		return nil, err
	}

	model := c.model(systemPrompt(req.SourceLang, req.TargetLang), true)
	response, err := c.generate(ctx, model, user)
	if err != nil {
		return nil, fmt.Errorf("failed to translate batch: %w", err)
	}

	return parseTranslations(response, len(req.Texts))
}

func (c *GeminiClient) DetectLanguage(ctx context.Context, text string) (string, error) {
	response, err := c.generate(ctx, c.model("", false), detectPrompt(text))
	if err != nil {
		return "", fmt.Errorf("failed to detect language: %w", err)
	}
	lang := parseLanguageCode(response)
	c.logger.Debugf("Detected language: %s", lang)
	return lang, nil
}

func (c *GeminiClient) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	var response string
	err := c.opts.Retry.Do(ctx, c.logger, func(ctx context.Context) error {
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return err
		}
		text := responseText(resp)
		if text == "" {
			return errors.New("empty response from gemini")
		}
		response = text
		return nil
	})
	return response, err
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
