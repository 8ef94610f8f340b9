package parsing

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Environment variable constants for the vision model integration
const (
	EnvVisionAPIBase   = "ANKIBOT_VISION_API_URL"    // e.g. "https://api.openai.com/v1"
	EnvVisionModel     = "ANKIBOT_VISION_MODEL"      // e.g. "gpt-4.1-mini"
	EnvVisionAPIKey    = "ANKIBOT_VISION_API_KEY"    // API key for the provider
	EnvVisionMaxTokens = "ANKIBOT_VISION_MAX_TOKENS" // Maximum tokens per response (default: 8192)
	EnvVisionTimeout   = "ANKIBOT_VISION_TIMEOUT"    // Per-page timeout in seconds (default: 120)
	EnvVisionRateLimit = "ANKIBOT_VISION_RATE_LIMIT" // Outbound requests per second (default: 5)
)

// Default vision client settings
const (
	DefaultMaxTokens         = 8192
	DefaultTimeout           = 120
	DefaultRequestsPerSecond = 5
)

const extractionSystemPrompt = "You are a helpful assistant that extracts text and tables from images. " +
	"Return the content in clean markdown format. For tables, use markdown table syntax. " +
	"Preserve the original structure as much as possible. Only answer with the content."

const extractionUserPrompt = "Extract all text and tables from this image."

// Extractor turns one page image into Markdown text. Each page is submitted
// independently; pages carry no cross-page context.
type Extractor interface {
	Extract(ctx context.Context, page Page) (string, error)
}

// VisionClient sends page images to an OpenAI-compatible vision model. It
// keeps no state between calls beyond the shared rate limiter.
type VisionClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *logrus.Logger
}

// NewVisionClient builds a client from the ANKIBOT_VISION_* environment
// variables. It fails fast when the endpoint is not configured so a
// misconfigured server refuses uploads instead of failing every job.
func NewVisionClient(logger *logrus.Logger) (*VisionClient, error) {
	baseURL := os.Getenv(EnvVisionAPIBase)
	model := os.Getenv(EnvVisionModel)
	apiKey := os.Getenv(EnvVisionAPIKey)

	if model == "" || apiKey == "" {
		return nil, fmt.Errorf("vision model environment variables not configured: required %s, %s",
			EnvVisionModel, EnvVisionAPIKey)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	rps := getEnvInt(EnvVisionRateLimit, DefaultRequestsPerSecond)
	timeout := time.Duration(getEnvInt(EnvVisionTimeout, DefaultTimeout)) * time.Second

	return &VisionClient{
		client:    &client,
		model:     model,
		maxTokens: getEnvInt(EnvVisionMaxTokens, DefaultMaxTokens),
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:    logger,
	}, nil
}

// IsVisionConfigured checks if the required environment variables are set.
func IsVisionConfigured() bool {
	return os.Getenv(EnvVisionModel) != "" && os.Getenv(EnvVisionAPIKey) != ""
}

// Extract sends a single page image and returns the Markdown the model saw
// on it. The call is bounded by the configured per-page timeout; failures
// are wrapped in ExtractionError for the pipeline's placeholder policy.
func (c *VisionClient) Extract(ctx context.Context, page Page) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &ExtractionError{Page: page.Index, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURI := fmt.Sprintf("data:%s;base64,%s", page.MIME, base64.StdEncoding.EncodeToString(page.Data))

	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(extractionUserPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURI,
				}),
			}),
		},
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", &ExtractionError{Page: page.Index, Err: err}
	}

	if len(response.Choices) == 0 {
		return "", &ExtractionError{Page: page.Index, Err: fmt.Errorf("no response choices returned")}
	}

	text := response.Choices[0].Message.Content

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"page":  page.Index + 1,
			"chars": len(text),
		}).Debug("Extracted page text")
	}

	return text, nil
}

// getEnvInt reads an integer environment variable with a fallback default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
