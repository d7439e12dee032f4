package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/envutil"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	ImageModel  string
	ImageSize   string
	Temperature float64
	Timeout     time.Duration

	// RetryAttempts and RetryDelay bound every call: fixed delay, no jitter.
	RetryAttempts int
	RetryDelay    time.Duration
}

// ConfigFromEnv reads OPENAI_* and PROVIDER_RETRY_* with defaults.
func ConfigFromEnv() Config {
	return Config{
		APIKey:        envutil.String("OPENAI_API_KEY", ""),
		BaseURL:       envutil.String("OPENAI_BASE_URL", ""),
		TextModel:     envutil.String("OPENAI_TEXT_MODEL", "gpt-4o-mini"),
		ImageModel:    envutil.String("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		ImageSize:     envutil.String("OPENAI_IMAGE_SIZE", "1024x1024"),
		Temperature:   0.8,
		Timeout:       envutil.Duration("OPENAI_TIMEOUT", 180*time.Second),
		RetryAttempts: envutil.Int("PROVIDER_RETRY_ATTEMPTS", 3),
		RetryDelay:    envutil.Duration("PROVIDER_RETRY_DELAY", 2*time.Second),
	}
}

type ImageGeneration struct {
	Bytes         []byte
	MimeType      string
	RevisedPrompt string
}

// Client is the slice of the OpenAI API the story providers use.
type Client interface {
	// GenerateJSON asks for output conforming to schema and validates it
	// locally before returning.
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)

	// GenerateImage returns raster bytes (PNG unless the model says otherwise).
	GenerateImage(ctx context.Context, prompt string) (ImageGeneration, error)
}

type client struct {
	log        *logger.Logger
	sdk        sdk.Client
	httpClient *http.Client
	cfg        Config
	schemas    *schemaCache
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = "1024x1024"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are ours so the attempt budget is explicit.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &client{
		log:        log.With("service", "OpenAIClient"),
		sdk:        sdk.NewClient(opts...),
		httpClient: httpClient,
		cfg:        cfg,
		schemas:    newSchemaCache(),
	}, nil
}

func (c *client) retryOptions(ctx context.Context, op string) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.RetryAttempts)),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("openai call failed; retrying", "op", op, "attempt", n+1, "error", err)
		}),
	}
}

func (c *client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}
	validator, err := c.schemas.compile(schemaName, schema)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.cfg.TextModel),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(system),
			sdk.UserMessage(user),
		},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
				JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: sdk.Bool(true),
				},
			},
		},
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = sdk.Float(c.cfg.Temperature)
	}

	callStart := time.Now()
	obj, err := retry.DoWithData(func() (map[string]any, error) {
		started := time.Now()
		resp, err := c.sdk.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("no choices in response")
		}
		msg := resp.Choices[0].Message
		if strings.TrimSpace(msg.Refusal) != "" {
			return nil, retry.Unrecoverable(fmt.Errorf("model refused: %s", msg.Refusal))
		}
		raw, err := parseStructuredJSON(msg.Content)
		if err != nil {
			return nil, err
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode model JSON: %w", err)
		}
		if err := validator.Validate(obj); err != nil {
			return nil, fmt.Errorf("structured output does not match %s: %w", schemaName, err)
		}
		c.log.Debug("openai json generated", "schema", schemaName, "model", c.cfg.TextModel, "duration_ms", time.Since(started).Milliseconds())
		return obj, nil
	}, c.retryOptions(ctx, "generate_json")...)
	observability.Current().ObserveProvider("openai", "generate_json", err, time.Since(callStart))
	return obj, err
}

func (c *client) GenerateImage(ctx context.Context, prompt string) (ImageGeneration, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ImageGeneration{}, errors.New("image prompt required")
	}
	if strings.TrimSpace(c.cfg.ImageModel) == "" {
		return ImageGeneration{}, errors.New("missing OPENAI_IMAGE_MODEL")
	}
	params := sdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  sdk.ImageModel(c.cfg.ImageModel),
		N:      sdk.Int(1),
		Size:   sdk.ImageGenerateParamsSize(c.cfg.ImageSize),
	}
	// gpt-image-* always returns base64 and rejects response_format.
	if !strings.HasPrefix(strings.ToLower(c.cfg.ImageModel), "gpt-image-") {
		params.ResponseFormat = sdk.ImageGenerateParamsResponseFormatB64JSON
	}

	callStart := time.Now()
	img, err := retry.DoWithData(func() (ImageGeneration, error) {
		var out ImageGeneration
		resp, err := c.sdk.Images.Generate(ctx, params)
		if err != nil {
			return out, err
		}
		if len(resp.Data) == 0 {
			return out, errors.New("no image returned")
		}
		item := resp.Data[0]
		out.RevisedPrompt = strings.TrimSpace(item.RevisedPrompt)
		if b64 := strings.TrimSpace(item.B64JSON); b64 != "" {
			raw, err := base64.StdEncoding.DecodeString(b64)
			if err != nil || len(raw) == 0 {
				return out, retry.Unrecoverable(fmt.Errorf("decode image base64: %w", err))
			}
			out.Bytes = raw
			out.MimeType = mimeForFormat(string(resp.OutputFormat))
			return out, nil
		}
		if u := strings.TrimSpace(item.URL); u != "" {
			b, ct, err := c.download(ctx, u)
			if err != nil {
				return out, fmt.Errorf("download generated image: %w", err)
			}
			out.Bytes = b
			out.MimeType = ct
			return out, nil
		}
		return out, errors.New("image response missing b64_json and url")
	}, c.retryOptions(ctx, "generate_image")...)
	observability.Current().ObserveProvider("openai", "generate_image", err, time.Since(callStart))
	return img, err
}

func (c *client) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	ct := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if ct == "" {
		ct = "image/png"
	}
	return b, ct, nil
}

func mimeForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// isRetryable treats transport failures, 408, 429 and 5xx as transient.
// Other API statuses are the caller's fault and fail fast.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
