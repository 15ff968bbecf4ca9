// Package oracle implements the generative oracle port against the OpenAI
// chat completions API, with schema-constrained structured output and a
// raw-text repair fallback.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	apperrors "github.com/venturekit/evosearch/internal/errors"

	"github.com/venturekit/evosearch/internal/core"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds a single oracle call.
	DefaultTimeout = 120 * time.Second

	// maxCallRetries bounds in-call retries of transient failures before the
	// error escalates to the phase level.
	maxCallRetries = 3

	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

// ErrAPIKeyNotSet is returned when no API key is configured.
var ErrAPIKeyNotSet = errors.New("oracle API key not set")

// ClientOptions configures the OpenAI oracle client.
type ClientOptions struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// Temperature for generation; the API default is used when zero.
	Temperature float64
	Logger      *slog.Logger
}

// Client implements core.Oracle against the OpenAI API.
type Client struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	temperature float64
	logger      *slog.Logger
}

// NewClient creates an oracle client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:      openai.NewClient(option.WithAPIKey(opts.APIKey)),
		model:       model,
		timeout:     timeout,
		temperature: opts.Temperature,
		logger:      logger,
	}, nil
}

// Generate calls the oracle, retrying transient failures (rate limit, 5xx,
// timeout) with bounded exponential backoff at the individual-call
// granularity. When a schema is supplied the response is constrained to it;
// content that still fails to parse goes through the repair path.
func (c *Client) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxCallRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, apperrors.OracleTransient(ctx.Err(), "oracle call timed out")
			case <-time.After(backoff):
			}
		}

		result, err := c.generateOnce(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "oracle call failed")
		}
		c.logger.WarnContext(ctx, "transient oracle failure, retrying",
			"attempt", attempt, "error", err)
	}
	return nil, apperrors.OracleTransient(lastErr, "oracle retries exhausted")
}

func (c *Client) generateOnce(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	content := completion.Choices[0].Message.Content
	if req.Schema != nil {
		content = RepairJSON(content)
	}
	return &core.GenerateResult{
		Content:    content,
		Model:      string(completion.Model),
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// RepairJSON extracts the outermost JSON object from content that may be
// wrapped in prose or markdown fences. Content that is already valid JSON is
// returned unchanged.
func RepairJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	var probe json.RawMessage
	if json.Unmarshal([]byte(trimmed), &probe) == nil {
		return trimmed
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return trimmed
	}
	var end int
	if trimmed[start] == '{' {
		end = strings.LastIndex(trimmed, "}")
	} else {
		end = strings.LastIndex(trimmed, "]")
	}
	if end <= start {
		return trimmed
	}
	candidate := trimmed[start : end+1]
	if json.Unmarshal([]byte(candidate), &probe) == nil {
		return candidate
	}
	return trimmed
}

// isTransient reports whether the error is a rate limit, server error, or
// timeout worth retrying in-call.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ core.Oracle = (*Client)(nil)
