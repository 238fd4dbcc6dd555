package genai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/procflow-ai/procflow/internal/ratelimit"
)

// defaultMaxTokens caps responses when a request does not set its own limit.
const defaultMaxTokens = 4096

// Client is the Anthropic-backed Generator. Every call acquires a permit
// for its role before going out and releases it in all outcomes.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	limiter *ratelimit.Limiter
	tracker *TokenTracker
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Model is the default model for requests that do not set one.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// BaseURL overrides the API endpoint. Tests point it at a local server.
	BaseURL string
	// Limiter gates outbound calls. Required.
	Limiter *ratelimit.Limiter
}

// NewClient creates a new Anthropic-backed generation client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("genai: limiter is required")
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Client{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		limiter: cfg.Limiter,
		tracker: NewTokenTracker(),
	}, nil
}

// Model returns the configured default model.
func (c *Client) Model() anthropic.Model { return c.model }

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker { return c.tracker }

// Generate issues one rate-limited generation call and returns the raw
// response text. Failures carry a transient/permanent classification via
// *CallError; context errors pass through unclassified.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	permit, err := c.limiter.Acquire(ctx, req.Role)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, PermanentError("limiter", err)
	}

	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, callErr := c.inner.Messages.New(ctx, params)

	// The permit is released in all outcomes so a failed call cannot starve
	// the limiter. A reclaimed permit means we held it past the budget's
	// hold ceiling: the call is treated as failed-timeout.
	if relErr := c.limiter.Release(permit); errors.Is(relErr, ratelimit.ErrPermitReclaimed) {
		return nil, TransientError("hold_timeout", relErr)
	}

	if callErr != nil {
		return nil, classifyAPIError(ctx, callErr)
	}

	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	return &Response{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// classifyAPIError maps SDK and context failures onto the transient/permanent
// taxonomy. Rate rejection, timeouts and 5xx-equivalents are retryable;
// everything else is not.
func classifyAPIError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return TransientError("timeout", err)
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408 || apierr.StatusCode == 429:
			return TransientError(fmt.Sprintf("api_status_%d", apierr.StatusCode), err)
		case apierr.StatusCode >= 500:
			return TransientError(fmt.Sprintf("api_status_%d", apierr.StatusCode), err)
		default:
			return PermanentError(fmt.Sprintf("api_status_%d", apierr.StatusCode), err)
		}
	}

	// Network-level failures without a status are treated as transient.
	return TransientError("network", err)
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}
