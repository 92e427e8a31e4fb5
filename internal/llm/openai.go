package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// OpenAIClient calls /chat/completions and retries timeouts, transport
// errors, 429 and 5xx with exponential backoff. Other 4xx fail at once.
type OpenAIClient struct {
	client     openai.Client
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

func NewOpenAI(cfg Config, log *zap.Logger) *OpenAIClient {
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithAPIKey(cfg.APIKey),
		// retries are ours, see Chat
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	wait := cfg.RetryBackoff
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    wait,
		log:        log,
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    toParams(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if !retryable(ctx, err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(ErrEmptyResponse)
		}
		return resp.Choices[0].Message.Content, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug("retrying chat completion",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt),
				zap.Duration("wait", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return text, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func toParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
