package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the hosted model. Groq serves an OpenAI-compatible API.
const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.1-8b-instant"
)

const (
	replyTemperature = 0.7
	replyMaxTokens   = 300
	planTemperature  = 0.3
	planMaxTokens    = 1000
)

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	Retry          RetryConfig
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIClient implements the reply, plan and advisor delegates on a
// hosted OpenAI-compatible chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	retry  RetryConfig
	logger *slog.Logger
}

// NewOpenAIClient creates a client. The API key is required.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai provider requires an API key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		retry:  cfg.Retry,
		logger: logger.With("component", "openai"),
	}, nil
}

func toChatMessages(system string, history []domain.Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

func (c *OpenAIClient) complete(ctx context.Context, op string, msgs []openai.ChatCompletionMessage, temperature float32, maxTokens int) (string, error) {
	return retry(ctx, c.retry, c.logger, op, func(ctx context.Context) (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    msgs,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", NewTransientError(errors.New("completion returned no choices"))
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// GenerateReply produces the next conversational utterance.
func (c *OpenAIClient) GenerateReply(ctx context.Context, history []domain.Message, persona domain.Persona, instruction string) (string, error) {
	reply, err := c.complete(ctx, "reply", toChatMessages(replyPrompt(persona, instruction), history), replyTemperature, replyMaxTokens)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return reply, nil
}

// GeneratePlan returns the raw completion text; the normalizer extracts
// the plan from it.
func (c *OpenAIClient) GeneratePlan(ctx context.Context, req PlanRequest) (any, error) {
	text, err := c.complete(ctx, "plan", toChatMessages(PlanPrompt, req.Messages()), planTemperature, planMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	return text, nil
}

// Questions asks the model for three warm-up questions about goal.
func (c *OpenAIClient) Questions(ctx context.Context, goal string) ([]string, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: questionsPrompt(goal)}}
	text, err := c.complete(ctx, "questions", msgs, replyTemperature, replyMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	questions := splitLines(text)
	if len(questions) == 0 {
		return nil, errors.New("generate questions: empty response")
	}
	return questions, nil
}

// Summary asks the model for an achievement summary of plan.
func (c *OpenAIClient) Summary(ctx context.Context, userID, plan string) (string, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: summaryPrompt(plan)}}
	text, err := c.complete(ctx, "summary", msgs, replyTemperature, replyMaxTokens)
	if err != nil {
		c.logger.Warn("achievement summary failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("generate summary: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// classifyOpenAIError marks rate limiting, server errors and network
// failures as transient; everything else is fatal.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return NewTransientError(err)
	case status >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
