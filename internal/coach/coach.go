// Package coach provides the text- and plan-generation delegates: a hosted
// OpenAI-compatible model, a remote gRPC coach service and a scripted
// local fallback.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/goalcoach/internal/conversation"
	"github.com/ashureev/goalcoach/internal/domain"
)

// Provider names accepted by New.
const (
	ProviderOpenAI   = "openai"
	ProviderGrpc     = "grpc"
	ProviderScripted = "scripted"
)

// PlanRequest is the input of plan synthesis.
type PlanRequest struct {
	Goal    string
	Answers []string
	// History, when set, is forwarded verbatim instead of Goal and Answers.
	History []domain.Message
	Persona domain.Persona
}

// Messages returns the conversation the planner sees: History when
// present, otherwise the goal followed by each answer as user turns.
func (r PlanRequest) Messages() []domain.Message {
	if len(r.History) > 0 {
		return r.History
	}
	msgs := make([]domain.Message, 0, len(r.Answers)+1)
	if r.Goal != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: "My goal: " + r.Goal})
	}
	for _, a := range r.Answers {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: a})
	}
	return msgs
}

// Planner synthesizes a plan. The payload is untyped and must be passed
// through the plan normalizer.
type Planner interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (any, error)
}

// Advisor produces the auxiliary texts: warm-up questions for a goal and
// an achievement summary for a plan.
type Advisor interface {
	Questions(ctx context.Context, goal string) ([]string, error)
	Summary(ctx context.Context, userID, plan string) (string, error)
}

// PlanPrompt is the system prompt used for plan synthesis.
const PlanPrompt = `Based on this conversation about social skills goals, create a detailed action plan following "How to Win Friends and Influence People" principles.

Return a JSON plan with this structure:
{
  "title": "Descriptive plan title",
  "description": "Brief description of the plan",
  "totalDuration": "number of days",
  "feasibilityScore": "score from 1-100",
  "steps": [
    {
      "id": "unique-id",
      "title": "Step title",
      "description": "Detailed description with actionable tasks",
      "estimatedDays": "number of days",
      "difficulty": "easy|medium|hard",
      "completed": false
    }
  ]
}

Make it specific to their goals and practical to implement.`

func replyPrompt(persona domain.Persona, instruction string) string {
	if instruction == "" {
		return persona.SystemPrompt
	}
	return persona.SystemPrompt + "\n\n" + instruction
}

func questionsPrompt(goal string) string {
	return fmt.Sprintf("A user wants to work on this social skills goal: %q. Ask exactly 3 short questions, one per line, that uncover their current challenge, what success looks like and what has blocked them. Output only the questions.", goal)
}

func summaryPrompt(plan string) string {
	return "Write a short, encouraging achievement summary for someone who completed the following social skills plan. Mention concrete progress and suggest one next step.\n\n" + plan
}

// splitLines returns the non-empty trimmed lines of text, dropping list markers.
func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Config selects and configures the delegates.
type Config struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	GrpcAddr       string
	RequestTimeout time.Duration
	Retry          RetryConfig
}

// Delegates is the set of delegates the server is wired with. Replier is
// nil for the scripted provider, in which case the conversation
// controller answers with the persona's scripted questions.
type Delegates struct {
	Provider string
	Replier  conversation.Replier
	Planner  Planner
	Advisor  Advisor
	closer   func() error
}

// Close releases delegate resources.
func (d *Delegates) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	return d.closer()
}

// New builds the delegates for cfg.Provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Delegates, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		client, err := NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			RequestTimeout: cfg.RequestTimeout,
			Retry:          cfg.Retry,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Delegates{Provider: cfg.Provider, Replier: client, Planner: client, Advisor: client}, nil

	case ProviderGrpc:
		client, err := NewGrpcClient(ctx, GrpcClientConfig{
			Address:        cfg.GrpcAddr,
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: cfg.RequestTimeout,
			Retry:          cfg.Retry,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Delegates{
			Provider: cfg.Provider,
			Replier:  client,
			Planner:  client,
			Advisor:  Scripted{},
			closer:   client.Close,
		}, nil

	case ProviderScripted, "":
		return &Delegates{Provider: ProviderScripted, Planner: Scripted{}, Advisor: Scripted{}}, nil

	default:
		return nil, fmt.Errorf("unknown coach provider %q", cfg.Provider)
	}
}
