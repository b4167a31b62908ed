package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhng/llm-router/internal/provider"
	"github.com/khanhng/llm-router/internal/routing"
)

// Completer is the slice of the fallback manager the agent needs.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request, opts routing.Options) (*provider.Response, error)
}

type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseAct     Phase = "act"
	PhaseReflect Phase = "reflect"
)

type Step struct {
	Phase   Phase  `json:"phase"`
	Content string `json:"content"`
}

type Result struct {
	Answer string `json:"answer"`
	Steps  []Step `json:"steps"`
}

const (
	planPrompt    = "Break the task into a short numbered plan. Be brief."
	actPrompt     = "Carry out the next unfinished step of the plan. Show only the work for that step."
	reflectPrompt = "Review the work so far. If the task is fully solved, reply with exactly DONE on the first line followed by the final answer. Otherwise reply CONTINUE and name what is missing."
)

const defaultMaxCycles = 5

// Agent drives a plan/act/reflect loop over the completion manager.
// Planning and reflection are tagged complex so routing rules can send
// them to a stronger model; acting is left untagged.
type Agent struct {
	completer    Completer
	logger       *zap.Logger
	systemPrompt string
	maxCycles    int
}

type Option func(*Agent)

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

func WithMaxCycles(n int) Option {
	return func(a *Agent) { a.maxCycles = n }
}

func New(completer Completer, logger *zap.Logger, opts ...Option) *Agent {
	a := &Agent{
		completer: completer,
		logger:    logger,
		maxCycles: defaultMaxCycles,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes the loop until reflection declares the task done or the
// cycle budget runs out, in which case the last reflection is the answer.
func (a *Agent) Run(ctx context.Context, task string) (*Result, error) {
	result := &Result{}
	history := []provider.Message{
		{Role: "user", Content: task},
	}

	plan, err := a.step(ctx, history, planPrompt, "complex")
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	result.Steps = append(result.Steps, Step{Phase: PhasePlan, Content: plan})
	history = append(history, provider.Message{Role: "assistant", Content: plan})

	for cycle := 0; cycle < a.maxCycles; cycle++ {
		act, err := a.step(ctx, history, actPrompt, "")
		if err != nil {
			return nil, fmt.Errorf("acting failed: %w", err)
		}
		result.Steps = append(result.Steps, Step{Phase: PhaseAct, Content: act})
		history = append(history, provider.Message{Role: "assistant", Content: act})

		reflection, err := a.step(ctx, history, reflectPrompt, "complex")
		if err != nil {
			return nil, fmt.Errorf("reflection failed: %w", err)
		}
		result.Steps = append(result.Steps, Step{Phase: PhaseReflect, Content: reflection})

		if answer, done := parseReflection(reflection); done {
			result.Answer = answer
			a.logger.Debug("agent finished", zap.Int("cycles", cycle+1))
			return result, nil
		}
		history = append(history, provider.Message{Role: "assistant", Content: reflection})
	}

	// Budget exhausted: surface the last act as the best effort.
	result.Answer = result.Steps[len(result.Steps)-2].Content
	a.logger.Debug("agent hit cycle budget", zap.Int("cycles", a.maxCycles))
	return result, nil
}

func (a *Agent) step(ctx context.Context, history []provider.Message, instruction, complexity string) (string, error) {
	messages := make([]provider.Message, len(history), len(history)+1)
	copy(messages, history)
	messages = append(messages, provider.Message{Role: "user", Content: instruction})

	req := &provider.Request{
		Messages:     messages,
		SystemPrompt: a.systemPrompt,
	}
	if complexity != "" {
		req.Metadata = map[string]string{provider.MetaComplexity: complexity}
	}

	resp, err := a.completer.Complete(ctx, req, routing.DefaultOptions())
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func parseReflection(reflection string) (string, bool) {
	trimmed := strings.TrimSpace(reflection)
	if !strings.HasPrefix(trimmed, "DONE") {
		return "", false
	}
	answer := strings.TrimSpace(strings.TrimPrefix(trimmed, "DONE"))
	return answer, true
}
