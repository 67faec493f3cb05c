package crew

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to an LLM.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest asks an LLM for a single reply. An empty Model uses
// the LLM's default.
type CompletionRequest struct {
	Model    string
	Messages []Message
}

// LLM produces a completion for a conversation.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// TaskOutput is the result of one task. A skipped conditional task has
// Skipped set and no Raw.
type TaskOutput struct {
	Name        string
	Agent       string
	Description string
	Raw         string
	Attempts    int
	OutputFile  string
	Skipped     bool
}

// Output is the result of a kickoff. Raw is the last task's output.
type Output struct {
	Raw   string
	Tasks []TaskOutput
}

// Crew runs its tasks sequentially, feeding each task the outputs of the
// tasks before it. A Crew holds no per-kickoff state and may be kicked off
// concurrently, as long as no two kickoffs write the same output file.
type Crew struct {
	cfg    *Config
	llm    LLM
	tracer trace.Tracer
	logger *zap.Logger
}

// New creates a crew from a validated configuration.
func New(cfg *Config, llm LLM, logger *zap.Logger) (*Crew, error) {
	if llm == nil {
		return nil, ErrNilLLM
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crew{
		cfg:    cfg,
		llm:    llm,
		tracer: otel.Tracer("github.com/fruitflow/fruitflow/internal/crew"),
		logger: logger.With(zap.String("component", "crew")),
	}, nil
}

// Kickoff runs the before hooks, every task with inputs substituted into
// agent and task text, then the after hooks.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]any) (*Output, error) {
	ctx, span := c.tracer.Start(ctx, "crew kickoff")
	defer span.End()

	out, err := c.kickoff(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (c *Crew) kickoff(ctx context.Context, inputs map[string]any) (*Output, error) {
	inputs = maps.Clone(inputs)
	if inputs == nil {
		inputs = make(map[string]any)
	}
	for _, hook := range c.cfg.BeforeKickoff {
		var err error
		if inputs, err = hook(ctx, inputs); err != nil {
			return nil, fmt.Errorf("before kickoff: %w", err)
		}
	}

	out := &Output{Tasks: make([]TaskOutput, 0, len(c.cfg.Tasks))}
	var done []TaskOutput
	for _, task := range c.cfg.Tasks {
		if task.Condition != nil && len(done) > 0 && !task.Condition(done[len(done)-1]) {
			c.logger.Info("skipping conditional task", zap.String("task", task.Name))
			out.Tasks = append(out.Tasks, TaskOutput{Name: task.Name, Agent: task.Agent, Skipped: true})
			continue
		}
		res, err := c.runTask(ctx, task, inputs, done)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}
		if task.OutputFile != "" {
			if res.OutputFile, err = writeOutputFile(task.OutputFile, inputs, res.Raw); err != nil {
				return nil, fmt.Errorf("task %s: %w", task.Name, err)
			}
		}
		out.Tasks = append(out.Tasks, res)
		done = append(done, res)
		out.Raw = res.Raw
	}

	for _, hook := range c.cfg.AfterKickoff {
		var err error
		if out, err = hook(ctx, out); err != nil {
			return nil, fmt.Errorf("after kickoff: %w", err)
		}
	}
	return out, nil
}

// writeOutputFile writes raw to the interpolated path, creating parent
// directories.
func writeOutputFile(pattern string, inputs map[string]any, raw string) (string, error) {
	path, err := Interpolate(pattern, inputs)
	if err != nil {
		return "", fmt.Errorf("output file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("output file: %w", err)
	}
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("output file: %w", err)
	}
	return path, nil
}

func (c *Crew) runTask(ctx context.Context, task TaskConfig, inputs map[string]any, prior []TaskOutput) (TaskOutput, error) {
	ctx, span := c.tracer.Start(ctx, "task "+task.Name, trace.WithAttributes(
		attribute.String("crew.task", task.Name),
		attribute.String("crew.agent", task.Agent),
	))
	defer span.End()

	agent := c.cfg.Agents[task.Agent]
	msgs, err := buildMessages(agent, task, inputs, prior)
	if err != nil {
		return TaskOutput{}, err
	}

	out := TaskOutput{
		Name:        task.Name,
		Agent:       task.Agent,
		Description: msgs[1].Content,
	}
	guard := task.guardrail()
	for {
		out.Attempts++
		c.logger.Debug("running task", zap.String("task", task.Name), zap.String("agent", task.Agent), zap.Int("attempt", out.Attempts))
		raw, err := c.llm.Complete(ctx, CompletionRequest{Model: agent.LLM, Messages: msgs})
		if err != nil {
			return TaskOutput{}, err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return TaskOutput{}, ErrEmptyOutput
		}
		out.Raw = raw
		if guard == nil {
			return out, nil
		}

		kept, err := guard(out)
		if err == nil {
			out.Raw = kept
			return out, nil
		}
		if !errors.Is(err, ErrGuardrail) || out.Attempts > task.MaxRetries {
			span.RecordError(err)
			return TaskOutput{}, fmt.Errorf("guardrail after %d attempts: %w", out.Attempts, err)
		}
		c.logger.Warn("task output rejected, retrying",
			zap.String("task", task.Name), zap.Int("attempt", out.Attempts), zap.Error(err))
		msgs = append(msgs,
			Message{Role: RoleAssistant, Content: raw},
			Message{Role: RoleUser, Content: retryPrompt(err)},
		)
	}
}

func retryPrompt(err error) string {
	return "Your previous answer did not pass validation:\n" + err.Error() +
		"\nFix the problem and give your complete final answer again."
}

func buildMessages(agent AgentConfig, task TaskConfig, inputs map[string]any, prior []TaskOutput) ([]Message, error) {
	var fields [5]string
	for i, text := range []string{agent.Role, agent.Goal, agent.Backstory, task.Description, task.ExpectedOutput} {
		s, err := Interpolate(text, inputs)
		if err != nil {
			return nil, err
		}
		fields[i] = s
	}
	role, goal, backstory, description, expected := fields[0], fields[1], fields[2], fields[3], fields[4]

	system := fmt.Sprintf("You are %s. %s\nYour personal goal is: %s", role, backstory, goal)

	var user strings.Builder
	fmt.Fprintf(&user, "Current Task: %s\n\nThis is the expected criteria for your final answer: %s\n", description, expected)
	user.WriteString("You MUST return the actual complete content as the final answer, not a summary.")
	if len(prior) > 0 {
		user.WriteString("\n\nThis is the context you're working with:\n")
		for i, p := range prior {
			if i > 0 {
				user.WriteString("\n\n----------\n\n")
			}
			user.WriteString(p.Raw)
		}
	}

	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user.String()},
	}, nil
}
