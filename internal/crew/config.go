// Package crew runs a sequence of LLM tasks, each performed by a
// role-playing agent, configured from agents.yaml and tasks.yaml.
package crew

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes an agent persona. LLM optionally overrides the
// model for tasks this agent performs.
type AgentConfig struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
	LLM       string `yaml:"llm,omitempty"`
}

// TaskConfig describes one unit of work. Name is the task's key in
// tasks.yaml.
//
// OutputFile, when set, receives the accepted output; it may contain
// {input} placeholders. MaxWords adds a word-count guardrail in front of
// Guardrail. A rejected output is sent back to the agent with the
// rejection up to MaxRetries times. A task with a Condition is skipped
// when the condition is false for the previous task's output.
type TaskConfig struct {
	Name           string `yaml:"-"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	Agent          string `yaml:"agent"`
	OutputFile     string `yaml:"output_file,omitempty"`
	MaxWords       int    `yaml:"max_words,omitempty"`
	MaxRetries     int    `yaml:"max_retries,omitempty"`

	Guardrail Guardrail `yaml:"-"`
	Condition Condition `yaml:"-"`
}

// guardrail combines MaxWords and Guardrail. Nil means every output is
// accepted.
func (t TaskConfig) guardrail() Guardrail {
	switch {
	case t.MaxWords > 0 && t.Guardrail != nil:
		return Chain(MaxWords(t.MaxWords), t.Guardrail)
	case t.MaxWords > 0:
		return MaxWords(t.MaxWords)
	default:
		return t.Guardrail
	}
}

// Config is a crew definition. Tasks run in declaration order. Hooks run
// in slice order around every kickoff.
type Config struct {
	Agents        map[string]AgentConfig
	Tasks         []TaskConfig
	BeforeKickoff []BeforeKickoff
	AfterKickoff  []AfterKickoff
}

// LoadConfig reads an agents file and a tasks file.
func LoadConfig(agentsPath, tasksPath string) (*Config, error) {
	agentsData, err := os.ReadFile(agentsPath)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	tasksData, err := os.ReadFile(tasksPath)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	return ParseConfig(agentsData, tasksData)
}

// ParseConfig parses agents and tasks YAML and validates the result.
func ParseConfig(agentsData, tasksData []byte) (*Config, error) {
	agents := make(map[string]AgentConfig)
	if err := yaml.Unmarshal(agentsData, &agents); err != nil {
		return nil, fmt.Errorf("parse agents YAML: %w", err)
	}
	tasks, err := parseTasks(tasksData)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Agents: agents, Tasks: tasks}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseTasks walks the mapping node so tasks keep file order.
func parseTasks(data []byte) ([]TaskConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tasks YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse tasks YAML: line %d: expected a mapping of task names", root.Line)
	}
	tasks := make([]TaskConfig, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		var t TaskConfig
		if err := root.Content[i+1].Decode(&t); err != nil {
			return nil, fmt.Errorf("parse task %q: %w", root.Content[i].Value, err)
		}
		t.Name = root.Content[i].Value
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Validate checks that there is work to do, that every task names a
// known agent and that the first task always runs.
func (c *Config) Validate() error {
	if len(c.Tasks) == 0 {
		return ErrNoTasks
	}
	if c.Tasks[0].Condition != nil {
		return fmt.Errorf("%w: %q", ErrConditional, c.Tasks[0].Name)
	}
	for _, t := range c.Tasks {
		if _, ok := c.Agents[t.Agent]; !ok {
			return fmt.Errorf("%w: task %q wants %q", ErrUnknownAgent, t.Name, t.Agent)
		}
		if t.MaxWords < 0 || t.MaxRetries < 0 {
			return fmt.Errorf("%w: task %q: max_words and max_retries must not be negative", ErrInvalidTask, t.Name)
		}
	}
	return nil
}

// Limits of the built-in poem crew.
const (
	PoemMaxWords   = 150
	PoemMaxRetries = 3
)

// DefaultPoemConfig is the built-in poem crew used when no YAML is configured.
func DefaultPoemConfig() *Config {
	return &Config{
		Agents: map[string]AgentConfig{
			"poem_writer": {
				Role: "Fruit Poem Writer",
				Goal: "Generate a funny, light hearted poem about fruit " +
					"with a sentence count of {sentence_count}",
				Backstory: "You're a creative poet with a talent for capturing the essence of any topic " +
					"in a beautiful and engaging way. Known for your ability to craft poems that " +
					"resonate with readers, you bring a unique perspective and artistic flair to every piece you write.",
			},
		},
		Tasks: []TaskConfig{{
			Name: "write_poem",
			Description: "Write a poem about fruit. Ensure the poem is engaging and adheres " +
				"to the specified sentence count of {sentence_count}.",
			ExpectedOutput: "A beautifully crafted poem about fruit, with exactly {sentence_count} sentences.",
			Agent:          "poem_writer",
			MaxWords:       PoemMaxWords,
			MaxRetries:     PoemMaxRetries,
		}},
		BeforeKickoff: []BeforeKickoff{RequireInputs(SentenceCountInput)},
	}
}
