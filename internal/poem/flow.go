package poem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/pkg/flowgraph"
)

const (
	FlowID   = "poem_flow"
	FlowName = "Poem Flow"

	StepSentenceCount = "generate_sentence_count"
	StepPoem1         = "generate_poem1"
	StepPoem2         = "generate_poem2"
	StepLengthDecider = "poem1_length_decider"
	StepLengthShort   = "poem1_length_short"
	StepLengthLong    = "poem1_length_long"
	StepSave          = "save_poem"

	LabelShort = "short1"
	LabelLong  = "long1"

	DefaultOutputPath = "poem.txt"
)

// Generator writes a poem with the given number of sentences. It is called
// from two steps at once and must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, sentenceCount int) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, sentenceCount int) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, sentenceCount int) (string, error) {
	return f(ctx, sentenceCount)
}

// Options configures NewFlow.
type Options struct {
	Generator  Generator
	OutputPath string
	// Intn returns a value in [0, n); defaults to math/rand/v2.IntN.
	Intn   func(n int) int
	Logger *zap.Logger
}

type steps struct {
	gen    Generator
	output string
	intn   func(int) int
	logger *zap.Logger
}

// NewFlow builds the poem flow graph and binds its steps.
func NewFlow(opts Options) (*flowgraph.Flow[State], error) {
	if opts.Generator == nil {
		return nil, ErrNoGenerator
	}
	if opts.OutputPath == "" {
		opts.OutputPath = DefaultOutputPath
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &steps{
		gen:    opts.Generator,
		output: opts.OutputPath,
		intn:   opts.Intn,
		logger: opts.Logger.With(zap.String("component", "poem_flow")),
	}

	return flowgraph.NewBuilder[State](FlowID, FlowName).
		Start(StepSentenceCount, s.sentenceCount).
		Listen(StepPoem1, flowgraph.After(StepSentenceCount), s.poem(func(st *State, p string) { st.Poem1 = p })).
		Listen(StepPoem2, flowgraph.After(StepSentenceCount), s.poem(func(st *State, p string) { st.Poem2 = p })).
		Router(StepLengthDecider,
			flowgraph.And(flowgraph.After(StepPoem1), flowgraph.After(StepPoem2)),
			[]string{LabelShort, LabelLong}, s.decide).
		Listen(StepLengthShort, flowgraph.OnLabel(LabelShort), setLength(LengthShort)).
		Listen(StepLengthLong, flowgraph.OnLabel(LabelLong), setLength(LengthLong)).
		Listen(StepSave,
			flowgraph.And(
				flowgraph.After(StepPoem2),
				flowgraph.Or(flowgraph.After(StepLengthShort), flowgraph.After(StepLengthLong)),
			), s.save).
		Persist(StepLengthDecider, StepSave).
		Rollback(StepSave, s.discard).
		Build()
}

func (s *steps) sentenceCount(_ context.Context, _ State) (flowgraph.Update[State], error) {
	n := MinSentences + s.intn(MaxSentences-MinSentences+1)
	if n < MinSentences || n > MaxSentences {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	s.logger.Info("generated sentence count", zap.Int("sentence_count", n))
	return func(st *State) { st.SentenceCount = n }, nil
}

func (s *steps) poem(assign func(*State, string)) flowgraph.Handler[State] {
	return func(ctx context.Context, st State) (flowgraph.Update[State], error) {
		s.logger.Info("generating poem", zap.Int("sentence_count", st.SentenceCount))
		p, err := s.gen.Generate(ctx, st.SentenceCount)
		if err != nil {
			return nil, fmt.Errorf("generate poem: %w", err)
		}
		s.logger.Debug("poem generated", zap.Int("runes", len([]rune(p))))
		return func(st *State) { assign(st, p) }, nil
	}
}

func (s *steps) decide(_ context.Context, st State) (string, error) {
	if ClassifyLength(st.Poem1) == LengthShort {
		s.logger.Info("poem1 is short")
		return LabelShort, nil
	}
	s.logger.Info("poem1 is long")
	return LabelLong, nil
}

func setLength(l Length) flowgraph.Handler[State] {
	return func(context.Context, State) (flowgraph.Update[State], error) {
		return func(st *State) { st.Poem1Length = l }, nil
	}
}

func (s *steps) save(_ context.Context, st State) (flowgraph.Update[State], error) {
	data, err := Render(st)
	if err != nil {
		return nil, err
	}
	if err := WriteArtifact(s.output, data); err != nil {
		return nil, err
	}
	s.logger.Info("poem saved", zap.String("path", s.output))
	return nil, nil
}

// discard removes the artifact of a run whose final snapshot failed.
func (s *steps) discard(context.Context, State) error {
	if err := os.Remove(s.output); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	s.logger.Warn("artifact removed after failed snapshot", zap.String("path", s.output))
	return nil
}

// Kickoff runs flow once on rt. An empty runID gets a fresh UUID, which is
// also the state's ID.
func Kickoff(ctx context.Context, rt *flowgraph.Runtime, flow *flowgraph.Flow[State], runID string, cfg flowgraph.Config[State]) (State, *dto.ExecutionResponse, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	req := &dto.ExecutionRequest{FlowID: flow.ID(), RunID: runID}
	return flowgraph.Run(ctx, rt, flow, req, NewState(runID), cfg)
}

// Resume continues run runID from its newest snapshot. Once both poems are
// stored only the classification and the save run again.
func Resume(ctx context.Context, rt *flowgraph.Runtime, flow *flowgraph.Flow[State], runID string, cfg flowgraph.Config[State]) (State, *dto.ExecutionResponse, error) {
	req := &dto.ExecutionRequest{FlowID: flow.ID(), RunID: runID}
	return flowgraph.Resume(ctx, rt, flow, req, cfg)
}
