// Package bootstrap turns a config.Config into the running pieces shared by
// the CLI and the server: snapshot store, runtime, metrics and the poem flow.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/adapters/repository/memory"
	"github.com/fruitflow/fruitflow/internal/adapters/repository/postgres"
	"github.com/fruitflow/fruitflow/internal/adapters/repository/redis"
	"github.com/fruitflow/fruitflow/internal/adapters/repository/sqlite"
	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/app/services"
	"github.com/fruitflow/fruitflow/internal/config"
	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
	"github.com/fruitflow/fruitflow/internal/crew"
	"github.com/fruitflow/fruitflow/internal/infrastructure/metrics"
	"github.com/fruitflow/fruitflow/internal/poem"
	"github.com/fruitflow/fruitflow/pkg/flowgraph"
	"github.com/fruitflow/fruitflow/pkg/serialization"
)

// ErrUnknownDriver is returned for a store driver with no adapter.
var ErrUnknownDriver = errors.New("unknown store driver")

// App holds the wired components. Close releases the snapshot store.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Saver     checkpoint.Saver
	Runtime   *flowgraph.Runtime
	Metrics   *metrics.Recorder
	Snapshots *services.SnapshotService[poem.State]

	closeStore func() error
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	Registry  *prometheus.Registry
	Generator poem.Generator
}

// New opens the configured store and builds the runtime.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	saver, closeStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	logger.Info("snapshot store ready", zap.String("driver", cfg.Store.Driver))

	return &App{
		Config:     cfg,
		Logger:     logger,
		Saver:      saver,
		Runtime:    flowgraph.NewRuntime(flowgraph.WithSaver(saver), flowgraph.WithLogger(logger)),
		Metrics:    metrics.NewRecorder(opts.Registry, logger),
		Snapshots:  services.NewSnapshotService[poem.State](saver, logger),
		closeStore: closeStore,
	}, nil
}

// Close releases the snapshot store.
func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

// PoemFlow builds the poem flow. A nil gen uses the configured crew.
func (a *App) PoemFlow(gen poem.Generator) (*flowgraph.Flow[poem.State], error) {
	if gen == nil {
		var err error
		if gen, err = NewGenerator(a.Config, a.Logger); err != nil {
			return nil, err
		}
	}
	return poem.NewFlow(poem.Options{
		Generator:  gen,
		OutputPath: a.Config.Flow.OutputPath,
		Logger:     a.Logger,
	})
}

// Kickoff runs the poem flow with the app's metrics and parallelism.
func (a *App) Kickoff(ctx context.Context, flow *flowgraph.Flow[poem.State], runID string, observer func(dto.StepEvent)) (poem.State, *dto.ExecutionResponse, error) {
	return poem.Kickoff(ctx, a.Runtime, flow, runID, a.flowConfig(observer))
}

// Resume continues a stored run of the poem flow.
func (a *App) Resume(ctx context.Context, flow *flowgraph.Flow[poem.State], runID string, observer func(dto.StepEvent)) (poem.State, *dto.ExecutionResponse, error) {
	return poem.Resume(ctx, a.Runtime, flow, runID, a.flowConfig(observer))
}

func (a *App) flowConfig(observer func(dto.StepEvent)) flowgraph.Config[poem.State] {
	return flowgraph.Config[poem.State]{
		Logger:      a.Logger,
		Metrics:     a.Metrics,
		Observer:    observer,
		Persister:   a.Snapshots,
		Parallelism: a.Config.Flow.Parallelism,
	}
}

// NewGenerator builds the crew-backed poem generator from configuration.
func NewGenerator(cfg *config.Config, logger *zap.Logger) (poem.Generator, error) {
	llm, err := crew.NewOpenAI(crew.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, err
	}

	crewCfg := crew.DefaultPoemConfig()
	if cfg.Crew.AgentsPath != "" {
		if crewCfg, err = crew.LoadConfig(cfg.Crew.AgentsPath, cfg.Crew.TasksPath); err != nil {
			return nil, err
		}
	}
	crewCfg.BeforeKickoff = append(crewCfg.BeforeKickoff,
		crew.IntInRange(crew.SentenceCountInput, poem.MinSentences, poem.MaxSentences))
	c, err := crew.New(crewCfg, llm, logger)
	if err != nil {
		return nil, err
	}
	return crew.NewPoemGenerator(c), nil
}

// NewSerializer builds the snapshot serializer from store settings.
func NewSerializer(cfg config.StoreConfig) (*serialization.Serializer, error) {
	codec, err := serialization.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	compression, err := serialization.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	opts := []serialization.Option{serialization.WithCompression(compression)}
	if cfg.EncryptionKey != "" {
		opts = append(opts, serialization.WithEncryptionKey([]byte(cfg.EncryptionKey)))
	}
	return serialization.New(codec, opts...), nil
}

// OpenStore connects the configured snapshot store. The returned func
// closes it.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (checkpoint.Saver, func() error, error) {
	ser, err := NewSerializer(cfg)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case "", "memory":
		s := memory.NewSaver(memory.Config{TTL: cfg.TTL, Serializer: ser})
		return s, s.Close, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN, ser, sqlite.WithTable(cfg.Table))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.Connect(ctx, cfg.DSN, ser)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := redis.Dial(ctx, cfg.DSN, redis.Options{KeyPrefix: cfg.KeyPrefix, TTL: cfg.TTL, Serializer: ser})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
