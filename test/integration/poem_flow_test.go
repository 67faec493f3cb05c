//go:build integration

// Package integration runs the poem flow end to end against each snapshot
// store. PostgreSQL is used when FRUITFLOW_TEST_POSTGRES_DSN is set.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fruitflow/fruitflow/internal/app/bootstrap"
	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/config"
	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
	"github.com/fruitflow/fruitflow/internal/poem"
)

func stores(t *testing.T) map[string]config.StoreConfig {
	mr := miniredis.RunT(t)
	out := map[string]config.StoreConfig{
		"memory": {Driver: "memory", Codec: "msgpack", Compression: "zstd"},
		"sqlite": {Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "it.db"), Codec: "json", Compression: "gzip"},
		"redis":  {Driver: "redis", DSN: "redis://" + mr.Addr(), KeyPrefix: "it:", Codec: "msgpack", Compression: "zstd"},
	}
	if dsn := os.Getenv("FRUITFLOW_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = config.StoreConfig{Driver: "postgres", DSN: dsn, Codec: "msgpack", Compression: "zstd", EncryptionKey: strings.Repeat("p", 16)}
	}
	return out
}

func TestPoemFlow_Stores(t *testing.T) {
	for name, storeCfg := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			out := filepath.Join(t.TempDir(), "poem.txt")
			cfg := &config.Config{
				Flow:  config.FlowConfig{OutputPath: out, Parallelism: 4},
				Store: storeCfg,
			}
			app, err := bootstrap.New(ctx, cfg, zaptest.NewLogger(t), bootstrap.Options{Registry: prometheus.NewRegistry()})
			require.NoError(t, err)
			defer app.Close()

			flow, err := app.PoemFlow(poem.GeneratorFunc(func(_ context.Context, n int) (string, error) {
				return strings.Repeat(fmt.Sprintf("Mango line %d. ", n), 20), nil
			}))
			require.NoError(t, err)

			runIDs := make([]string, 3)
			for i := range runIDs {
				runIDs[i] = fmt.Sprintf("%s-run-%d", name, i)
				final, resp, err := app.Kickoff(ctx, flow, runIDs[i], nil)
				require.NoError(t, err)
				assert.Equal(t, dto.ExecutionStatusCompleted, resp.Status)
				assert.Equal(t, poem.LengthLong, final.Poem1Length)

				restored, cp, err := app.Snapshots.Latest(ctx, runIDs[i])
				require.NoError(t, err)
				assert.Equal(t, poem.StepSave, cp.StepID)
				assert.Equal(t, final, restored)
			}

			recent, err := app.Snapshots.Recent(ctx, poem.FlowID, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, runIDs[2], recent[0].RunID)

			require.NoError(t, app.Saver.Delete(ctx, recent[0].ID))
			_, err = app.Saver.Load(ctx, recent[0].ID)
			assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

			data, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(data), "Poem1 length: long\n"))
		})
	}
}
