// Package runtime threads the process-wide objects — the database handle,
// the loaded embedder, the logger, and config — through an explicit context
// struct instead of ambient globals: both production and test entry points
// construct one of these and pass it down, keeping tests hermetic.
package runtime

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/fenv-org/mementor/internal/core/config"
	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/store"
)

// Runtime is the single threaded-context object passed to every core
// operation that needs the store, the embedder, config, or logging.
type Runtime struct {
	Store    *store.Store
	Embedder *embedding.Embedder
	Config   *config.Config
	Log      zerolog.Logger
}

// Open constructs a Runtime: loads config, opens the store at dbPath, and
// loads the embedder from the configured model directory. The embedder is
// loaded once per process and is immutable thereafter.
func Open(dbPath string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogDir)

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	emb, err := embedding.New(cfg.ModelDir, cfg.ChunkTargetTokens+cfg.ChunkOverlapTokens)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Runtime{Store: st, Embedder: emb, Config: cfg, Log: logger}, nil
}

// Close releases the store connection. The embedder holds no closable
// resources (it owns an in-memory tokenizer only).
func (r *Runtime) Close() error {
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}

func newLogger(logDir string) zerolog.Logger {
	if logDir == "" {
		return zerolog.Nop()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return zerolog.Nop()
	}
	f, err := os.OpenFile(logDir+"/mementor.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop()
	}
	return zerolog.New(f).With().Timestamp().Logger()
}
