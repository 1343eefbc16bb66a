package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"memopipe/internal/config"
	"memopipe/internal/history"
	"memopipe/internal/logging"
	"memopipe/internal/pipefile"
	"memopipe/internal/pipeline"
	"memopipe/internal/store"
	"memopipe/internal/trace"
)

// session is everything a command needs from a workspace.
type session struct {
	workspace string
	cfg       *config.Config
	logger    zerolog.Logger
	store     store.Store
	history   *history.Store
	closers   []io.Closer
}

// loadDotEnv reads <workspace>/.env without overriding variables that are
// already set.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &ConfigError{Err: err}
	}
	return nil
}

func resolveConfig(workspace string, v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Resolve(workspace, v)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func openSession(ctx context.Context, workspace string, v *viper.Viper) (*session, error) {
	cfg, err := resolveConfig(workspace, v)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	s := &session{workspace: workspace, cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	st, err := store.Open(ctx, cfg.StoreConfig(workspace))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = st
	s.closers = append(s.closers, st)

	hist, err := history.NewStore(filepath.Join(workspace, config.StateDir))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.history = hist
	logger.Debug().Str("workspace", workspace).Str("backend", cfg.Store.Backend).Msg("session opened")
	return s, nil
}

// pipeline loads the pipeline definition and builds the facade.
func (s *session) pipeline(sink trace.Sink) (*pipeline.Pipeline, error) {
	reg, err := pipefile.Load(s.cfg.PipelinePath(s.workspace))
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	opts := []pipeline.Option{
		pipeline.WithLogger(s.logger),
		pipeline.WithConcurrency(s.cfg.Run.Concurrency),
		pipeline.WithHistory(s.history, s.cfg.History.Keep),
	}
	if sink != nil {
		opts = append(opts, pipeline.WithTrace(sink))
	}
	p, err := pipeline.New(reg.Snapshot(), s.store, opts...)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return p, nil
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
	s.closers = nil
}
