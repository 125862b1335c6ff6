package cli

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/hq/internal/cache"
	"github.com/roach88/hq/internal/config"
	"github.com/roach88/hq/internal/schema"
	"github.com/roach88/hq/internal/transport/duckdb"
)

// session bundles what a command needs from the configuration. Resources
// it opens are released by Close.
type session struct {
	cfg       *config.Config
	schema    *schema.Schema
	logger    *slog.Logger
	formatter *OutputFormatter
	closers   []io.Closer
}

func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var loadOpts []config.LoadOption
	if opts.EnvFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(opts.EnvFile))
	}
	cfg, err := config.Load(opts.Config, loadOpts...)
	if err != nil {
		return nil, formatter.FailAs(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	level, _ := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	s := &session{cfg: cfg, logger: logger, formatter: formatter}
	if cfg.Schema != "" {
		s.schema, err = schema.LoadFile(cfg.Schema)
		if err != nil {
			return nil, formatter.FailAs(ExitCommandError, ErrCodeConfig, "failed to load schema", err)
		}
		formatter.VerboseLog("Loaded schema %s (%d tables)", cfg.Schema, len(s.schema.Tables()))
	}
	return s, nil
}

// Close releases everything the session opened, in reverse order.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// provider opens the configured cache provider.
func (s *session) provider() (cache.Provider, error) {
	c := s.cfg.Cache
	if !c.Enabled {
		return cache.NoopProvider{}, nil
	}
	switch c.Provider {
	case config.ProviderSQLite:
		p, err := cache.OpenSQLite(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, p)
		return p, nil
	case config.ProviderNoop:
		return cache.NoopProvider{}, nil
	}
	var memOpts []cache.MemoryOption
	if c.MaxEntries > 0 {
		memOpts = append(memOpts, cache.WithMaxEntries(c.MaxEntries))
	}
	if c.MaxBytes > 0 {
		memOpts = append(memOpts, cache.WithMaxBytes(int(c.MaxBytes)))
	}
	return cache.NewMemoryProvider(memOpts...), nil
}

// controller wraps p with the configured namespace, version and defaults.
func (s *session) controller(p cache.Provider) *cache.Controller {
	c := s.cfg.Cache
	return cache.NewController(p,
		cache.WithNamespace(c.Namespace),
		cache.WithVersion(c.Version),
		cache.WithDefaults(c.Options()),
		cache.WithLogger(s.logger),
	)
}

// database opens the configured DuckDB database.
func (s *session) database() (*duckdb.Client, error) {
	opts := []duckdb.Option{duckdb.WithLogger(s.logger)}
	if s.cfg.Database.BatchSize > 0 {
		opts = append(opts, duckdb.WithBatchSize(s.cfg.Database.BatchSize))
	}
	client, err := duckdb.Open(s.cfg.Database.DSN, opts...)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, client)
	return client, nil
}
