package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cardfile/internal/config"
	"github.com/roach88/cardfile/internal/docstore"
	"github.com/roach88/cardfile/internal/index"
	"github.com/roach88/cardfile/internal/lock"
	"github.com/roach88/cardfile/internal/repository"
	"github.com/roach88/cardfile/internal/schema"
	"github.com/roach88/cardfile/internal/sequence"
)

// app is the store stack for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	docs   *docstore.Store
	ids    *sequence.Allocator
	idx    *index.Index
	repo   *repository.Repository
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig resolves configuration from the env file, the environment and
// the --data-dir flag, in increasing precedence.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	return cfg, nil
}

func newLogger(opts *RootOptions, cfg *config.Config, cmd *cobra.Command) *slog.Logger {
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openApp builds the stack under the configured data directory. The index
// is opened when config enables it or reindex is set. With reindex the
// caller rebuilds it; otherwise it is brought up to date by syncIndex.
func openApp(opts *RootOptions, cmd *cobra.Command, reindex bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts, cfg, cmd)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}

	mode, err := lock.ParseMode(cfg.LockMode)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid lock mode", err)
	}
	locker, err := lock.New(cfg.LockPath(), lock.Options{
		Mode:          mode,
		Timeout:       cfg.LockTimeout,
		RetryInterval: cfg.LockRetry,
		Logger:        logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up counter lock", err)
	}

	validator, err := newValidator(cfg.StrictHistory)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build card schema", err)
	}

	journal, err := docstore.OpenJournal(cfg.JournalPath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	docs, err := docstore.Open(cfg.CardsDir(), validator,
		docstore.WithJournal(journal), docstore.WithLogger(logger))
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open card directory", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		docs:   docs,
		ids:    sequence.New(cfg.CounterPath(), locker, sequence.WithLogger(logger)),
	}

	repoOpts := []repository.Option{repository.WithLogger(logger)}
	if cfg.Index || reindex {
		idx, err := index.Open(cfg.IndexPath())
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open index", err)
		}
		a.idx = idx
		repoOpts = append(repoOpts, repository.WithIndex(idx))
	}
	a.repo = repository.New(docs, a.ids, repoOpts...)

	if a.idx != nil && !reindex {
		if err := a.syncIndex(commandContext(cmd)); err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to rebuild index", err)
		}
	}
	return a, nil
}

// syncIndex rebuilds the index only when it was just created or when it
// holds a different number of cards than the directory holds files. An
// edit made outside the store that keeps the count needs an explicit
// reindex.
func (a *app) syncIndex(ctx context.Context) error {
	if !a.idx.Fresh() {
		keys, err := a.docs.Keys()
		if err != nil {
			return err
		}
		n, err := a.idx.Len(ctx)
		if err != nil {
			return err
		}
		if n == len(keys) {
			return nil
		}
		a.logger.Debug("index out of date", "indexed", n, "files", len(keys))
	}
	n, err := a.repo.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	a.logger.Debug("index rebuilt", "cards", n)
	return nil
}

func newValidator(strict bool) (*schema.Validator, error) {
	if strict {
		return schema.NewStrict()
	}
	return schema.New()
}

// Close releases the index and the journal.
func (a *app) Close() {
	if err := a.idx.Close(); err != nil {
		a.logger.Error("error closing index", "error", err)
	}
	if err := a.docs.Close(); err != nil {
		a.logger.Error("error closing journal", "error", err)
	}
}
