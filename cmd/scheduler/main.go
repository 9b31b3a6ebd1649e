package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/config"
	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/persistence/memory"
	"github.com/example/course-scheduler/internal/persistence/sqlite"
	"github.com/example/course-scheduler/internal/persistence/sqlite/migration"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	envFiles []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "scheduler",
		Short:         "Course schedule import reconciliation",
		Long:          "Builds reviewable change sets from registrar exports and commits the selected changes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", config.DefaultEnvFiles, "env files read before the environment")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// runtime is the wired engine shared by the subcommands.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	store   persistence.DocumentStore
	service *application.ImportService
	closers []func() error
}

func (r *runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newRuntime(ctx context.Context, opts *rootOptions, logOutput io.Writer) (*runtime, error) {
	cfg, err := config.LoadFrom(opts.envFiles...)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	rt := &runtime{cfg: cfg, logger: logger}
	switch cfg.Store {
	case "memory":
		rt.store = memory.New(cfg.BatchLimit)
	default:
		store, err := openSQLite(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.store = store
		rt.closers = append(rt.closers, store.Close)
	}

	var classifier *parse.RoleClassifier
	if cfg.RoleRules != "" {
		classifier, err = parse.LoadRoleClassifierFile(cfg.RoleRules)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("load role rules: %w", err)
		}
	}

	rt.service = application.NewImportServiceWithLogger(rt.store, application.ImportServiceConfig{
		BatchLimit:      cfg.BatchLimit,
		TransactionTTL:  cfg.TransactionTTL,
		MaxTransactions: cfg.MaxTransactions,
		Classifier:      classifier,
	}, logger)
	return rt, nil
}

func openSQLite(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Store, error) {
	store, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLiteDSN),
		sqlite.WithBatchLimit(cfg.BatchLimit),
		sqlite.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQLite schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(rootOpts.envFiles...)
			if err != nil {
				return err
			}
			if cfg.Store != "sqlite" {
				return fmt.Errorf("migrate requires SCHEDULER_STORE=sqlite, got %q", cfg.Store)
			}
			logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			store, err := openSQLite(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied to %s\n", cfg.SQLiteDSN)
			return nil
		},
	}
}
