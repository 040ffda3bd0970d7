package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/config"
	"ingresso-cascade-cli/seats"
	"ingresso-cascade-cli/service"
	"ingresso-cascade-cli/store"
	"ingresso-cascade-cli/tui"
)

const appName = store.AppName

var (
	version = "dev"
	commit  = "none"
)

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "%s %s", appName, version)
	if commit != "none" && commit != "" {
		fmt.Fprintf(out, " (%s)", commit)
	}
	fmt.Fprintln(out)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Ingresso.com seat finder",
		Long:          "Pick a city, theater, movie, date and session, then see which seats are really free.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.RegisterFlags(root.PersistentFlags())

	launch := func(cmd *cobra.Command, once bool) error {
		cfg, err := flags.Resolve(os.Getenv)
		if err != nil {
			return err
		}
		if cfg.ShowVersion {
			printVersion(cmd.OutOrStdout())
			return nil
		}
		cfg.Once = cfg.Once || once
		return start(cmd.Context(), cfg, cmd.OutOrStdout())
	}

	root.RunE = func(cmd *cobra.Command, args []string) error {
		return launch(cmd, false)
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "once",
			Short: "Run one search headless and print the seat map",
			Long:  "Auto-advance through every stage, print the reconciled seat map and save a JSON snapshot.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return launch(cmd, true)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				printVersion(cmd.OutOrStdout())
			},
		},
	)
	return root
}

func start(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting", "version", version, "config", cfg.ConfigFile, "once", cfg.Once)

	st, err := store.Open()
	if err != nil {
		return err
	}
	stages, seatSource := newSources(cfg, st, logger)
	if cfg.Once {
		return runHeadless(ctx, cfg, st, stages, seatSource, logger, out)
	}
	return runTUI(ctx, cfg, st, stages, seatSource, logger)
}

// newLogger writes to the configured log file. Without one, headless runs
// log warnings to stderr and the TUI discards logs so the screen stays
// clean.
func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogFile == "" {
		if cfg.Once {
			return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: max(level, slog.LevelWarn)})), func() {}, nil
		}
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

func newSources(cfg config.Config, st *store.Store, logger *slog.Logger) (*service.StageSource, *service.SeatSource) {
	httpClient := &http.Client{Timeout: 12 * time.Second}
	client := service.NewClient(httpClient,
		service.WithBaseURLs(cfg.APIURL, cfg.CheckoutURL),
		service.WithToken(cfg.Token),
		service.WithLogger(logger.With("component", "ingresso")),
	)

	opts := []service.StageOption{
		service.WithStore(st),
		service.WithStageLogger(logger.With("component", "stages")),
	}
	if cfg.SortVenuesByDistance {
		locator := service.NewLocator(httpClient, logger.With("component", "location"))
		opts = append(opts, service.WithLocator(locator.Locate))
	}
	return service.NewStageSource(client, opts...), service.NewSeatSource(client, logger.With("component", "seats"))
}

func runTUI(ctx context.Context, cfg config.Config, st *store.Store, stages cascade.DataSource, seatSource seats.SeatSource, logger *slog.Logger) error {
	manual, err := cfg.Stages()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := tui.NewBridge()
	ctrl := cascade.New(stages, seatSource, service.AuthExtractor, cascade.Options{
		Dispatcher:   bridge,
		Observer:     bridge.Observe,
		Logger:       logger.With("component", "cascade"),
		AuthDebounce: cfg.AuthDebounce,
		ManualStages: manual,
		LockPolicy:   cfg.LockPolicy(),
	})
	program := tea.NewProgram(tui.New(ctx, tui.Options{
		Controller: ctrl,
		Bridge:     bridge,
		Store:      st,
		City:       cfg.City,
		Logger:     logger.With("component", "tui"),
	}), tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.SetProgram(program)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func runHeadless(ctx context.Context, cfg config.Config, st *store.Store, stages cascade.DataSource, seatSource seats.SeatSource, logger *slog.Logger, out io.Writer) error {
	result, err := runOnce(ctx, stages, seatSource, onceOptions{
		City:         cfg.City,
		AuthDebounce: cfg.AuthDebounce,
		LockPolicy:   cfg.LockPolicy(),
		Logger:       logger.With("component", "cascade"),
	})
	if err != nil {
		return err
	}

	printResult(out, result)
	path, err := st.SaveSnapshot(snapshotName(result), result.SeatMap)
	if err != nil {
		logger.Warn("snapshot not saved", "error", err)
		return nil
	}
	fmt.Fprintf(out, "Snapshot: %s\n", path)
	return nil
}
