// Diplobot plays Diplomacy powers against a game server: one bot with
// `play`, or a whole roster from one process with `launch`.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/diplobot/internal/config"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/supervisor"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	envFile      string
	logLevel     string
	host         string
	port         int
	gameID       string
	model        string
	decisionAddr string
	rounds       int
	statusAddr   string
	journalPath  string
	noJournal    bool

	power    string
	roster   string
	lockstep bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "diplobot",
		Short:        "Negotiating Diplomacy bots",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", "", "Load environment variables from this file (default .env)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.host, "host", "localhost", "Game server host")
	pf.IntVar(&opts.port, "port", 8432, "Game server port")
	pf.StringVar(&opts.gameID, "game-id", "", "Join this game instead of creating one")
	pf.StringVar(&opts.model, "model", "default", "Default decision model")
	pf.StringVar(&opts.decisionAddr, "decision-addr", "", "Decision service gRPC address (empty uses the built-in fallback)")
	pf.IntVar(&opts.rounds, "rounds", 3, "Negotiation rounds per movement phase")
	pf.StringVar(&opts.statusAddr, "status-addr", ":8090", "Status API listen address (empty disables)")
	pf.StringVar(&opts.journalPath, "journal", "./data/journal.db", "Journal database path")
	pf.BoolVar(&opts.noJournal, "no-journal", false, "Disable the journal")

	play := &cobra.Command{
		Use:   "play",
		Short: "Run a single bot for one power",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("power") {
				cfg.Power = domain.NormalizePower(opts.power)
			}
			roster := config.Roster{
				GameID:       cfg.GameID,
				CreatorPower: cfg.Power,
				Powers:       []string{cfg.Power},
			}
			if err := roster.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, roster, logger)
		},
	}
	play.Flags().StringVar(&opts.power, "power", "FRANCE", "Power to play")

	launch := &cobra.Command{
		Use:   "launch",
		Short: "Run one bot per roster power in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			roster := config.DefaultRoster()
			if opts.roster != "" {
				if roster, err = config.LoadRoster(opts.roster); err != nil {
					return err
				}
			}
			if roster.GameID == "" {
				roster.GameID = cfg.GameID
			}
			if cmd.Flags().Changed("lockstep") {
				roster.Lockstep = opts.lockstep
			}
			return run(cmd.Context(), cfg, roster, logger)
		},
	}
	launch.Flags().StringVar(&opts.roster, "roster", "", "Roster file (.toml, .yaml or .yml)")
	launch.Flags().BoolVar(&opts.lockstep, "lockstep", false, "Drive negotiation rounds for all powers in lockstep")

	root.AddCommand(play, launch)
	return root
}

// setup loads .env and environment configuration, applies explicitly set
// flags on top and installs the JSON logger.
func setup(cmd *cobra.Command, opts *options) (*config.Config, *slog.Logger, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("game-id") {
		cfg.GameID = opts.gameID
	}
	if flags.Changed("model") {
		cfg.Decision.Model = opts.model
	}
	if flags.Changed("decision-addr") {
		cfg.Decision.Addr = opts.decisionAddr
	}
	if flags.Changed("rounds") {
		cfg.Negotiation.Rounds = opts.rounds
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = opts.statusAddr
	}
	if flags.Changed("journal") {
		cfg.Journal.Path = opts.journalPath
	}
	if opts.noJournal {
		cfg.Journal.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func run(parent context.Context, cfg *config.Config, roster config.Roster, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var j journal.Journal
	if cfg.Journal.Enabled {
		db, err := journal.OpenSQLite(cfg.Journal.Path, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Error("Failed to close journal", "error", closeErr)
			}
		}()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("journal health check: %w", err)
		}
		if cfg.Journal.Retention > 0 {
			journal.StartPruneWorker(ctx, db, cfg.Journal.Retention, 0, logger)
		}
		j = db
		logger.Info("Journal ready", "path", cfg.Journal.Path)
	}

	launcher := supervisor.NewLauncher(supervisor.LauncherDeps{
		Config:  cfg,
		Roster:  roster,
		Journal: j,
		Logger:  logger,
	})

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	srvDone := make(chan error, 1)
	if cfg.StatusAddr != "" {
		handler := supervisor.NewStatusRouter(supervisor.NewStatusHandler(launcher.Registry(), j, logger))
		go func() { srvDone <- supervisor.Serve(srvCtx, cfg.StatusAddr, handler, logger) }()
	} else {
		close(srvDone)
	}

	logger.Info("Starting bots",
		"powers", roster.Powers,
		"game_id", roster.GameID,
		"lockstep", roster.Lockstep,
		"decision_addr", cfg.Decision.Addr)
	err := launcher.Run(ctx)

	stopServer()
	if srvErr := <-srvDone; srvErr != nil {
		logger.Error("Status server failed", "error", srvErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Bots stopped with error", "error", err)
		return err
	}
	logger.Info("Bots stopped")
	return nil
}
