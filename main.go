package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vitals/internal/analysis"
	"vitals/internal/baseline"
	"vitals/internal/cache"
	"vitals/internal/config"
	"vitals/internal/coordinator"
	"vitals/internal/ingest"
	"vitals/internal/provider"
	"vitals/internal/server"
	"vitals/internal/store"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vitals",
	Short: "Physiological scoring engine for recovery, sleep, and strain",
	Long: `vitals ingests heart rate variability, resting heart rate, sleep stage,
respiratory, and training signals, maintains rolling personal baselines,
and computes daily Recovery, Sleep, and Strain scores with illness and
wellness anomaly detection.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(app.coord, app.db, logger)
		return srv.Run(ctx, app.cfg.Server.Listen)
	},
}

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Run the full calculation graph for today and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()

		state, err := app.coord.CalculateAll(cmd.Context(), force)
		if err != nil {
			return fmt.Errorf("calculating scores: %w", err)
		}
		return printJSON(state)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [export-file]",
	Short: "Load signal samples and workouts from a health data export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()

		fileProvider, err := provider.NewFileProvider(args[0])
		if err != nil {
			return fmt.Errorf("opening export: %w", err)
		}

		svc := ingest.NewService(fileProvider, app.db, app.profile(), logger)

		to := time.Now().UTC()
		from := to.AddDate(0, 0, -days)

		progress := make(chan ingest.Progress)
		go func() {
			for p := range progress {
				if p.Completed > 0 {
					fmt.Printf("%s: %d/%d stored\n", p.Phase, p.Completed, p.Total)
				}
			}
		}()

		result, err := svc.Run(cmd.Context(), from, to, progress)
		if err != nil {
			return fmt.Errorf("ingesting: %w", err)
		}

		fmt.Printf("Ingested %d samples (%d rejected), %d workout loads\n",
			result.SamplesStored, result.SamplesRejected, result.WorkoutsStored)
		for _, e := range result.Errors {
			fmt.Printf("  warning: %v\n", e)
		}
		return nil
	},
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "List currently open anomaly events",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()

		anomalies, err := app.db.GetOpenAnomalies(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading anomalies: %w", err)
		}
		if len(anomalies) == 0 {
			fmt.Println("No open anomalies.")
			return nil
		}
		return printJSON(anomalies)
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss [anomaly-id]",
	Short: "Silence an anomaly event for a period",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")

		app, err := setup()
		if err != nil {
			return err
		}
		defer app.Close()

		until := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
		if err := app.coord.DismissAnomaly(cmd.Context(), args[0], until); err != nil {
			return fmt.Errorf("dismissing anomaly: %w", err)
		}
		fmt.Printf("Dismissed %s until %s\n", args[0], until.Format(time.RFC3339))
		return nil
	},
}

// app holds the wired application components shared by the subcommands.
type app struct {
	cfg   *config.Config
	db    *store.DB
	coord *coordinator.Coordinator
	redis *cache.Redis // nil unless configured
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.db.Close()
}

func (a *app) profile() analysis.AthleteProfile {
	return analysis.AthleteProfile{
		RestingHR:      a.cfg.Athlete.RestingHR,
		MaxHR:          a.cfg.Athlete.MaxHR,
		ThresholdHR:    a.cfg.Athlete.ThresholdHR,
		FTPWatts:       a.cfg.Athlete.FTPWatts,
		SleepNeedHours: a.cfg.Athlete.SleepNeedHours,
	}
}

// setup loads the config, opens the store, and wires the coordinator.
func setup() (*app, error) {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoConfig) {
		fmt.Println("No config file found. Creating example config...")
		if err := config.CreateExample(); err != nil {
			return nil, fmt.Errorf("creating example config: %w", err)
		}
		configDir, _ := config.GetConfigDir()
		fmt.Printf("\nReview the config file at:\n  %s/config.json\n", configDir)
		cfg, err = config.Load()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		configDir, _ := config.GetConfigDir()
		return nil, fmt.Errorf("config validation failed: %w\nedit the config file at %s/config.json", err, configDir)
	}

	db, err := store.Open()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{cfg: cfg, db: db}

	// Tier 2 is Redis when configured, the local snapshot table otherwise.
	var durable cache.Tier = cache.NewDurable(db)
	if cfg.Cache.RedisAddr != "" {
		redisTier, err := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.redis = redisTier
		durable = redisTier
	}
	tiered := cache.New(durable, cache.DefaultTTLs(), logger)

	// Stale snapshots are useful as a fallback for about a week; older
	// rows are dead weight in the local table.
	horizon := time.Now().UTC().AddDate(0, 0, -7)
	if n, err := db.DeleteExpiredSnapshots(context.Background(), horizon); err != nil {
		logger.Warn("pruning expired snapshots", zap.Error(err))
	} else if n > 0 {
		logger.Debug("pruned expired snapshots", zap.Int64("count", n))
	}

	tracker := baseline.NewTracker(db, logger)

	var loads provider.LoadProvider
	if cfg.Provider.ExportFile != "" {
		fileProvider, err := provider.NewFileProvider(cfg.Provider.ExportFile)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("opening provider export: %w", err)
		}
		loads = fileProvider
	}

	thresholds := analysis.DefaultThresholds()
	thresholds.WindowDays = cfg.Anomaly.WindowDays
	thresholds.MinSignals = cfg.Anomaly.MinSignals

	a.coord = coordinator.New(db, tracker, loads, tiered, a.profile(), thresholds, logger)
	return a, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	calculateCmd.Flags().Bool("force", false, "bypass the cached snapshot and recompute")
	ingestCmd.Flags().Int("days", 90, "how many trailing days of the export to ingest")
	dismissCmd.Flags().Int("hours", 24, "how long to silence the anomaly")

	rootCmd.AddCommand(serveCmd, calculateCmd, ingestCmd, anomaliesCmd, dismissCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
