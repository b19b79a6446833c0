package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medmigrate/medmigrate/internal/config"
	"github.com/medmigrate/medmigrate/internal/domain/patient"
	"github.com/medmigrate/medmigrate/internal/platform/db"
	"github.com/medmigrate/medmigrate/internal/platform/metrics"
	"github.com/medmigrate/medmigrate/internal/platform/mongodb"
)

// Exit codes tell orchestrators apart the failure classes: a run that never
// reached the store, a run whose post-check came up short, and a run whose
// writes kept failing.
const (
	exitGeneric      = 1
	exitConnectivity = 2
	exitVerification = 3
	exitBatch        = 4
)

// Server selection stays shorter while polling for readiness than during the
// migration itself.
const (
	runSelectionTimeout  = 10 * time.Second
	waitSelectionTimeout = 3 * time.Second
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "medmigrate",
		Short:        "Migrate the patient dataset into the document store",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(waitCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var connErr *patient.ConnectivityError
	if errors.As(err, &connErr) {
		return exitConnectivity
	}
	var verifyErr *patient.VerificationError
	if errors.As(err, &verifyErr) {
		return exitVerification
	}
	var batchErr *patient.BatchError
	if errors.As(err, &batchErr) {
		return exitBatch
	}
	return exitGeneric
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Normalize the dataset and upsert it into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, _ := cmd.Flags().GetString("dataset")
			failFast, _ := cmd.Flags().GetBool("fail-fast")
			verify, _ := cmd.Flags().GetBool("verify")

			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dataset != "" {
				cfg.DatasetPath = dataset
			}
			if failFast {
				cfg.FailFast = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg, runSelectionTimeout)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			src, err := patient.OpenSource(cfg.DatasetPath)
			if err != nil {
				return err
			}
			defer src.Close()

			opts := serviceOptions(cfg)
			if verify {
				opts.VerifyMin = cfg.MinDocs
			}
			svc := patient.NewService(store, logger, opts)

			report, err := svc.Run(ctx, src)
			pushMetrics(cfg, logger, report)
			if err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("dataset", "", "Dataset path (overrides DATASET_PATH)")
	cmd.Flags().Bool("fail-fast", false, "Abort on the first invalid row")
	cmd.Flags().Bool("verify", false, "Require MIN_DOCS documents after the run")
	return cmd
}

func waitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the store answers a ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			interval, _ := cmd.Flags().GetDuration("interval")
			checkData, _ := cmd.Flags().GetBool("check-data")
			minDocs, _ := cmd.Flags().GetInt64("min-docs")
			collection, _ := cmd.Flags().GetString("collection")

			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if timeout > 0 {
				cfg.WaitTimeout = timeout
			}
			if interval > 0 {
				cfg.WaitInterval = interval
			}
			if minDocs > 0 {
				cfg.MinDocs = minDocs
			}
			if collection != "" {
				cfg.CollectionName = collection
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg, waitSelectionTimeout)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			opts := serviceOptions(cfg)
			if checkData {
				opts.VerifyMin = cfg.MinDocs
			}
			svc := patient.NewService(store, logger, opts)

			if err := svc.WaitReady(ctx); err != nil {
				return err
			}
			if checkData {
				if err := svc.VerifyCount(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 0, "Overall readiness timeout (overrides WAIT_TIMEOUT)")
	cmd.Flags().Duration("interval", 0, "Poll interval (overrides WAIT_INTERVAL)")
	cmd.Flags().Bool("check-data", false, "Also require the collection to hold data")
	cmd.Flags().Int64("min-docs", 0, "Minimum document count (overrides MIN_DOCS)")
	cmd.Flags().String("collection", "", "Collection to check (overrides COLLECTION_NAME)")
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the store holds at least MIN_DOCS documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			minDocs, _ := cmd.Flags().GetInt64("min-docs")

			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if minDocs > 0 {
				cfg.MinDocs = minDocs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg, waitSelectionTimeout)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			opts := serviceOptions(cfg)
			opts.VerifyMin = cfg.MinDocs
			svc := patient.NewService(store, logger, opts)

			if err := svc.WaitReady(ctx); err != nil {
				return err
			}
			return svc.VerifyCount(ctx)
		},
	}
	cmd.Flags().Int64("min-docs", 0, "Minimum document count (overrides MIN_DOCS)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the medmigrate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("medmigrate", version)
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serviceOptions(cfg *config.Config) patient.Options {
	return patient.Options{
		Collection:    cfg.CollectionName,
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.Workers,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		RateLimit:     cfg.RateLimit,
		FailFast:      cfg.FailFast,
		ReadyTimeout:  cfg.WaitTimeout,
		ReadyInterval: cfg.WaitInterval,
	}
}

func openStore(ctx context.Context, cfg *config.Config, selectionTimeout time.Duration) (patient.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return patient.NewPGStore(pool, cfg.CollectionName)
	default:
		client, err := mongodb.NewClient(ctx, cfg.ResolvedMongoURI(), "medmigrate", selectionTimeout)
		if err != nil {
			return nil, err
		}
		return patient.NewMongoStore(client, cfg.MongoDB, cfg.CollectionName), nil
	}
}

// pushMetrics exports the run counters when a Pushgateway is configured.
// A push failure is logged, never fatal: the migration outcome stands.
func pushMetrics(cfg *config.Config, logger zerolog.Logger, report *patient.Report) {
	if cfg.PushgatewayURL == "" || report == nil {
		return
	}
	rec := metrics.NewRecorder()
	rec.ObserveRun(report.Read, report.Normalized, report.Inserted, report.Updated, report.Failed, report.Retries, report.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rec.Push(ctx, cfg.PushgatewayURL, cfg.MetricsJob, report.RunID); err != nil {
		logger.Warn().Err(err).Msg("metrics push failed")
	}
}
