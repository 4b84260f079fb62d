package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/medrex/healthon/internal/delivery"
	"github.com/medrex/healthon/pkg/config"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/monitoring"
)

const (
	shutdownTimeout = 15 * time.Second
	// how often the worker picks up daily reminders added or removed by the agent
	dailySyncInterval = time.Minute
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "reminder-agent",
		Short:         "Patient reminder and appointment alert agent",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCommand(), newSyncCommand(), newWorkerCommand())
	return root
}

// loadConfig loads configuration and builds the logger every command uses
func loadConfig() (*config.Config, *logger.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg, logger.New(cfg.LogLevel)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent HTTP API, startup sync and proximity poll",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.service.Start(context.Background())
			}()

			// Wait for interrupt signal to gracefully shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			var runErr error
			select {
			case <-quit:
			case runErr = <-errCh:
			}

			logger.Info("Shutting down reminder agent...")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := a.service.Stop(ctx); err != nil {
				logger.Errorf("Error during shutdown: %v", err)
			}
			a.close(ctx)
			logger.Info("Reminder agent stopped")
			return runErr
		},
	}
}

func newSyncCommand() *cobra.Command {
	var patientID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronizer pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()
			if patientID == "" {
				patientID = cfg.Reminders.PatientID
			}
			if patientID == "" {
				return fmt.Errorf("a patient id is required")
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			report := a.service.Sync(cmd.Context(), patientID)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "patient whose reminders are synchronized (defaults to reminders.patient_id)")
	return cmd
}

func newWorkerCommand() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Schedule daily reminders and deliver due ones as device push messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()
			if cfg.Redis.Addr() == "" {
				return fmt.Errorf("worker requires redis.host")
			}
			if !cfg.Firebase.Enabled {
				return fmt.Errorf("worker requires firebase to be enabled")
			}

			sender, err := delivery.NewMessagingClient(cmd.Context(), cfg.Firebase)
			if err != nil {
				return err
			}

			metrics := monitoring.NewMetricsCollector(serviceName, prometheus.DefaultRegisterer)
			redisOpt := delivery.RedisConnOpt(cfg.Redis)
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
			})
			defer rdb.Close()

			tokens := delivery.NewSharedTokenRegistry(rdb, cfg.Host.Queue, cfg.Firebase.DeviceToken, logger)
			surface := delivery.NewPushSurface(sender, tokens, delivery.PushDevice, cfg.Firebase.Icon, logger)
			daily := delivery.NewDailyRegistry(rdb, cfg.Host.Queue, cfg.Reminders.Location(), logger)

			mux := asynq.NewServeMux()
			delivery.NewWorker(surface, logger, metrics).WithDailyRegistry(daily).Register(mux)

			mgr, err := delivery.NewDailyManager(redisOpt, daily, dailySyncInterval)
			if err != nil {
				return err
			}
			if err := mgr.Start(); err != nil {
				return fmt.Errorf("failed to start daily reminder manager: %w", err)
			}
			defer mgr.Shutdown()

			srv := delivery.NewServer(redisOpt, cfg.Host.Queue, concurrency)
			logger.WithField("queue", cfg.Host.Queue).Info("Starting reminder worker")

			// Run blocks until SIGINT or SIGTERM
			if err := srv.Run(mux); err != nil {
				return fmt.Errorf("reminder worker failed: %w", err)
			}
			logger.Info("Reminder worker stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 5, "number of reminders delivered in parallel")
	return cmd
}
