package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "waterbar/cmd/followup-agent/docs"
	"waterbar/internal/broker"
	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/pkg/bootstrap"
	"waterbar/pkg/logging"
	"waterbar/pkg/migrations"
	"waterbar/pkg/models"
)

var (
	configFile string
)

// @title           Water Bar Follow-up Agent API
// @version         1.0
// @description     Management API for the drink follow-up agent: status, manual order processing and dispatch audit

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http

func main() {
	rootCmd := &cobra.Command{
		Use:   "followup-agent",
		Short: "Water Bar drink follow-up agent",
		Long:  "Watches drink consumption on Water Bar orders and emails follow-up and completion notices through a notifier process",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(relayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command needs.
func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog("followup-agent")

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch consumption changes and send notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting follow-up agent", "source", cfg.Source.Mode)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				shutdownCtx, done := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
				defer done()
				_ = app.Shutdown(shutdownCtx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func processCmd() *cobra.Command {
	var orderID string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one order through the pipeline and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID = strings.TrimSpace(orderID)
			if orderID == "" {
				return fmt.Errorf("--order is required")
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
				defer done()
				if err := app.Shutdown(shutdownCtx); err != nil {
					log.Warnw("Shutdown incomplete", "error", err)
				}
			}()

			if err := app.initCore(ctx); err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}

			out, err := app.driver.Process(ctx, models.ConsumptionEvent{
				OrderID:   orderID,
				Consumed:  true,
				UpdatedAt: time.Now().UTC(),
				Source:    "cli",
			})
			if out != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(out); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "Order id to process (required)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Install the order_items notify trigger and audit indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			base := bootstrap.NewBase(cfg, log)
			defer base.Shutdown(context.Background())

			db, err := base.Databases.InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			base.OnShutdownClose("postgres", db.Close)

			if err := migrations.RunPostgres(db); err != nil {
				return err
			}
			log.Infow("PostgreSQL migrations applied")

			mongoDB, err := base.Databases.InitMongoDB(ctx)
			if err != nil {
				return err
			}
			if mongoDB == nil {
				return nil
			}
			base.OnShutdown("mongodb", mongoDB.Client().Disconnect)

			if err := migrations.EnsureAuditIndexes(ctx, mongoDB); err != nil {
				return err
			}
			log.Infow("Audit indexes ensured", "database", mongoDB.Name())
			return nil
		},
	}
}

func relayCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Republish order_items notifications onto Kafka or NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			producer, topic, err := broker.NewProducer(cfg, target, log)
			if err != nil {
				return err
			}

			channel := cfg.Source.Listen.Channel
			if channel == "" {
				channel = constants.DefaultListenChannel
			}
			consumer := broker.NewListenConsumer(cfg.Database.Postgres.DSN(), log)
			consumer.SetServiceName(constants.ServiceName + "-relay")

			relay := broker.NewRelay(consumer, producer, topic, log)
			defer relay.Close()

			if err := relay.Run(ctx, channel); err != nil && !errors.Is(err, context.Canceled) {
				log.ErrorwCtx(ctx, "Relay stopped", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "to", constants.SourceModeNats, "Destination transport: nats or kafka")
	return cmd
}
