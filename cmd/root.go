package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"trip-installments/internal/charge"
	"trip-installments/internal/data/repository"
	"trip-installments/internal/engine"
	"trip-installments/internal/notify"
	"trip-installments/internal/poller"
	"trip-installments/internal/usecase"
	"trip-installments/pkg/database"
	"trip-installments/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "installments",
	Short:         "Installment payment scheduling and retry engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, pollCmd, repairCmd, migrateCmd)
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries everything a command needs once config, database and collaborators are up.
type app struct {
	config  *utils.Config
	logger  *zap.Logger
	db      database.PgxIface
	rdb     *redis.Client
	service *usecase.Service
	poller  *poller.Poller
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
	a.logger.Sync()
}

func bootstrap() (*app, error) {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("Database connected successfully")

	// Redis is optional
	rdb, err := database.InitRedis(config.Redis.URL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		logger.Info("Redis connected successfully")
	}

	processor, err := newProcessor(config.Processor, logger)
	if err != nil {
		closeAll(db, rdb)
		return nil, err
	}

	retry, err := engine.NewRetryPolicy(config.Retry.Delays, config.Retry.MaxAttempts)
	if err != nil {
		closeAll(db, rdb)
		return nil, fmt.Errorf("build retry policy: %w", err)
	}

	repos := repository.NewRepository(db, logger)
	service := usecase.NewService(repos, usecase.Collaborators{
		Processor: processor,
		Notifier:  notify.New(config.Email, logger),
		Retry:     retry,
	}, config, logger)

	var locker poller.Locker = &poller.LocalLocker{}
	if rdb != nil {
		locker = poller.NewRedisLocker(rdb)
	}

	return &app{
		config:  config,
		logger:  logger,
		db:      db,
		rdb:     rdb,
		service: service,
		poller:  poller.New(service.Installment, locker, config.Poller, time.Now, logger),
	}, nil
}

func newProcessor(cfg utils.ProcessorConfig, logger *zap.Logger) (charge.Processor, error) {
	switch cfg.Name {
	case "stripe":
		if cfg.StripeKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe processor")
		}
		return charge.NewStripeProcessor(cfg.StripeKey, logger), nil
	case "fake":
		logger.Warn("Using fake payment processor")
		return charge.FakeProcessor{}, nil
	default:
		return nil, fmt.Errorf("unknown processor %q", cfg.Name)
	}
}

func closeAll(db database.PgxIface, rdb *redis.Client) {
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
}
