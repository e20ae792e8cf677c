package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tutorme/tutorchat/internal/config"
	"tutorme/tutorchat/internal/db"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/storage/memory"
	"tutorme/tutorchat/internal/storage/postgres"
	"tutorme/tutorchat/internal/tutors"
	"tutorme/tutorchat/internal/votes"
)

var (
	envFile  string
	logLevel string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:           "tutorchat",
	Short:         "Tutor marketplace messaging and ranking service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotenv(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.Logger.Error().Err(err).Msg("tutorchat failed")
		os.Exit(1)
	}
}

// backend is the storage and notification wiring shared by every command.
type backend struct {
	store interface {
		messages.Store
		tutors.Store
		votes.Store
	}
	dbStore  *db.Store
	pool     *pgxpool.Pool
	redis    *redis.Client
	notifier messages.Notifier
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	logger := logging.Component("main")
	b := &backend{}

	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
		b.store = memory.New()
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connection failed: %w", err)
		}
		b.pool = pool
		b.dbStore = db.NewStore(pool)
		b.store = postgres.New(b.dbStore)
	}

	if cfg.RedisAddr == "" {
		b.notifier = messages.NewMemoryNotifier()
		return b, nil
	}
	b.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.redis.Ping(pingCtx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	b.notifier = messages.NewRedisNotifier(b.redis)
	return b, nil
}

func (b *backend) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logging.Component("main").Warn().Err(err).Msg("redis close error")
		}
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, memory.ErrDuplicate) || errors.Is(err, postgres.ErrDuplicate)
}
