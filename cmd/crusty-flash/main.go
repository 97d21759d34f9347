package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crusty-flash/internal/config"
	"crusty-flash/internal/flash"
	"crusty-flash/internal/model"
	web "crusty-flash/internal/server"
	"crusty-flash/internal/session"
	"crusty-flash/internal/worker"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	cfg        *config.Config
	configPath string
	addr       string
	storeKind  string
	redisAddr  string
	badgerPath string
)

var rootCmd = &cobra.Command{
	Use:   "crusty-flash",
	Short: "crusty-flash - Session-backed flash messages",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Flags win over file and environment
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Addr = addr
		}
		if flags.Changed("store") {
			cfg.Store = storeKind
		}
		if flags.Changed("redis") {
			cfg.RedisAddr = redisAddr
		}
		if flags.Changed("badger") {
			cfg.BadgerPath = badgerPath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = newLogger(cfg.Log)
		return err
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the web server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Setup Signal Handling (Ctrl+C)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		st, err := openStore(cfg)
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()

		// Badger needs its value log compacted; Redis expires on its own
		if collector, ok := st.(worker.Collector); ok {
			w := worker.NewWorker(collector, logger, cfg.GCInterval)
			go w.Start(ctx)
		}

		fm, err := newFlashManager(cfg, st)
		if err != nil {
			logger.Fatal("Invalid flash configuration", zap.Error(err))
		}
		sessions := session.NewManager(session.CookieOptions{
			Name:   cfg.Session.CookieName,
			TTL:    cfg.Session.TTL,
			Secure: cfg.Session.Secure,
		}, logger)
		srv := web.NewServer(sessions, fm, logger)

		go func() {
			if err := srv.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Web server failed", zap.Error(err))
				cancel()
			}
		}()

		// Block until shutdown
		select {
		case <-sigChan:
			logger.Info("Shutting down...")
		case <-ctx.Done():
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
		cancel()
		logger.Info("Goodbye!")
	},
}

var pushCmd = &cobra.Command{
	Use:   "push [session-id] [level] [content...]",
	Short: "Queue a flash message for a session's next request",
	Args:  cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := session.ParseID(args[0])
		if err != nil {
			logger.Fatal("Invalid session id", zap.Error(err))
		}
		level, err := model.ParseLevel(args[1])
		if err != nil {
			logger.Fatal("Invalid level", zap.Error(err))
		}
		content := strings.Join(args[2:], " ")

		st, err := openStore(cfg)
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()

		fm, err := newFlashManager(cfg, st)
		if err != nil {
			logger.Fatal("Invalid flash configuration", zap.Error(err))
		}

		if err := fm.Deliver(context.Background(), id, model.NewMessage(level, content, nil)); err != nil {
			logger.Fatal("Failed to deliver message", zap.Error(err))
		}

		logger.Info("Message queued",
			zap.String("session_id", id),
			zap.String("level", level.String()))
	},
}

var peekCmd = &cobra.Command{
	Use:   "peek [session-id]",
	Short: "Show a session's pending flash messages without consuming them",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := session.ParseID(args[0])
		if err != nil {
			logger.Fatal("Invalid session id", zap.Error(err))
		}

		st, err := openStore(cfg)
		if err != nil {
			logger.Fatal("Failed to init store", zap.Error(err))
		}
		defer st.Close()

		fm, err := newFlashManager(cfg, st)
		if err != nil {
			logger.Fatal("Invalid flash configuration", zap.Error(err))
		}

		due, err := fm.Peek(context.Background(), id)
		if err != nil {
			logger.Fatal("Failed to read messages", zap.Error(err))
		}
		if len(due) == 0 {
			fmt.Println("No messages.")
			return
		}
		for _, msg := range due {
			fmt.Printf("%s: %s\n", msg.Level, msg.Content)
		}
	},
}

func openStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Store {
	case config.StoreBadger:
		return session.NewBadgerStore(cfg.BadgerPath, cfg.Session.TTL)
	case config.StoreMemory:
		return session.NewMemoryStore(cfg.Session.TTL)
	default:
		return session.NewRedisStore(cfg.RedisAddr, cfg.Session.TTL)
	}
}

func newFlashManager(cfg *config.Config, st session.Store) (*flash.Manager, error) {
	minLevel, err := cfg.MinLevel()
	if err != nil {
		return nil, err
	}
	return flash.NewManager(st, logger,
		flash.WithKey(cfg.Flash.Key),
		flash.WithMinLevel(minLevel),
	), nil
}

func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = level
	return zc.Build()
}

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", config.StoreRedis, "Session store: redis, badger or memory")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "Address of Redis server")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger", "./badger-data", "Path to BadgerDB data directory")
	serverCmd.Flags().StringVar(&addr, "addr", ":3000", "HTTP listen address")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(peekCmd)

	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
