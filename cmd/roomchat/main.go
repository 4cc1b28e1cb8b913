package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/api"
	"roomchat/internal/broker"
	"roomchat/internal/config"
	"roomchat/internal/directory"
	"roomchat/internal/fanout"
	"roomchat/internal/journal"
	"roomchat/internal/lockmap"
	"roomchat/internal/logger"
	"roomchat/internal/message"
	"roomchat/internal/presence"
	"roomchat/internal/push"
	"roomchat/internal/relationship"
	"roomchat/internal/repository"
	"roomchat/internal/room"
	"roomchat/internal/ws"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const (
	presenceTTL     = 12 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// 1. Storage
	var (
		store repository.Store
		db    *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		var err error
		db, err = sql.Open("postgres", cfg.DBConnStr)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		pg := repository.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	default:
		store = repository.NewMemoryStore()
	}
	logger.Info("store_ready", "driver", cfg.StoreDriver)

	// 2. Presence
	registry, closePresence, err := openPresence(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closePresence()

	// 3. Broker (optional)
	var (
		mq   *broker.RabbitMQClient
		feed ws.UserFeed
	)
	if cfg.AMQPURL != "" {
		mq, err = broker.NewRabbitMQClient(cfg.AMQPURL, broker.Options{})
		if err != nil {
			return err
		}
		defer mq.Close()
		feed = mq
		logger.Info("broker_connected")
	}

	// 4. Fan-out
	ledger := relationship.NewLedger(store)
	hub := ws.NewHub(registry, feed, cfg.NodeID)
	if cfg.PresenceDriver == config.PresenceRedis {
		hub.SetPresenceRefresh(presenceTTL / 2)
	}
	var pusher fanout.Pusher = hub
	if mq != nil {
		pusher = broker.NewUserRouter(mq)
	}
	fan := fanout.New(registry, pusher, ledger, store, fanout.Options{
		QueueSize: cfg.FanoutQueueSize,
		SelfEcho:  cfg.SelfEcho,
	})
	if cfg.StreamURI != "" {
		j, err := journal.Open(cfg.StreamURI, cfg.StreamName)
		if err != nil {
			return err
		}
		defer j.Close()
		fan.SetJournal(j)
	}

	// 5. Services
	locks := lockmap.New()
	messages := message.NewService(store, ledger, fan, locks)
	rooms := room.NewService(store, ledger, fan, locks)
	dir := directory.NewService(store, ledger)
	hub.SetHandler(messages)

	// 6. Workers
	go hub.Run(ctx)
	go messages.RunSweeper(ctx, cfg.SweepInterval)
	if mq != nil {
		worker := push.NewWorker(mq, fan)
		go func() {
			if err := worker.Start(ctx); err != nil {
				logger.Error("push_worker_failed", "error", err)
			}
		}()
	}

	// 7. HTTP
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Deps{
			Rooms:       rooms,
			Messages:    messages,
			Ledger:      ledger,
			Directory:   dir,
			Hub:         hub,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server_starting", "addr", srv.Addr, "node_id", cfg.NodeID)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
	}

	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server_shutdown_failed", "error", err)
	}
	messages.Close()
	fan.Close()
	return nil
}

func openPresence(ctx context.Context, cfg *config.Config, db *sql.DB) (presence.Registry, func(), error) {
	switch cfg.PresenceDriver {
	case config.PresenceRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("presence_ready", "driver", cfg.PresenceDriver, "addr", cfg.RedisAddr)
		return presence.NewRedisRegistry(rdb, presenceTTL), func() { rdb.Close() }, nil
	case config.PresencePostgres:
		reg := presence.NewPostgresRegistry(db)
		// sessions left behind by a previous run of this node
		if err := reg.PurgeNode(ctx, cfg.NodeID); err != nil {
			return nil, nil, err
		}
		logger.Info("presence_ready", "driver", cfg.PresenceDriver)
		return reg, func() {}, nil
	}
	logger.Info("presence_ready", "driver", config.PresenceMemory)
	return presence.NewMemoryRegistry(), func() {}, nil
}
