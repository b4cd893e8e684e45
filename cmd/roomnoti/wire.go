package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/backend"
	"github.com/roomcrew/roomnoti/internal/credential"
	"github.com/roomcrew/roomnoti/internal/inbox"
	"github.com/roomcrew/roomnoti/internal/live"
	"github.com/roomcrew/roomnoti/internal/logging"
	"github.com/roomcrew/roomnoti/internal/metrics"
	"github.com/roomcrew/roomnoti/internal/model"
	"github.com/roomcrew/roomnoti/internal/notification"
	"github.com/roomcrew/roomnoti/internal/session"
	"github.com/roomcrew/roomnoti/internal/store"
	appsync "github.com/roomcrew/roomnoti/internal/sync"
)

// runtime holds every long-lived component of one roomnoti process.
type runtime struct {
	client     *backend.Client
	gate       *session.Gate
	store      *notification.Store
	controller *inbox.Controller
	channel    *live.Channel
	syncer     *appsync.Syncer

	closers []func()
}

// newGate builds just the session gate, for commands that do not need the
// live pieces.
func newGate(c *model.AppConfig, log *zap.Logger) (*session.Gate, *backend.Client) {
	client := backend.NewClient(c.Backend.BaseURL, c.RequestTimeout(), logging.Component(log, "backend"))
	creds := credential.NewKeyring(model.ConfigDir())
	return session.NewGate(creds, client, logging.Component(log, "session")), client
}

// buildRuntime wires the client from configuration. Optional pieces (the
// offline cache, redis, metrics) degrade to disabled with a warning.
func buildRuntime(c *model.AppConfig, log *zap.Logger) *runtime {
	rt := &runtime{}
	rt.gate, rt.client = newGate(c, log)
	rt.store = notification.NewStore()
	rt.controller = inbox.NewController(rt.client, rt.store, c.Backend.PageSize, logging.Component(log, "inbox"))
	rt.closers = append(rt.closers, rt.controller.Close)

	rt.channel = live.NewChannel(rt.client, rt.store, live.Options{
		StreamPath:        c.Live.StreamPath,
		ReconnectDelay:    c.ReconnectDelay(),
		MaxReconnectDelay: c.MaxReconnectDelay(),
		BackoffMultiplier: c.Live.BackoffMultiplier,
		IdleTimeout:       c.IdleTimeout(),
		Deduper:           rt.deduper(c, log),
		Logger:            logging.Component(log, "live"),
	})

	opts := appsync.Options{
		ReconcileInterval: c.ReconcileInterval(),
		Logger:            logging.Component(log, "sync"),
	}
	if cache := rt.openCache(c, log); cache != nil {
		opts.Cache = cache
	}
	rt.syncer = appsync.New(rt.gate, rt.channel, rt.controller, rt.client, rt.store, opts)

	rt.serveMetrics(c, log)
	return rt
}

func (rt *runtime) deduper(c *model.AppConfig, log *zap.Logger) live.Deduper {
	ttl := time.Duration(c.Live.DedupeTTLSec) * time.Second

	switch c.Live.Dedupe {
	case "memory":
		return live.NewMemoryDeduper(ttl)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, deduplicating in memory instead",
				zap.String("addr", c.Redis.Addr),
				zap.Error(err),
			)
			_ = rdb.Close()
			return live.NewMemoryDeduper(ttl)
		}
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
		return live.NewRedisDeduper(rdb, ttl, logging.Component(log, "dedupe"))
	default:
		return nil
	}
}

func (rt *runtime) openCache(c *model.AppConfig, log *zap.Logger) *store.SQLiteStore {
	if c.Cache.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Cache.Path), 0o755); err != nil {
		log.Warn("offline cache disabled", zap.Error(err))
		return nil
	}
	cache, err := store.NewSQLiteStore(c.Cache.Path)
	if err != nil {
		log.Warn("offline cache disabled", zap.String("path", c.Cache.Path), zap.Error(err))
		return nil
	}
	rt.closers = append(rt.closers, func() { _ = cache.Close() })
	return cache
}

func (rt *runtime) serveMetrics(c *model.AppConfig, log *zap.Logger) {
	if c.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              c.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.String("addr", c.Metrics.Addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", c.Metrics.Addr))
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// Close stops the syncer and releases everything buildRuntime opened, in
// reverse order.
func (rt *runtime) Close() {
	rt.syncer.Stop()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// clearCache removes the member's cached inbox after an explicit logout.
func clearCache(c *model.AppConfig, memberID int64) error {
	if c.Cache.Path == "" || memberID == 0 {
		return nil
	}
	if _, err := os.Stat(c.Cache.Path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	cache, err := store.NewSQLiteStore(c.Cache.Path)
	if err != nil {
		return fmt.Errorf("opening offline cache: %w", err)
	}
	defer cache.Close()
	return cache.ClearMember(context.Background(), memberID)
}
