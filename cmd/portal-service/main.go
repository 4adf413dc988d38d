// cmd/portal-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"captiochat/internal/meta"
	"captiochat/internal/portal"
	"captiochat/internal/webhook"
	"captiochat/pkg/config"
	"captiochat/pkg/connections"
	"captiochat/pkg/db"
	"captiochat/pkg/logger"
	"captiochat/pkg/middleware"
	"captiochat/pkg/vault"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	// A malformed encryption key must kill the process here, not surface on
	// the first seal.
	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalw("vault", "err", err)
	}
	if cfg.MetaAppID == "" || cfg.MetaAppSecret == "" || cfg.MetaRedirectURI == "" {
		log.Fatalw("config", "err", "META_APP_ID, META_APP_SECRET and META_REDIRECT_URI are required")
	}
	if cfg.MetaVerifyToken == "" {
		log.Warn("META_VERIFY_TOKEN not set — webhook verification will reject all handshakes")
	}

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store connections.Store
	var events connections.EventRecorder
	if pool != nil {
		if err := connections.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		pg := connections.NewPostgresStore(pool, log)
		store, events = pg, pg
	} else {
		mem := connections.NewMemoryStore(log)
		store, events = mem, mem
	}
	store = connections.NewCachedStore(store, rdb, log)

	graph := meta.NewGraphClient(meta.GraphConfig{
		AppID:       cfg.MetaAppID,
		AppSecret:   cfg.MetaAppSecret,
		RedirectURI: cfg.MetaRedirectURI,
		APIVersion:  cfg.MetaAPIVersion,
		Timeout:     cfg.MetaHTTPTimeout,
	})
	svc := meta.NewService(cfg, graph, v, store, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing(cfg))
	r.Use(middleware.Metrics())

	portal.RegisterRoutes(r)
	meta.RegisterRoutes(r, svc)
	webhook.NewHandler(cfg.MetaVerifyToken, store, events, log).RegisterRoutes(r)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("portal-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("portal-service stopped")
}
