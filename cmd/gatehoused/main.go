// gatehoused is the composition root: it loads configuration, connects
// storage, assembles the gate and grant engines with the entity
// catalog, and exposes the operational endpoints. Request transport for
// the engines themselves belongs to the embedding application.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/catalog"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/migrate"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/internal/token"
)

var (
	version = "0.3.0"
	commit  = "none"
)

type engines struct {
	db      *sql.DB
	catalog *catalog.Catalog
	access  *access.Service
	token   *token.Service
}

func main() {
	var (
		configPath     = flag.String("config", "", "Path to config file")
		addr           = flag.String("addr", ":8081", "Ops listen address")
		migrateOnStart = flag.Bool("migrate", false, "Apply migrations and seeds before serving")
	)
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db := store.DB()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	if *migrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		mgr := migrate.NewManager(db, "ops/migrations/sql", "ops/migrations/seeds")
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
		cancel()
	}

	eng, err := assemble(store, cfg)
	if err != nil {
		log.Fatalf("assemble: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "gatehoused",
			"version": version,
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})
	mux.Handle("/metrics", obs.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.LogEvent("daemon.started", map[string]any{
		"version": version,
		"addr":    *addr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = store.Close()
	obs.LogEvent("daemon.stopped", nil)
}

// assemble builds the engines behind a shared store: one capability
// registry populated by the entity catalog, the gate service reading
// from it, and the grant engine recording lifecycle events to the
// audit log.
func assemble(store *pg.Store, cfg *config.Config) (*engines, error) {
	registry := access.NewRegistry()

	cat, err := catalog.New(store.DB(), registry)
	if err != nil {
		return nil, err
	}

	accessSvc, err := access.NewService(store, registry)
	if err != nil {
		return nil, err
	}

	tokenSvc, err := token.NewService(store, []byte(cfg.Token.Secret),
		token.WithIssuer(cfg.Token.Issuer),
		token.WithAccessTTL(cfg.Token.AccessTTL),
		token.WithRefreshTTL(cfg.Token.RefreshTTL),
		token.WithLoginRate(cfg.Token.LoginRate.PerSecond, cfg.Token.LoginRate.Burst),
		token.WithAuditSink(func(ctx context.Context, event string, fields map[string]any) {
			_ = audit.LogEvent(ctx, event, fields)
		}),
	)
	if err != nil {
		return nil, err
	}

	return &engines{
		db:      store.DB(),
		catalog: cat,
		access:  accessSvc,
		token:   tokenSvc,
	}, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
