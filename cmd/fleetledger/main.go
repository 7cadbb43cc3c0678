package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pegazzo/fleetledger/internal/api/handlers"
	"github.com/pegazzo/fleetledger/internal/api/middleware"
	"github.com/pegazzo/fleetledger/internal/config"
	"github.com/pegazzo/fleetledger/internal/database"
	"github.com/pegazzo/fleetledger/internal/logger"
	"github.com/pegazzo/fleetledger/internal/metrics"
	"github.com/pegazzo/fleetledger/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logg := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logg.Fatal().Err(err).Msg("mkdir db dir")
	}

	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		logg.Fatal().Err(err).Msg("migrate")
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logg.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	hook := metrics.NewHook(logg)

	ledger := &service.LedgerService{DB: db, Hook: hook, Log: logg}
	reports := &service.ReportService{DB: db, Log: logg}

	mux := http.NewServeMux()
	handlers.New(ledger, reports, logg).Register(mux)

	var handler http.Handler = mux
	handler = middleware.CORS(handler)
	handler = middleware.Recovery(logg)(handler)
	handler = middleware.Logger(logg)(handler)
	handler = middleware.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logg.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal().Err(err).Msg("serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logg.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logg.Error().Err(err).Msg("shutdown")
	}
}
