package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/bootstrap"
	"github.com/crmbridge/accountsync/internal/controller"
	"github.com/crmbridge/accountsync/internal/infrastructure/crm"
	"github.com/crmbridge/accountsync/internal/infrastructure/postgres"
	infraRedis "github.com/crmbridge/accountsync/internal/infrastructure/redis"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "accountsync-api", "accountsync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Infrastructure ---
	crmClient := crm.NewClient(&app.Config.CRM, app.Logger)
	producer := infraRedis.NewStreamProducer(app.Redis)
	deadLetterRepo := postgres.NewDeadLetterRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	requeuer := appsync.NewRequeuer(deadLetterRepo, producer, txManager, app.Logger)
	responseCache := infraRedis.NewResponseCache(app.Redis, 0)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:            app.Pool,
		RedisClient:     app.Redis,
		CRM:             crmClient,
		Publisher:       producer,
		DeadLetterStore: deadLetterRepo,
		Requeuer:        requeuer,
		ResponseCache:   responseCache,
		Metrics:         app.Metrics,
		CORSConfig:      app.Config.Server.CORS,
		Logger:          app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
