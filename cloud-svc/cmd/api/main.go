package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := app.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Close()

	// Start HTTP server
	server := &http.Server{
		Addr:           ":" + app.Config.ServerPort,
		Handler:        app.Router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		app.Sweeper.Run(sweepCtx)
	}()

	go func() {
		app.Logger.Info("HTTP server starting", zap.String("port", app.Config.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	app.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("server shutdown error", zap.Error(err))
	}
	stopSweep()
	<-sweepDone
}
