package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/app"
	"github.com/zhouzirui/mindcare/backend/internal/config"
	"github.com/zhouzirui/mindcare/backend/internal/handler"
	"github.com/zhouzirui/mindcare/backend/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log.Desugar())

	if envErr != nil {
		log.Infow("no .env file loaded, continuing with system environment variables only", "error", envErr)
	}

	services, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to build services", "error", err)
	}
	defer services.Close()

	router := handler.NewRouter(handler.Deps{
		Replier:  services.Orchestrator,
		Sessions: services.Sessions,
		Server:   cfg.Server,
		Auth:     cfg.Auth,
		Logger:   log,
	})

	if err := startServer(ctx, cfg.Server, router, log); err != nil {
		log.Errorw("server error", "error", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.SugaredLogger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Infow("mindcare backend listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
