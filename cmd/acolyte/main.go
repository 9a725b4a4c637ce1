package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antoniostano/acolyte/internal/app"
	"github.com/antoniostano/acolyte/internal/config"
	"github.com/antoniostano/acolyte/internal/credential"
	"github.com/antoniostano/acolyte/internal/observability"
)

func main() {
	storeCredential := flag.Bool("store-credential", false, "save OPENAI_API_KEY into the DATABASE_URL credential table and exit")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if *storeCredential {
		if err := saveCredential(context.Background(), cfg); err != nil {
			log.Fatalf("store credential: %v", err)
		}
		logger.Info("credential stored", slog.String("name", cfg.CredentialName))
		return
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer("acolyte", logger)
		if err != nil {
			log.Fatalf("tracer init failed: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", slog.String("error", err.Error()))
		}
	}()

	for _, s := range built.Supervisors {
		s.Start(runCtx)
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: otelhttp.NewHandler(built.API.Router(), "acolyte"),
	}

	go func() {
		logger.Info("server listening",
			slog.String("addr", cfg.BindAddr),
			slog.Bool("avatar", built.Avatar != nil),
			slog.Bool("liveness", cfg.LivenessEnabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

func saveCredential(ctx context.Context, cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return credential.ErrNotConfigured
	}
	store, err := credential.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.CredentialName)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(ctx, cfg.OpenAIAPIKey)
}
