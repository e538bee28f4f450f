package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/httplog/v2"

	"github.com/tendant/simple-image/pkg/simpleimage/api"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
	"github.com/tendant/simple-image/pkg/simpleimage/metrics"
	repopg "github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
)

func main() {
	var (
		envHelp    = flag.Bool("env-help", false, "Print the supported environment variables and exit")
		migrate    = flag.Bool("migrate", false, "Apply Postgres migrations and exit")
		configFile = flag.String("config", "", "Optional YAML, JSON or TOML config file")
		envFile    = flag.String("env-file", ".env", "Optional .env file loaded before the environment is read")
	)
	flag.Parse()

	if *envHelp {
		desc, err := config.Description()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(desc)
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("Failed to load env file", "err", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		slog.Error("Failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if *migrate {
		if cfg.Metadata.Backend != "postgres" {
			logger.Error("Migrations require the postgres metadata backend", "backend", cfg.Metadata.Backend)
			os.Exit(1)
		}
		if err := repopg.Migrate(cfg.Metadata.DatabaseURL, cfg.Metadata.DatabaseSchema); err != nil {
			logger.Error("Migration failed", "err", err)
			os.Exit(1)
		}
		logger.Info("Migrations applied")
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	app, err := cfg.Build(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Failed to close components", "err", err)
		}
	}()

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return err
	}

	requestLogger := httplog.NewLogger("simple-image", httplog.Options{
		JSON:             cfg.Log.Format == "json",
		Concise:          true,
		LogLevel:         slog.LevelInfo,
		MessageFieldName: "msg",
		QuietDownRoutes:  []string{"/healthz", "/healthz/ready", "/metrics"},
		Tags:             map[string]string{"env": cfg.Environment},
	})

	router := api.NewRouter(api.RouterConfig{
		Upload:         app.Upload,
		Query:          app.Query,
		OCR:            app.OCR,
		Pipeline:       app.Pipeline,
		Store:          app.Store,
		Signer:         app.Signer,
		Ready:          app.Ready,
		Metrics:        metrics.Handler(app.Registry),
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadSize:  maxUpload,
		RequestTimeout: cfg.Server.RequestTimeout,
		Middlewares: []func(http.Handler) http.Handler{
			httplog.RequestLogger(requestLogger, []string{"/healthz", "/healthz/ready", "/metrics"}),
			metrics.HTTPMiddleware(app.Registry),
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Simple Image server starting",
			"port", cfg.Server.Port,
			"env", cfg.Environment,
			"storage_backend", cfg.Storage.Backend,
			"metadata_backend", cfg.Metadata.Backend,
			"auth_mode", cfg.Auth.Mode,
			"vision_backend", cfg.Vision.Backend,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}
