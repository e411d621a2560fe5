package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/config"
	logpkg "github.com/kailas-cloud/vecguard/internal/logger"
	"github.com/kailas-cloud/vecguard/internal/metrics"
	chiTransport "github.com/kailas-cloud/vecguard/internal/transport/chi"
	"github.com/kailas-cloud/vecguard/internal/version"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "vecguard",
		Short:         "Protected media detection service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default: config/<ENV>.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	var mimeType string
	checkCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Run one file through the decision pipeline and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.Context(), configPath, args[0], mimeType)
		},
	}
	checkCmd.Flags().StringVar(&mimeType, "mime", "", "MIME type of the file (default: sniffed)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the explicit config path, or config/<ENV>.yaml.
func loadConfig(env, path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(env)
}

func setup(configPath string) (config.Config, *zap.Logger, string, error) {
	env := config.GetEnv()

	cfg, err := loadConfig(env, configPath)
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, env, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, logger, env, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vecguard API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("space", cfg.PrimarySpace().String()),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterExtractionMetrics()
	metrics.RegisterPipelineMetrics()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server := chiTransport.NewServer(app.orchestrator, app.health, logger).
		WithMaxUploadBytes(cfg.Upload.MaxBytes)
	handler := chiTransport.NewRouter(server, chiTransport.RouterConfig{APIKeys: cfg.Auth.APIKeys}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func check(ctx context.Context, configPath, path, mimeType string) error {
	cfg, logger, _, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if mimeType == "" {
		mimeType = sniffMIMEType(data)
	}

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx = logpkg.ContextWithLogger(ctx, logger.With(zap.String("file", path)))
	resp, err := app.orchestrator.Process(ctx, data, mimeType)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func sniffMIMEType(data []byte) string {
	mt, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mt
}
