package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/nartechsolution/wagateway/internal/api"
	"github.com/nartechsolution/wagateway/internal/cleanup"
	"github.com/nartechsolution/wagateway/internal/config"
	"github.com/nartechsolution/wagateway/internal/service"
	"github.com/nartechsolution/wagateway/internal/storage"
)

// NewServeCommand creates the serve command, the gateway's only long-running
// mode.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func runServe(cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	msgLog, err := storage.OpenMessageLog(cfg.MessageLogPath)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}

	sanitizer := cleanup.NewSanitizer(cfg.AuthDir, cfg.CacheDir, logger)

	connector := service.NewConnector(service.Options{
		Identity:             cfg.Identity,
		AuthDir:              cfg.AuthDir,
		CacheDir:             cfg.CacheDir,
		BridgeCommand:        cfg.BridgeCommand,
		BridgeArgs:           cfg.BridgeArgs,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		MaxQRRetries:         cfg.MaxQRRetries,
		RestoreTimeout:       cfg.RestoreTimeout.Std(),
		PairingTimeout:       cfg.PairingTimeout.Std(),
		InitWaitCap:          cfg.InitWaitCap.Std(),
		Cleaner:              sanitizer,
		Logger:               logger,
	})

	gateway := service.NewGateway(connector, msgLog, logger, service.GatewayOptions{
		ProfileWaitCap:    cfg.ProfileWaitCap.Std(),
		LogoutSettleDelay: cfg.LogoutSettleDelay.Std(),
	})

	router := chi.NewRouter()
	api.NewHandler(gateway, cfg.UploadDir, logger).Mount(router)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		gateway.Shutdown(context.Background())
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	grace := cfg.ShutdownGrace.Std()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	gateway.Shutdown(shutdownCtx)
	logger.Info("gateway stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
