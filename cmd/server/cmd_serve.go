package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/system"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workspace server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger.Info("Config loaded successfully", zap.String("path", opts.configPath))

			if cfg.Auth.Enabled && !cfg.Auth.IsProductionReady() {
				logger.Warn("JWT secret not set or too short, using development secret",
					zap.String("env", cfg.Auth.JWTSecretEnv))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lifecycle, err := system.NewLifecycleManager(ctx, cfg, logger)
			if err != nil {
				return err
			}

			if err := lifecycle.Start(); err != nil {
				lifecycle.Shutdown(context.Background())
				return err
			}

			logger.Info("OpenPLC Workspace started successfully")

			select {
			case <-ctx.Done():
				logger.Info("Shutdown signal received")
			case <-lifecycle.Done():
				// POST /system/shutdown
				logger.Info("OpenPLC Workspace stopped via API")
				return nil
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := lifecycle.Shutdown(shutdownCtx); err != nil {
				logger.Error("Shutdown failed", zap.Error(err))
				return err
			}

			logger.Info("OpenPLC Workspace stopped successfully")
			return nil
		},
	}
}
