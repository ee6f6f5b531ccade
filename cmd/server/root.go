package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

type globalOptions struct {
	configPath string
	debug      bool
}

// newRootCmd creates the openplc-workspace command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "openplc-workspace",
		Short:         "Symbol-aware watch table for OpenPLC devices",
		Long:          "openplc-workspace keeps a project of PLC symbols, monitors their values on a\nconnected device and serves them over REST, WebSocket and gRPC.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the config file (empty for defaults)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newWatchCmd(opts),
		newHashPasswordCmd(),
		newTokenCmd(),
	)

	return cmd
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) newLogger() (*zap.Logger, error) {
	if o.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
