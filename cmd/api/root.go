package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"boardportal/config"
	"boardportal/logging"
)

const serviceName = "boardportal"

type options struct {
	configPath string
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "api",
		Short:         "Board resolution signing portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "config file (YAML)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output JSON")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(sweepCmd(opts))
	root.AddCommand(reconcileCmd(opts))
	root.AddCommand(listCmd(opts))
	root.AddCommand(exportCmd(opts))
	root.AddCommand(configCmd())
	return root
}

// loadConfig reads the config file; the default path may be absent.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

// withRuntime loads config, builds the runtime and tears it down after fn.
func withRuntime(cmd *cobra.Command, opts *options, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		log.Error("runtime bootstrap failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("runtime close", zap.Error(err))
		}
	}()
	return fn(ctx, rt)
}
