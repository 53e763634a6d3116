package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/logger"
	"mirror-sync-service/internal/store"
	"mirror-sync-service/internal/sync"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigPath string
	EnvFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "mirror-sync",
		Short:        "Pull-based replication from a master deployment into a mirror",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the config (optional)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newLogsCommand(opts))

	return cmd
}

// app holds what every subcommand needs. close releases it in reverse order.
type app struct {
	cfg     *config.Config
	store   *store.SQLStore
	manager *sync.Manager
}

func bootstrap(opts *rootOptions) (*app, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	stateStore, err := store.New(cfg.StateStorage)
	if err != nil {
		return nil, fmt.Errorf("failed to init state store: %w", err)
	}

	manager, err := sync.NewManager(cfg, stateStore)
	if err != nil {
		stateStore.Close()
		return nil, fmt.Errorf("failed to init sync manager: %w", err)
	}

	logger.Log.Debug("Bootstrapped",
		zap.String("master", cfg.Master.URL),
		zap.String("state_storage", cfg.StateStorage.Type),
	)
	return &app{cfg: cfg, store: stateStore, manager: manager}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Log.Warn("Failed to close state store", zap.Error(err))
	}
	logger.Sync()
}
