package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"multichat-backend/internal/config"
	"multichat-backend/internal/gateway"
	"multichat-backend/internal/service"
	"multichat-backend/internal/settings"
	"multichat-backend/internal/storage"
	"multichat-backend/pkg/logger"
)

// env holds what every subcommand needs once the config is loaded.
type env struct {
	cfg      *config.Config
	settings settings.Store
	store    storage.Storage
	chat     *service.ChatService
}

func (e *env) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.settings != nil {
		_ = e.settings.Close()
	}
}

func main() {
	var (
		configPath string
		remote     bool
		e          env
	)

	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Drive multi-answer chat conversations from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			e.cfg = cfg

			if e.settings, err = settings.Open(cfg.Settings); err != nil {
				return err
			}
			if e.store, err = storage.New(cfg.Storage); err != nil {
				return err
			}

			var gw service.Gateway = gateway.NewLocal(gateway.NewProxy(cfg.Orchestrator.ConcurrentRequests))
			if remote {
				gw = gateway.NewClient(cfg.Gateway.URL)
			}
			e.chat = service.NewChatService(e.store, service.NewOrchestrator(gw, e.store, e.settings, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "send turns to the gateway at gateway.url instead of in-process")

	rootCmd.AddCommand(
		newNewCmd(&e),
		newListCmd(&e),
		newShowCmd(&e),
		newSendCmd(&e),
		newSelectCmd(&e),
		newMergeCmd(&e),
		newRegenerateCmd(&e),
		newCloneCmd(&e),
		newDeleteCmd(&e),
		newSetCmd(&e),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		e.close()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
