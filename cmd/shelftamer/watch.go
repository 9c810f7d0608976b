package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shelftamer/internal/daemon"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var overrides runOverrides

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the input directory and process books continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overrides.apply(cfg); err != nil {
				return err
			}
			logger, err := ctx.openLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			manager, client, err := ctx.buildManager(store, logger)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reportModelHealth(runCtx, client, logger)
			instance, err := daemon.New(cfg, store, manager, logger)
			if err != nil {
				return err
			}
			return instance.Run(runCtx)
		},
	}
	overrides.register(cmd)
	return cmd
}
