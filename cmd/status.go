package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/slotgrab/internal/auth"
	"github.com/example/slotgrab/internal/history"
	"github.com/example/slotgrab/internal/web"
)

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Serve run history, health and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.StatusAddr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, err := history.Open(ctx, cfg.History())
			if err != nil {
				return err
			}
			authStore := auth.NewStore(cfg.StatusUser, cfg.StatusPasswordBcrypt, cfg.CookieHashKey, cfg.CookieBlockKey)
			if !authStore.Enabled() {
				logger.Warn("STATUS_USER is not set; status pages are unauthenticated")
			}

			ws := &web.Server{Auth: authStore, Logger: logger}
			if store != nil {
				defer store.Close()
				ws.Runs = store
			}
			return web.Start(ctx, addr, ws.Routes(), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides STATUS_ADDR)")
	return cmd
}
