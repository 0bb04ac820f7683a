package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/slotgrab/internal/auth"
	"github.com/example/slotgrab/internal/classify"
	"github.com/example/slotgrab/internal/config"
	"github.com/example/slotgrab/internal/diagstore"
	"github.com/example/slotgrab/internal/grab"
	"github.com/example/slotgrab/internal/history"
	"github.com/example/slotgrab/internal/notify"
	"github.com/example/slotgrab/internal/session"
	"github.com/example/slotgrab/internal/web"
)

func newRunCmd() *cobra.Command {
	var (
		sessionFile string
		snipe       bool
		maxRetries  int
		serveAddr   string
	)

	c := &cobra.Command{
		Use:   "run RUN_FILE",
		Short: "Grab a slot as described by a TOML or YAML run file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if sessionFile != "" {
				cfg.SessionFile = sessionFile
			}

			runCfg, err := config.LoadRun(args[0], time.Now())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("snipe") {
				runCfg.Snipe.Enabled = snipe
			}
			if cmd.Flags().Changed("max-retries") {
				runCfg.MaxRetries = maxRetries
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := openSession(cfg)
			switch {
			case errors.Is(err, session.ErrNoAccessHash):
				// The start-of-run session check ends the run as session_lost and records it.
				logger.Warn("session file has no access hash; log in again and re-export cookies", "file", cfg.SessionFile)
			case err != nil:
				return fmt.Errorf("load session %s: %w", cfg.SessionFile, err)
			}

			client := openSiteClient(cfg, sess)
			sink, err := diagstore.Open(ctx, cfg.Diagnostics())
			if err != nil {
				return fmt.Errorf("open diagnostic store: %w", err)
			}

			orch := grab.New(client, classify.New(client, sink), logger)

			store, err := history.Open(ctx, cfg.History())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			if store != nil {
				defer store.Close()
				orch.Recorder = history.Recorder{Store: store}
			}

			if serveAddr != "" {
				ws := &web.Server{
					Auth:   auth.NewStore(cfg.StatusUser, cfg.StatusPasswordBcrypt, cfg.CookieHashKey, cfg.CookieBlockKey),
					Logger: logger,
				}
				if store != nil {
					ws.Runs = store
				}
				go func() {
					if err := web.Start(ctx, serveAddr, ws.Routes(), logger); err != nil {
						logger.Error("status server stopped", "error", err)
					}
				}()
			}

			notifier := buildNotifier(cfg, logger)
			rep, err := orch.Run(ctx, runCfg, func(r grab.Report) {
				if err := notifier.Notify(context.WithoutCancel(ctx), r); err != nil {
					logger.Warn("notification failed", "run_id", r.RunID, "error", err)
				}
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), rep.Summary())
			if rep.State != grab.StateSucceeded {
				return fmt.Errorf("run %s ended %s", rep.RunID, rep.State)
			}
			return nil
		},
	}

	c.Flags().StringVar(&sessionFile, "session", "", "session cookie file (overrides SESSION_FILE)")
	c.Flags().BoolVar(&snipe, "snipe", false, "watch/rush mode (overrides snipe.enabled)")
	c.Flags().IntVar(&maxRetries, "max-retries", 0, "attempt bound for plain mode, 0 is unbounded (overrides max_retries)")
	c.Flags().StringVar(&serveAddr, "serve", "", "also serve the status pages on this address while running")
	return c
}

func buildNotifier(cfg config.Config, logger *slog.Logger) notify.Notifier {
	n := notify.Multi{notify.Log{Logger: logger}}
	if cfg.NotifyWebhookURL != "" {
		n = append(n, notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret))
	}
	return n
}
