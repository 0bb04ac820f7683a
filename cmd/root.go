package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/slotgrab/internal/config"
	"github.com/example/slotgrab/internal/logging"
	"github.com/example/slotgrab/internal/session"
	"github.com/example/slotgrab/internal/site"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "slotgrab",
		Short:         "Watch a booking site for appointment slots and claim one the moment it opens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().String("log-format", "", "log format: text or json (overrides LOG_FORMAT)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newRunsCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newSessionCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnv reads process config and builds the logger, honoring the global flags.
func loadEnv(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	flags := cmd.Root().PersistentFlags()
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func sessionCodec(cfg config.Config) *session.Codec {
	if !cfg.HasCookieKeys() {
		return nil
	}
	return session.NewCodec(cfg.CookieHashKey, cfg.CookieBlockKey)
}

// openSession loads SESSION_FILE. A missing access hash comes back as
// session.ErrNoAccessHash together with a usable context.
func openSession(cfg config.Config) (*session.Context, error) {
	return session.Load(cfg.SessionFile, cfg.Site().WithDefaults().BaseURL, sessionCodec(cfg))
}

func openSiteClient(cfg config.Config, sess *session.Context) *site.Client {
	return site.New(cfg.Site(), sess)
}
