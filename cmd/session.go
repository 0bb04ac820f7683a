package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/slotgrab/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and protect the logged-in session cookies",
	}
	cmd.AddCommand(newSessionCheckCmd())
	cmd.AddCommand(newSessionSealCmd())
	return cmd
}

func newSessionCheckCmd() *cobra.Command {
	var sessionFile string
	c := &cobra.Command{
		Use:   "check",
		Short: "Check that the session file is still logged in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if sessionFile != "" {
				cfg.SessionFile = sessionFile
			}

			sess, err := openSession(cfg)
			if errors.Is(err, session.ErrNoAccessHash) {
				return fmt.Errorf("%s: %w", cfg.SessionFile, err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cookies: %d\n", len(sess.Snapshot()))
			if uid := sess.UserID(); uid != "" {
				fmt.Fprintf(out, "user id: %s\n", uid)
			}

			ok, err := openSiteClient(cfg, sess).IsSessionValid(cmd.Context())
			if err != nil {
				return fmt.Errorf("session check: %w", err)
			}
			if !ok {
				return errors.New("session is no longer valid; log in again and re-export cookies")
			}
			fmt.Fprintln(out, "session valid")
			return nil
		},
	}
	c.Flags().StringVar(&sessionFile, "session", "", "session cookie file (overrides SESSION_FILE)")
	return c
}

func newSessionSealCmd() *cobra.Command {
	var in, out string
	c := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a session cookie file with COOKIE_HASH_KEY and COOKIE_BLOCK_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			codec := sessionCodec(cfg)
			if codec == nil {
				return errors.New("COOKIE_HASH_KEY and COOKIE_BLOCK_KEY are required; generate them with `slotgrab keys`")
			}
			if in == "" {
				in = cfg.SessionFile
			}

			cookies, err := session.LoadFile(in, codec)
			if err != nil {
				return err
			}
			if err := session.SaveFile(out, cookies, codec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed %d cookies into %s\n", len(cookies), out)
			return nil
		},
	}
	c.Flags().StringVar(&in, "in", "", "plain cookie file (defaults to SESSION_FILE)")
	c.Flags().StringVar(&out, "out", "", "sealed output file")
	_ = c.MarkFlagRequired("out")
	return c
}
