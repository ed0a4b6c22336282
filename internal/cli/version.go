package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/touchfish-chat/internal/update"
)

func newVersionCmd(a *app) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, a.version); err != nil {
				return err
			}
			if !check {
				return nil
			}

			checker := &update.Checker{
				ReleaseURL: a.cfg.Update.ReleaseURL,
				NoticeURL:  a.cfg.Update.NoticeURL,
				UserAgent:  "touchfish/" + a.version,
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			rel, err := checker.LatestRelease(ctx)
			if err != nil {
				return fmt.Errorf("check for updates: %w", err)
			}
			if update.IsNewer(a.version, rel.Tag) {
				_, _ = fmt.Fprintf(out, "A newer version is available: %s %s\n", rel.Tag, rel.URL)
			} else {
				_, _ = fmt.Fprintln(out, "You are running the latest version")
			}

			notices, err := checker.Notice(ctx)
			if err != nil {
				a.logger.Warn("failed to fetch notice", "err", err)
				return nil
			}
			for _, n := range notices {
				_, _ = fmt.Fprintf(out, "Notice: %s\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check for a newer release and print the current notice")

	return cmd
}
