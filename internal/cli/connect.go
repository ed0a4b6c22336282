package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omochice/touchfish-chat/internal/client"
	"github.com/omochice/touchfish-chat/internal/config"
	"github.com/omochice/touchfish-chat/internal/plugin"
	"github.com/omochice/touchfish-chat/internal/transfer"
)

func newConnectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a chat server",
		Long:  "connect joins the configured chat server. Lines read from stdin are sent as chat; lines starting with / are commands (see /help).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cfg.Server.Username == "" {
				return errors.New("username is required, use --username or server.username")
			}

			reg, data, closeData, err := a.plugins()
			if err != nil {
				return err
			}
			defer closeData()

			c := client.New(client.Options{
				Address:    cfg.Server.Address,
				Transport:  client.Transport(cfg.Server.Transport),
				Username:   cfg.Server.Username,
				ChunkSize:  cfg.Transfer.ChunkSize,
				Pacing:     cfg.Transfer.Pacing,
				AutoAccept: cfg.Transfer.AutoAccept,
				Saver:      transfer.DirSaver{Dir: cfg.Transfer.DownloadDir},
				Logger:     a.logger,
			})
			defer c.Close()

			host := newTerminalHost(c)
			gate := plugin.NewGate(reg, host, storeKV{data}, a.logger)
			s := newSession(c, reg, gate, host, cmd.OutOrStdout(), a.logger)

			if err := c.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	flags := cmd.Flags()
	flags.String("server", "", "server address (host:port, or ws:// URL with --transport ws)")
	flags.String("username", "", "name chat lines are signed with")
	flags.String("transport", "", "transport: tcp or ws")
	flags.Bool("auto-accept", false, "accept every incoming file")
	flags.String("download-dir", "", "directory received files are saved to")
	_ = a.v.BindPFlag(config.KeyServerAddress, flags.Lookup("server"))
	_ = a.v.BindPFlag(config.KeyServerUsername, flags.Lookup("username"))
	_ = a.v.BindPFlag(config.KeyServerTransport, flags.Lookup("transport"))
	_ = a.v.BindPFlag(config.KeyTransferAutoAccept, flags.Lookup("auto-accept"))
	_ = a.v.BindPFlag(config.KeyTransferDownloadDir, flags.Lookup("download-dir"))

	return cmd
}
