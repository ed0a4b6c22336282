package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omochice/touchfish-chat/internal/plugin"
)

func newPluginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage installed plugins",
	}

	cmd.AddCommand(
		newPluginInstallCmd(a),
		newPluginUninstallCmd(a),
		newPluginToggleCmd(a, "enable", "Enable an installed plugin", (*plugin.Registry).Enable),
		newPluginToggleCmd(a, "disable", "Disable an installed plugin", (*plugin.Registry).Disable),
		newPluginListCmd(a),
	)

	return cmd
}

func newPluginInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install <dir>",
		Short: "Validate a plugin directory and install it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, closeData, err := a.plugins()
			if err != nil {
				return err
			}
			defer closeData()

			p, err := reg.Install(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Installed %s %s (%s)\n", p.ID(), p.Manifest.Version, p.Manifest.Type)
			return nil
		},
	}
}

func newPluginUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove a plugin and its stored data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, closeData, err := a.plugins()
			if err != nil {
				return err
			}
			defer closeData()

			if err := reg.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newPluginToggleCmd(a *app, use, short string, op func(*plugin.Registry, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, closeData, err := a.plugins()
			if err != nil {
				return err
			}
			defer closeData()

			if err := op(reg, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", strings.ToUpper(use[:1])+use[1:], args[0])
			return nil
		},
	}
}

type pluginJSON struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Version       string              `json:"version"`
	Type          plugin.Type         `json:"type"`
	MinAppVersion string              `json:"minAppVersion"`
	Permissions   []plugin.Capability `json:"permissions,omitempty"`
	Enabled       bool                `json:"enabled"`
	Path          string              `json:"path"`
}

func newPluginListCmd(a *app) *cobra.Command {
	var kind string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, _, closeData, err := a.plugins()
			if err != nil {
				return err
			}
			defer closeData()

			var plugins []plugin.Plugin
			switch kind {
			case "":
				plugins = reg.List()
			case "theme":
				plugins = reg.ListThemes()
			case "pack", "functional-pack":
				plugins = reg.ListFunctional()
			default:
				return fmt.Errorf("unknown plugin type %q, want theme or pack", kind)
			}

			if asJSON {
				out := make([]pluginJSON, 0, len(plugins))
				for _, p := range plugins {
					out = append(out, pluginJSON{
						ID:            p.ID(),
						Name:          p.Manifest.Name,
						Version:       p.Manifest.Version,
						Type:          p.Manifest.Type,
						MinAppVersion: p.Manifest.MinAppVersion,
						Permissions:   p.Manifest.Permissions,
						Enabled:       p.Enabled,
						Path:          p.Path,
					})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(plugins) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no plugins installed")
				return nil
			}
			for _, p := range plugins {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatPlugin(p))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "only list plugins of this type (theme or pack)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func formatPlugin(p plugin.Plugin) string {
	state := "disabled"
	if p.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s", p.ID(), p.Manifest.Version, p.Manifest.Type, state, p.Manifest.Name)
}
