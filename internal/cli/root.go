// Package cli implements the touchfish command tree.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/omochice/touchfish-chat/internal/config"
)

// Execute runs the command tree. version is reported by "touchfish version"
// and used as the host version for plugin compatibility checks.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	a := &app{version: version, v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "touchfish",
		Short:         "TouchFish chat client",
		Long:          "touchfish connects to a TouchFish chat server, exchanges chat lines and files, and manages client plugins.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/touchfish/config.toml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))

	rootCmd.AddCommand(
		newVersionCmd(a),
		newConnectCmd(a),
		newPluginCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}
