package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/omochice/touchfish-chat/internal/config"
	"github.com/omochice/touchfish-chat/internal/logging"
	"github.com/omochice/touchfish-chat/internal/plugin"
	"github.com/omochice/touchfish-chat/internal/store"
)

// app carries state shared by every command of one invocation.
type app struct {
	version    string
	v          *viper.Viper
	configPath string

	cfg    config.Config
	logger *slog.Logger
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

// plugins opens the plugin data store and the registry backed by it. The
// returned close function releases both.
func (a *app) plugins() (*plugin.Registry, *store.Store, func() error, error) {
	data, err := store.New(a.cfg.Plugins.Store)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open plugin data store: %w", err)
	}

	reg, err := plugin.Open(plugin.Options{
		Root:        a.cfg.Plugins.Root,
		HostVersion: a.version,
		Data:        data,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, nil, errors.Join(err, data.Close())
	}
	return reg, data, data.Close, nil
}
