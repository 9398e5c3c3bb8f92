// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/observability"
	"github.com/xkilldash9x/domscope/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// flagKeys maps command line flags onto configuration keys so that a flag
// given explicitly overrides the config file and the environment.
var flagKeys = map[string]string{
	"headless":     "browser.headless",
	"depth":        "mirror.document_depth",
	"pierce":       "mirror.pierce",
	"strict":       "mirror.strict",
	"follow":       "replay.follow",
	"poll":         "replay.poll",
	"database-url": "database.url",
}

// newRootCmd builds the command tree. provider creates the snapshot store for
// the commands that need one.
func newRootCmd(provider service.StoreProvider) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "domscope",
		Short: "domscope mirrors a live browser DOM and keeps it in sync.",
		Long: `domscope attaches to a Chromium tab over the DevTools protocol and keeps a
local mirror of its document. Snapshots of the mirror can be printed, stored
in PostgreSQL, or rebuilt later from a recorded transcript.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "domscope"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "domscope"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting domscope", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newMirrorCmd(provider))
	rootCmd.AddCommand(newReplayCmd(provider))
	rootCmd.AddCommand(newShowCmd(provider))
	rootCmd.AddCommand(newListCmd(provider))
	rootCmd.AddCommand(newDiffCmd(provider))
	return rootCmd
}

// Execute runs the command tree with ctx, which should be cancelled on
// interrupt signals.
func Execute(ctx context.Context) error {
	rootCmd := newRootCmd(service.NewStoreProvider())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Interrupted.")
			return err
		}
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		return err
	}
	return nil
}

// initializeConfig reads the config file, the DOMSCOPE_* environment and the
// explicitly set flags of cmd into v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DOMSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in command context")
	}
	return cfg, nil
}
