// Package cmd defines and implements the CLI commands for the lurk executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/app"
	"github.com/JakeFAU/lurk/internal/config"
	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/scheduler"
)

const defaultConfigFile = "lurk.yaml"

// skipAppAnnotation marks commands that only need the loaded configuration.
const skipAppAnnotation = "lurk/skip-app"

type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"
)

// App defines the application interface that commands use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Runs() lurk.RunStore
	Scheduler() *scheduler.Scheduler
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "lurk",
		Short: "Watch e-commerce stores for products coming back in stock.",
		Long: `lurk searches configured providers on a schedule, throttling every
provider through its own request dispatcher, and notifies the enabled sinks
about products that are in stock.`,
		SilenceUsage: true,

		// Load configuration and, unless the command opts out, build the app.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)

			if cmd.Annotations[skipAppAnnotation] == "" {
				appInstance, err := newApp(ctx, cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	defaultPath := os.Getenv("LURK_CONFIG")
	if defaultPath == "" {
		defaultPath = defaultConfigFile
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultPath, "config file (env LURK_CONFIG)")

	cmd.AddCommand(newRunCmd(), newValidateCmd(), newWatchCmd())
	return cmd
}

// loadConfig reads .env and then the config file. A missing default file
// falls back to defaults and environment; an explicit path must exist.
func loadConfig(path string, explicit bool) (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, lurk.Configf("load .env: %w", err)
	}
	if !explicit && os.Getenv("LURK_CONFIG") == "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

// withApp hands the app built in PersistentPreRunE to run and always closes it.
func withApp(run func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, ok := cmd.Context().Value(appKey).(App)
		if !ok || appInstance == nil {
			return errors.New("application services not initialized")
		}
		defer appInstance.Close()
		return run(cmd, appInstance)
	}
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
