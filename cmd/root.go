// Package cmd defines the healthsync CLI: one-shot syncs, the HTTP trigger and dashboard snapshots.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/app"
	"github.com/JakeFAU/healthsync/internal/clock/system"
	"github.com/JakeFAU/healthsync/internal/config"
	"github.com/JakeFAU/healthsync/internal/id/uuid"
	"github.com/JakeFAU/healthsync/internal/logging"
	"github.com/JakeFAU/healthsync/internal/source"
	"github.com/JakeFAU/healthsync/internal/source/heartcloud"
	"github.com/JakeFAU/healthsync/internal/syncer"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service container commands use. Tests inject their own.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Clock() *system.Clock
	IDs() *uuid.Generator
	Registry() *source.Registry
	Runner() *syncer.Runner
	HeartCloud() (*heartcloud.Source, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, cmd *cobra.Command) (App, error) {
	return app.New(ctx, cfg, logger, app.WithOutput(cmd.OutOrStdout()))
}

type rootState struct {
	cfgFile string
	envFile string
	app     App
}

// close releases the app once the command has finished, successfully or not.
func (s *rootState) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	_ = s.app.Logger().Sync()
	s.app = nil
	return err
}

func newRootCmd() (*cobra.Command, *rootState) {
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "healthsync",
		Short: "Copies daily health metrics into date-keyed spreadsheet rows.",
		Long: `healthsync pulls one day of data from a health source (the Oura REST API,
Strava, ResMed myAir or the HeartCloud dashboard) and upserts it into a
worksheet row keyed by date. Re-running a day overwrites that day's row.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(state.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(state.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, cmd)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&state.envFile, "env-file", ".env", "dotenv file loaded when present")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSnapshotCmd())
	return cmd, state
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	cmd, state := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)

	logger := zap.NewNop()
	if state.app != nil {
		logger = state.app.Logger()
	} else if err != nil {
		if fallback, lerr := logging.New(logging.Config{Development: true}); lerr == nil {
			logger = fallback
		}
	}
	if err != nil {
		logger.Error("command failed", zap.Error(err))
	}
	if cerr := state.close(); cerr != nil && err == nil {
		err = cerr
	}
	_ = logger.Sync()
	if err != nil {
		return 1
	}
	return 0
}
