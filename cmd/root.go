// Package cmd defines and implements the CLI commands for the sitescraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/app"
	"github.com/JakeFAU/sitescraper/internal/config"
	"github.com/JakeFAU/sitescraper/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can inject
// fakes for the browser and store.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned shutdown
// function closes the application; it also runs after a failed command, when
// cobra skips the post-run hooks.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		logger      *zap.Logger
		appInstance *app.App
	)
	shutdown := func() {
		if appInstance != nil {
			appInstance.Close()
			appInstance = nil
		}
		if logger != nil {
			_ = logger.Sync() //nolint:errcheck // stderr sync fails on terminals
		}
	}

	cmd := &cobra.Command{
		Use:   "sitescraper",
		Short: "A stateful, resumable website crawler and archiver.",
		Long: `sitescraper crawls websites one address at a time with a real Chrome
instance, archiving every page as an HTML snapshot with screenshot, full-page
image and PDF captures, saving downloadable files, and following the links it
finds. State lives in the configured store so a crawl can stop and resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application and injects it into the command context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) { shutdown() },
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newCrawlCmd(),
		newDomainCmd(),
		newDownloadCmd(),
		newOpenCmd(),
		newCaptureCmd(),
		newAskCmd(),
		newRelinkCmd(),
		newRelinkPageCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return cmd, shutdown
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, shutdown := newRootCmd()
	err := root.ExecuteContext(ctx)
	shutdown()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
