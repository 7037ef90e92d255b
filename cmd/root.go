// Package cmd defines and implements the CLI commands for the hkjc-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/app"
	"github.com/JakeFAU/hkjc-results-crawler/internal/config"
	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/logging"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of the application the commands drive. Tests swap in a fake.
type App interface {
	Update(ctx context.Context) (crawler.Summary, error)
	Serve(ctx context.Context, crawlOnStart bool) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// appHolder keeps the instance built by the pre-run hook so it can be closed
// whether or not the command succeeded.
type appHolder struct {
	app App
}

func (h *appHolder) close() error {
	if h.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return h.app.Close(ctx)
}

func newRootCmd(holder *appHolder) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "hkjc-crawler",
		Short: "Collects Hong Kong Jockey Club race results into a database.",
		Long: `hkjc-crawler reads the list of available race meetings from the HKJC
results site, fetches every race not yet stored, and persists the results.
It can run a single pass or serve the stored results over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			holder.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HKJC_* environment variables override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// run executes the command line in args and closes the application afterwards.
func run(ctx context.Context, args []string, out io.Writer) error {
	holder := &appHolder{}
	root := newRootCmd(holder)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	err := root.ExecuteContext(ctx)
	if closeErr := holder.close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close application: %w", closeErr))
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
