package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/labkit/internal/config"
	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/metrics"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/server"
	"github.com/livetemplate/labkit/internal/share"
	"github.com/livetemplate/labkit/internal/validate"
)

// shutdownTimeout bounds the drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	port      int
	host      string
	watch     bool
	dev       bool
	chromeURL string
}

func newServeCommand(g *globalOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Start the lab server",
		Long: `Serve the labs under <directory>/labs (or labs.base_url) with a headless
browser playground. labkit.yaml in <directory> is loaded when present.`,
		Example: `  labkit serve                      # Serve ./labs
  labkit serve ./course --port 9000
  labkit serve --dev --watch        # Reload sessions when lab files change
  labkit serve --chrome-url http://localhost:9222`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runServe(cmd, g, o, dir)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.port, "port", "p", 0, "listen port (overrides server.port)")
	f.StringVar(&o.host, "host", "", "listen host (overrides server.host)")
	f.BoolVarP(&o.watch, "watch", "w", false, "reload sessions when lab files change")
	f.BoolVar(&o.dev, "dev", false, "development mode: readable logs, private lab and validator endpoints allowed")
	f.StringVar(&o.chromeURL, "chrome-url", "", "DevTools endpoint of a running Chrome (overrides playground.remote_url)")
	return cmd
}

func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("host") {
		cfg.Server.Host = o.host
	}
	if flags.Changed("watch") {
		cfg.Features.HotReload = o.watch
	}
	if o.chromeURL != "" {
		cfg.Playground.RemoteURL = o.chromeURL
	}
	if o.dev {
		cfg.Server.Debug = true
		cfg.Validators.AllowPrivate = true
	}
}

// shareDSN resolves a relative sqlite file against the served directory.
func shareDSN(cfg config.ShareConfig, root string) string {
	dsn := cfg.GetDSN()
	if cfg.GetDriver() == "sqlite" && !filepath.IsAbs(dsn) && dsn != ":memory:" {
		return filepath.Join(root, dsn)
	}
	return dsn
}

func runServe(cmd *cobra.Command, g *globalOptions, o *serveOptions, dir string) error {
	logger := g.logger
	absDir, err := resolveDir(dir)
	if err != nil {
		return err
	}
	cfg, err := g.loadConfig(absDir)
	if err != nil {
		return err
	}
	o.apply(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers *multierror.Error
	var cleanup []func() error
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			if err := cleanup[i](); err != nil {
				closers = multierror.Append(closers, err)
			}
		}
		if err := closers.ErrorOrNil(); err != nil {
			logger.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()

	baseURL := cfg.Share.BaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Server.Addr()
	}
	var store share.Store
	sqlStore, err := share.Open(ctx, cfg.Share.GetDriver(), shareDSN(cfg.Share, absDir))
	if err != nil {
		logger.Warn("share store unavailable, only long links will be produced", zap.Error(err))
	} else {
		store = sqlStore
		cleanup = append(cleanup, sqlStore.Close)
	}
	sharer := share.NewSharer(store, baseURL)

	engine := playground.NewChromeEngine(playground.ChromeOptions{
		RemoteURL:  cfg.Playground.RemoteURL,
		ExecPath:   cfg.Playground.ExecPath,
		Headless:   cfg.Playground.IsHeadless(),
		RunTimeout: cfg.Playground.GetRunTimeout(),
		Sharer:     sharer,
		Logger:     logger,
	})
	engine.Start(context.Background())
	cleanup = append(cleanup, engine.Close)

	var validator *validate.Validator
	if v, err := validate.FromConfig(cfg.Validators, logger); err != nil {
		logger.Warn("validation disabled", zap.Error(err))
	} else {
		validator = v
		cleanup = append(cleanup, func() error { v.Close(); return nil })
	}

	fetcher, err := fetch.FromConfig(cfg.Labs, absDir, o.dev, logger)
	if err != nil {
		return fmt.Errorf("failed to configure labs: %w", err)
	}

	srv, err := server.New(server.Options{
		Config:    cfg,
		Fetcher:   fetcher,
		Engine:    engine,
		Sharer:    sharer,
		Validator: validator,
		Metrics:   metrics.New(),
		Logger:    logger,
		LabsDir:   cfg.Labs.ResolveDir(absDir),
	})
	if err != nil {
		return err
	}
	cleanup = append(cleanup, srv.Close)

	if cfg.Features.HotReload {
		if err := srv.EnableWatch(); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📚 %s\n\n", cfg.Title)
	if cfg.Labs.IsRemote() {
		fmt.Fprintf(out, "Labs:   %s\n", cfg.Labs.BaseURL)
	} else {
		fmt.Fprintf(out, "Labs:   %s\n", cfg.Labs.ResolveDir(absDir))
	}
	fmt.Fprintf(out, "Server: http://%s\n", cfg.Server.Addr())
	if cfg.Features.HotReload && !cfg.Labs.IsRemote() {
		fmt.Fprintf(out, "👀 Watching lab files for changes\n")
	}
	fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
