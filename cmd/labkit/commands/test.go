package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/results"
	"github.com/livetemplate/labkit/internal/session"
)

type labOptions struct {
	dir      string
	solution string
}

func (o *labOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.dir, "dir", "d", ".", "served directory holding labkit.yaml and labs/")
	cmd.Flags().StringVarP(&o.solution, "solution", "s", "", "directory with index.html, style.css and script.js to check instead of the starter code")
}

func newTestCommand(g *globalOptions) *cobra.Command {
	o := &labOptions{}
	var chromeURL string
	cmd := &cobra.Command{
		Use:   "test <lab>",
		Short: "Run a lab's test suite in a headless browser",
		Example: `  labkit test box-model                       # Starter code, usually failing
  labkit test box-model --solution ./answers  # Check a reference solution`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, g, o, chromeURL, args[0])
		},
	}
	o.register(cmd)
	cmd.Flags().StringVar(&chromeURL, "chrome-url", "", "DevTools endpoint of a running Chrome")
	return cmd
}

func runTest(cmd *cobra.Command, g *globalOptions, o *labOptions, chromeURL, name string) error {
	ctx := cmd.Context()
	absDir, err := resolveDir(o.dir)
	if err != nil {
		return err
	}
	cfg, err := g.loadConfig(absDir)
	if err != nil {
		return err
	}
	if chromeURL != "" {
		cfg.Playground.RemoteURL = chromeURL
	}

	fetcher, err := fetch.FromConfig(cfg.Labs, absDir, true, g.logger)
	if err != nil {
		return err
	}
	lab, err := fetcher.LoadLab(ctx, name)
	if err != nil {
		return err
	}

	engine := playground.NewChromeEngine(playground.ChromeOptions{
		RemoteURL:  cfg.Playground.RemoteURL,
		ExecPath:   cfg.Playground.ExecPath,
		Headless:   cfg.Playground.IsHeadless(),
		RunTimeout: cfg.Playground.GetRunTimeout(),
		Logger:     g.logger,
	})
	engine.Start(context.Background())
	defer engine.Close()

	bridge := playground.NewBridge(engine, cfg.Playground.GetReadyTimeout(), g.logger)
	defer bridge.Close()
	if err := bridge.Initialize(ctx, session.Container, lab); err != nil {
		if startErr := engine.Err(); startErr != nil {
			return fmt.Errorf("%w (browser: %v)", err, startErr)
		}
		return err
	}

	if o.solution != "" {
		code, err := readSolution(o.solution, lab)
		if err != nil {
			return err
		}
		if err := bridge.SetCode(ctx, code); err != nil {
			return err
		}
	}

	outcomes, err := bridge.RunTests(ctx)
	if err != nil {
		return err
	}
	model := results.Project(outcomes)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\n", lab.Title)
	printModel(out, model)

	if model.Failed > 0 {
		return fmt.Errorf("%d of %d tests failed", model.Failed, model.Total)
	}
	return nil
}
