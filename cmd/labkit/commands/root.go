// Package commands implements the labkit CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livetemplate/labkit/internal/config"
)

// globalOptions holds the persistent flags and the logger built from them.
type globalOptions struct {
	configPath string
	debug      bool
	logger     *zap.Logger
}

// NewRootCommand builds the labkit command tree.
func NewRootCommand(version string) *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "labkit",
		Short: "Serve browser coding labs and run their test suites",
		Long: `labkit serves browser coding exercises ("labs"). Each lab is a directory
holding a description, starter HTML/CSS/JS and a DOM assertion suite.
Learner code runs in a headless browser; results stream back to the page.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dev, _ := cmd.Flags().GetBool("dev")
			logger, err := newLogger(g.debug, dev)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default: <dir>/labkit.yaml)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(g),
		newTestCommand(g),
		newValidateCommand(g),
		newNewCommand(g),
		newListCommand(g),
		newShowCommand(g),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "labkit version %s\n", version)
			},
		},
	)
	return root
}

// newLogger builds a production logger, or a development one for dev mode.
func newLogger(debug, dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// resolveDir returns the absolute path of an existing directory.
func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	return abs, nil
}

// loadConfig reads --config, or labkit.yaml in dir.
func (g *globalOptions) loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
