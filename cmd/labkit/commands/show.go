package commands

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/livetemplate/labkit/internal/fetch"
)

func newShowCommand(g *globalOptions) *cobra.Command {
	var (
		dir   string
		style string
		width int
	)
	cmd := &cobra.Command{
		Use:   "show <lab>",
		Short: "Print a lab's description in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := resolveDir(dir)
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig(absDir)
			if err != nil {
				return err
			}
			fetcher, err := fetch.FromConfig(cfg.Labs, absDir, true, g.logger)
			if err != nil {
				return err
			}
			lab, err := fetcher.LoadLab(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			renderer, err := glamour.NewTermRenderer(
				glamour.WithStandardStyle(style),
				glamour.WithWordWrap(width),
			)
			if err != nil {
				return fmt.Errorf("failed to create renderer: %w", err)
			}
			out, err := renderer.Render(lab.Description)
			if err != nil {
				return fmt.Errorf("failed to render description: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s)\n", lab.Title, lab.Name)
			fmt.Fprint(w, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "served directory holding labkit.yaml and labs/")
	cmd.Flags().StringVar(&style, "style", "notty", "glamour style: notty, dark, light, ascii")
	cmd.Flags().IntVar(&width, "width", 80, "wrap width")
	return cmd
}
