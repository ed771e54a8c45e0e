package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/livetemplate/labkit/internal/fetch"
)

func newListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [directory]",
		Short: "List the labs under a served directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := resolveDir(dir)
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig(absDir)
			if err != nil {
				return err
			}
			if cfg.Labs.IsRemote() {
				return fmt.Errorf("labs are served from %s and cannot be listed", cfg.Labs.BaseURL)
			}

			labsDir := cfg.Labs.ResolveDir(absDir)
			labs, err := fetch.NewDirBackend(labsDir).List()
			if err != nil {
				return fmt.Errorf("failed to list labs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(labs) == 0 {
				fmt.Fprintf(out, "No labs found in %s\n", labsDir)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTITLE")
			for _, l := range labs {
				fmt.Fprintf(tw, "%s\t%s\n", l.Name, l.Title)
			}
			return tw.Flush()
		},
	}
}
