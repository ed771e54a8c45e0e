package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/validate"
)

func newValidateCommand(g *globalOptions) *cobra.Command {
	o := &labOptions{}
	var offline bool
	cmd := &cobra.Command{
		Use:   "validate <lab>",
		Short: "Check a lab's HTML, CSS and JavaScript",
		Long: `Validate the starter code (or --solution) of a lab. HTML and CSS go to the
configured W3C validators; JavaScript is syntax-checked locally. With
--offline only the local check runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, g, o, offline, args[0])
		},
	}
	o.register(cmd)
	cmd.Flags().BoolVar(&offline, "offline", false, "only run the local JavaScript syntax check")
	return cmd
}

func runValidate(cmd *cobra.Command, g *globalOptions, o *labOptions, offline bool, name string) error {
	ctx := cmd.Context()
	absDir, err := resolveDir(o.dir)
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
	lab, err := fetcher.LoadLab(ctx, name)
	if err != nil {
		return err
	}

	code := validate.Code{HTML: lab.StarterHTML, CSS: lab.StarterCSS, JS: lab.StarterJS}
	if o.solution != "" {
		sol, err := readSolution(o.solution, lab)
		if err != nil {
			return err
		}
		code = validate.Code{HTML: sol.Markup, CSS: sol.Style, JS: sol.Script}
	}

	var v *validate.Validator
	if offline {
		v = validate.New(nil, nil, validate.ScriptChecker{}, g.logger)
	} else {
		v, err = validate.FromConfig(cfg.Validators, g.logger)
		if err != nil {
			return err
		}
	}
	defer v.Close()

	report := v.Validate(ctx, code)
	printReport(cmd.OutOrStdout(), report, offline)

	if !report.Valid() {
		return fmt.Errorf("lab %s has validation errors", name)
	}
	return nil
}

func printReport(w io.Writer, report validate.Report, offline bool) {
	st := newStyles(w)
	sections := []struct {
		title  string
		result validate.Result
		skip   bool
	}{
		{"HTML", report.HTML, offline},
		{"CSS", report.CSS, offline},
		{"JavaScript", report.Script, false},
	}
	for _, s := range sections {
		if s.skip {
			continue
		}
		switch {
		case s.result.Err != nil:
			fmt.Fprintf(w, "%s: %s\n", st.heading.Render(s.title), labkit.UserFriendlyMessage(s.result.Err))
		case len(s.result.Messages) == 0:
			fmt.Fprintf(w, "%s: %s\n", st.heading.Render(s.title), st.pass.Render("ok"))
		default:
			fmt.Fprintf(w, "%s:\n", st.heading.Render(s.title))
			for _, m := range s.result.Messages {
				sev := st.severity(m.Severity).Render(string(m.Severity))
				if m.Line > 0 {
					fmt.Fprintf(w, "  %s line %d: %s\n", sev, m.Line, m.Text)
				} else {
					fmt.Fprintf(w, "  %s: %s\n", sev, m.Text)
				}
			}
		}
	}
}
