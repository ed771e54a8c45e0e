package commands

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/livetemplate/labkit/internal/security"
)

//go:embed all:templates
var templatesFS embed.FS

// validTemplates lists all available lab templates
var validTemplates = []string{
	"basic",
	"dom-events",
}

// templateDescriptions provides help text for each template
var templateDescriptions = map[string]string{
	"basic":      "Markup and styling exercise checked with computed styles",
	"dom-events": "JavaScript exercise wiring a button to update the page",
}

func newNewCommand(g *globalOptions) *cobra.Command {
	var (
		templateName string
		showList     bool
		dir          string
	)
	cmd := &cobra.Command{
		Use:   "new <lab-name>",
		Short: "Create a new lab from a template",
		Example: `  labkit new box-model                        # Create labs/box-model
  labkit new click-counter --template=dom-events
  labkit new --list                           # List available templates`,
		Args: func(cmd *cobra.Command, args []string) error {
			if showList {
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("lab name required\n\nUsage: labkit new [options] <lab-name>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if showList {
				fmt.Fprintln(out, "Available templates:")
				fmt.Fprintln(out)
				for _, t := range validTemplates {
					fmt.Fprintf(out, "  %-12s %s\n", t, templateDescriptions[t])
				}
				return nil
			}

			labsDir := dir
			if labsDir == "" {
				absDir, err := resolveDir(".")
				if err != nil {
					return err
				}
				cfg, err := g.loadConfig(absDir)
				if err != nil {
					return err
				}
				labsDir = cfg.Labs.ResolveDir(absDir)
			}

			if err := createLab(labsDir, args[0], templateName); err != nil {
				return err
			}
			printSuccessMessage(cmd, labsDir, args[0], templateName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&templateName, "template", "t", "basic", "template type: "+strings.Join(validTemplates, ", "))
	cmd.Flags().BoolVar(&showList, "list", false, "list available templates")
	cmd.Flags().StringVar(&dir, "labs-dir", "", "directory to create the lab in (default: labs.dir from labkit.yaml)")
	return cmd
}

// isValidTemplate checks if a template name is valid
func isValidTemplate(name string) bool {
	for _, t := range validTemplates {
		if t == name {
			return true
		}
	}
	return false
}

// createLab writes a lab bundle from a template into labsDir/name.
func createLab(labsDir, name, templateName string) error {
	if !isValidTemplate(templateName) {
		return fmt.Errorf("unknown template: %s\n\nAvailable templates: %s", templateName, strings.Join(validTemplates, ", "))
	}
	if !security.ValidLabName(name) {
		return fmt.Errorf("invalid lab name %q: use letters, digits, '-' and '_'", name)
	}

	labDir := filepath.Join(labsDir, name)
	if _, err := os.Stat(labDir); !os.IsNotExist(err) {
		return fmt.Errorf("lab '%s' already exists in %s", name, labsDir)
	}

	data := map[string]string{
		"Title":        toTitle(name),
		"LabName":      name,
		"TemplateName": templateName,
	}

	templateDir := "templates/" + templateName
	var files []string
	err := fs.WalkDir(templatesFS, templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("template '%s' has no files", templateName)
	}

	if err := os.MkdirAll(labDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	for _, path := range files {
		if err := processTemplateFile(labDir, templateDir, path, data); err != nil {
			os.RemoveAll(labDir)
			return err
		}
	}
	return nil
}

// processTemplateFile renders one template file into labDir.
func processTemplateFile(labDir, templateDir, templatePath string, data map[string]string) error {
	content, err := templatesFS.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}

	outputPath := filepath.Join(labDir, strings.TrimPrefix(templatePath, templateDir+"/"))

	// [[.Var]] delimiters keep {{ }} free for lab content.
	tmpl, err := template.New(filepath.Base(templatePath)).Delims("[[", "]]").Parse(string(content))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", templatePath, err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", outputPath, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write template %s: %w", templatePath, err)
	}
	return nil
}

func printSuccessMessage(cmd *cobra.Command, labsDir, name, templateName string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✨ Created lab %s from the '%s' template\n\n", name, templateName)
	fmt.Fprintf(out, "   %s\n\n", filepath.Join(labsDir, name))
	fmt.Fprintf(out, "🚀 Next steps:\n")
	fmt.Fprintf(out, "   labkit test %s       # run the suite against the starter code\n", name)
	fmt.Fprintf(out, "   labkit serve\n")
	fmt.Fprintf(out, "   open http://localhost:8080/?lab=%s\n", name)
}

// toTitle converts a lab name to a title case string
// Example: "box-model" -> "Box Model"
func toTitle(name string) string {
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")

	words := strings.Fields(name)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}
