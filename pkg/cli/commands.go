package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fclpkg/fclrecipe/pkg/analyzers"
	"github.com/fclpkg/fclrecipe/pkg/config"
	"github.com/fclpkg/fclrecipe/pkg/recipe"
	"github.com/fclpkg/fclrecipe/pkg/state"
	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/validation"
	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

var stageCommands = []struct {
	stage types.Stage
	short string
}{
	{types.StageSource, "Retrieve and patch the upstream source"},
	{types.StageConfigure, "Configure the CMake build tree"},
	{types.StageBuild, "Compile the library"},
	{types.StagePackage, "Install headers, libraries and the license into the package folder"},
}

func (c *CLI) newStageCmd(stage types.Stage, short string) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   string(stage),
		Short: short,
		Long: fmt.Sprintf(`%s.

Stages before %s that have not completed in this workspace run first.`, short, stage),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStage(cmd, stage, fresh)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore progress recorded by earlier runs")
	return cmd
}

func (c *CLI) newCreateCmd() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Run every stage and create the package",
		Long: `Run options, source, configure, build, package and libs in order.

Stages completed by an earlier run with the same settings and options are
skipped. The run stops at the first failing stage; nothing is rolled back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStage(cmd, types.StageLibs, fresh)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore progress recorded by earlier runs")
	return cmd
}

func (c *CLI) runStage(cmd *cobra.Command, last types.Stage, fresh bool) error {
	s, err := c.newSession()
	if err != nil {
		return err
	}

	c.printInfo(fmt.Sprintf("%s for %s (%s, %s)",
		s.recipe.Descriptor.Reference(), s.settings.OS, s.settings.Arch, s.settings.BuildType))

	result, err := c.runThrough(cmd.Context(), s, last, fresh)
	if err != nil {
		c.describeFailure(err)
		return err
	}

	for _, sr := range result.report.Stages {
		if sr.Skipped {
			c.printInfo(fmt.Sprintf("%-9s skipped (already completed)", sr.Stage))
		}
	}
	if last == types.StageLibs {
		c.printLibs(result.libs)
	}
	c.printSuccess(fmt.Sprintf("%s finished in %s", last, result.report.Duration.Round(time.Millisecond)))
	return nil
}

func (c *CLI) newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "Show the effective options and the CMake definitions they produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession()
			if err != nil {
				return err
			}

			opts := s.controller.Options()
			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPTION\tVALUE")
			for _, name := range opts.Names() {
				value, _ := opts.Get(name)
				fmt.Fprintf(w, "%s\t%s\n", name, pythonBool(value))
			}
			w.Flush()

			fmt.Fprintln(c.output)
			for _, arg := range s.controller.ResolveBuildDefinition().Args() {
				fmt.Fprintln(c.output, arg)
			}
			return nil
		},
	}
}

func (c *CLI) newLibsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "libs",
		Short: "List the library files in the package folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := workspace.New(c.config.ProjectRoot)
			if err != nil {
				return err
			}
			c.printLibs(recipe.CollectLibraries(layout.PackageDir()))
			return nil
		},
	}
}

func (c *CLI) printLibs(libs []string) {
	if len(libs) == 0 {
		c.printWarning("No libraries in the package folder")
		return
	}
	for _, lib := range libs {
		fmt.Fprintln(c.output, lib)
	}
}

func (c *CLI) newInfoCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the package metadata for consumers",
		Long: `Print the package reference, license, settings, options, requirements,
library link names and include/lib folders as YAML or JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession()
			if err != nil {
				return err
			}
			return c.writeStructured(s.controller.Info(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")
	return cmd
}

func (c *CLI) writeStructured(value interface{}, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(c.output)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml", "yml":
		enc := yaml.NewEncoder(c.output)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(value)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func (c *CLI) newInspectCmd() *cobra.Command {
	var sourceDir string
	var recursive bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect the upstream CMake project",
		Long: `Read the retrieved CMakeLists.txt and report the project version, declared
options, find_package calls and any definition the recipe sets that upstream
no longer declares.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession()
			if err != nil {
				return err
			}
			if sourceDir == "" {
				sourceDir = s.layout.SourceDir()
			}

			analyzer := analyzers.NewCMakeAnalyzer(sourceDir)
			opts := analyzers.DefaultAnalysisOptions()
			opts.RecursiveSearch = recursive
			project, err := analyzer.AnalyzeProject(opts)
			if err != nil {
				return fmt.Errorf("failed to inspect %s (run the source stage first): %w", sourceDir, err)
			}

			fmt.Fprintf(c.output, "Project: %s\n", project.Name)
			fmt.Fprintf(c.output, "Version: %s\n", project.Version)
			if len(project.FindPackages) > 0 {
				fmt.Fprintf(c.output, "Packages: %s\n", strings.Join(project.FindPackages, ", "))
			}

			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nOPTION\tDEFAULT\tDESCRIPTION")
			for _, opt := range project.Options {
				fmt.Fprintf(w, "%s\t%s\t%s\n", opt.Name, onOff(opt.Default), opt.Description)
			}
			w.Flush()

			if drift := analyzer.DetectDrift(project, s.controller.ResolveBuildDefinition()); len(drift) > 0 {
				c.printWarning(fmt.Sprintf("Upstream does not declare: %s", strings.Join(drift, ", ")))
			}
			if project.Version != "" && !strings.HasPrefix(s.recipe.Descriptor.Version, project.Version) {
				c.printWarning(fmt.Sprintf("Upstream version %s differs from recipe version %s",
					project.Version, s.recipe.Descriptor.Version))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceDir, "source", "", "source folder to inspect (default: the workspace checkout)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "include CMakeLists.txt files in subfolders")
	return cmd
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the recipe and option overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) runValidate() error {
	r, err := c.readRecipeUnvalidated()
	if err != nil {
		c.printError(fmt.Sprintf("Recipe is invalid: %v", err))
		return err
	}
	settings, err := resolveSettings(c.viper, r.Settings)
	if err != nil {
		return err
	}
	overrides, err := resolveOptions(c.viper, r.Options, c.config.Options)
	if err != nil {
		return err
	}

	var errs, warnings []validation.ValidationError
	for _, result := range []*validation.ValidationResult{
		validation.ValidateDescriptor(r.Descriptor),
		validation.ValidateOptions(overrides, r.Descriptor.Schema, settings.OS),
	} {
		for _, finding := range result.Errors {
			if finding.Level == validation.ValidationLevelError {
				errs = append(errs, finding)
			}
		}
		warnings = append(warnings, result.Warnings()...)
	}

	source := "built-in recipe"
	if r.Path != "" {
		source = r.Path
	}

	if len(errs) > 0 {
		c.printError(fmt.Sprintf("%s has errors:", source))
		for _, e := range errs {
			fmt.Fprintf(c.output, "  ✗ %s: %s\n", e.Field, e.Message)
		}
	}
	if len(warnings) > 0 {
		c.printWarning(fmt.Sprintf("%s warnings:", source))
		for _, w := range warnings {
			fmt.Fprintf(c.output, "  ⚠ %s: %s\n", w.Field, w.Message)
		}
	}

	if len(errs) == 0 {
		c.printSuccess(fmt.Sprintf("%s is valid (schema %d, %s)", source, r.Descriptor.Schema, r.Descriptor.Reference()))
		return nil
	}
	return fmt.Errorf("recipe has %d error(s)", len(errs))
}

// readRecipeUnvalidated decodes the recipe file without rejecting it, so
// every finding can be listed
func (c *CLI) readRecipeUnvalidated() (*config.Recipe, error) {
	path := c.config.RecipeFile
	if path == "" {
		path = config.NewManager().FindRecipe(c.config.ProjectRoot)
	}
	if path == "" {
		return config.DefaultRecipe(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}
	file, err := config.Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	r, err := file.Recipe()
	if err != nil {
		return nil, err
	}
	r.Path = path
	return r, nil
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded progress for this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) runStatus() error {
	layout, err := workspace.New(c.config.ProjectRoot)
	if err != nil {
		return err
	}
	sm := state.NewStateManager(layout.StateDir(), c.logger)

	states, err := sm.DiscoverStates()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}
	if len(states) == 0 {
		c.printInfo("No runs recorded in this workspace")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTATUS\tLAST STAGE\tCOMPLETED\tRUNS\tFAILURES")
	fmt.Fprintln(w, "---\t------\t----------\t---------\t----\t--------")

	for _, key := range sortedKeys(states) {
		st := states[key]

		status := string(st.Status)
		statusColor := color.WhiteString(status)
		switch st.Status {
		case state.RunStatusSucceeded:
			statusColor = color.GreenString(status)
		case state.RunStatusFailed:
			statusColor = color.RedString(status)
		case state.RunStatusRunning:
			statusColor = color.YellowString(status)
		}

		lastStage := "-"
		if st.LastStage != "" {
			lastStage = string(st.LastStage)
		}

		completed := make([]string, 0, len(st.Completed))
		for _, stage := range st.Completed {
			completed = append(completed, string(stage))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			key,
			statusColor,
			lastStage,
			strings.Join(completed, ","),
			st.RunCount,
			st.FailureCount,
		)
	}
	w.Flush()

	for _, key := range sortedKeys(states) {
		if msg := states[key].LastError; msg != "" {
			c.printWarning(fmt.Sprintf("%s: %s", key, firstLine(msg)))
		}
	}
	return nil
}

func (c *CLI) newCleanCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove source and build folders and recorded progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := workspace.New(c.config.ProjectRoot)
			if err != nil {
				return err
			}

			sm := state.NewStateManager(layout.StateDir(), c.logger)
			states, err := sm.DiscoverStates()
			if err != nil {
				return err
			}
			for key := range states {
				locked, err := sm.IsLocked(key)
				if err != nil {
					return err
				}
				if locked {
					return fmt.Errorf("%w: %s", recipe.ErrWorkspaceLocked, key)
				}
			}

			if err := layout.Clean(all); err != nil {
				return err
			}
			if err := os.RemoveAll(layout.StateDir()); err != nil {
				return fmt.Errorf("failed to remove state directory: %w", err)
			}
			if err := os.RemoveAll(filepath.Join(layout.Root, workspace.MetaDirName, "runs")); err != nil {
				return fmt.Errorf("failed to remove isolated runs: %w", err)
			}

			if all {
				c.printSuccess("Removed work folders, package folder and state")
			} else {
				c.printSuccess("Removed work folders and state")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also remove the package folder")
	return cmd
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fclrecipe",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "fclrecipe v%s\n", c.config.Version)
		},
	}
}

func sortedKeys(states map[string]*state.RunState) []string {
	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func pythonBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
