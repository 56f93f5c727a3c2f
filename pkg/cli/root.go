// Package cli provides the command-line interface for fclrecipe
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fclpkg/fclrecipe/internal/engine"
	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/runner"
)

// CLI encapsulates the command-line interface. Everything a command needs is
// reachable from it, so tests can run commands in-process.
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	logger   logger.Logger
	console  *logger.ConsoleLogger
	output   io.Writer
	errorOut io.Writer

	// runner and overrides replace the real tool runner and pipeline
	// dependencies when set
	runner    runner.Runner
	overrides engine.Dependencies
}

// Option customizes a CLI
type Option func(*CLI)

// WithOutput redirects command output
func WithOutput(output, errorOut io.Writer) Option {
	return func(c *CLI) {
		c.output = output
		c.errorOut = errorOut
	}
}

// WithRunner replaces the external tool runner
func WithRunner(r runner.Runner) Option {
	return func(c *CLI) {
		c.runner = r
	}
}

// WithDependencies overrides pipeline dependencies
func WithDependencies(deps engine.Dependencies) Option {
	return func(c *CLI) {
		c.overrides = deps
	}
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(config *Config, opts ...Option) *CLI {
	if config == nil {
		config = NewConfig()
	}

	cli := &CLI{
		config:   config,
		viper:    newViper(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(cli)
	}
	cli.console = logger.NewConsoleLogger(cli.output, cli.errorOut)
	cli.logger = logger.Nop()

	cli.setupCommands()
	return cli
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "fclrecipe",
		Short: "Package the Flexible Collision Library",
		Long: `fclrecipe retrieves, patches, configures, builds and packages FCL 0.6.0RC
for consumption by a C++ package manager.

Each stage command runs the stages before it that have not completed yet, so
"fclrecipe build" on a fresh workspace also fetches and configures the source.`,

		PersistentPreRunE: c.initializeConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	c.rootCmd.SetOut(c.output)
	c.rootCmd.SetErr(c.errorOut)

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("fclrecipe v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newOptionsCmd())
	for _, sc := range stageCommands {
		c.rootCmd.AddCommand(c.newStageCmd(sc.stage, sc.short))
	}
	c.rootCmd.AddCommand(c.newCreateCmd())
	c.rootCmd.AddCommand(c.newLibsCmd())
	c.rootCmd.AddCommand(c.newInfoCmd())
	c.rootCmd.AddCommand(c.newInspectCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newLogsCmd())
	c.rootCmd.AddCommand(c.newWaitCmd())
	c.rootCmd.AddCommand(c.newPublishCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.RecipeFile, "recipe", "", "recipe file (default: fclrecipe.yaml in --root, else the built-in recipe)")
	flags.StringVar(&c.config.ProjectRoot, "root", ".", "workspace root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.LogFile, "log-file", "", "also write logs to this file")

	flags.StringVar(&c.config.OS, "os", "", "target OS setting (Linux, Macos, Windows, ...)")
	flags.StringVar(&c.config.Arch, "arch", "", "target architecture setting")
	flags.StringVar(&c.config.Compiler, "compiler", "", "compiler setting, informational")
	flags.StringVar(&c.config.BuildType, "build-type", "", "CMake build type (Debug, Release, RelWithDebInfo, MinSizeRel)")

	flags.StringArrayVarP(&c.config.Options, "option", "o", nil, "option override name=value (repeatable)")
	flags.BoolVar(&c.config.Isolated, "isolated", false, "use a unique source/build folder for this run")
	flags.IntVarP(&c.config.Parallel, "jobs", "j", 0, "parallel compile jobs (0 lets the build tool decide)")
	flags.StringSliceVar(&c.config.DepsPaths, "deps-path", nil, "prefix roots searched for prerequisites (default: $FCLRECIPE_DEPS_PATH)")
	flags.StringVar(&c.config.MetricsFile, "metrics-file", "", "write Prometheus stage metrics to this textfile")
	flags.BoolVar(&c.config.Notify, "notify", false, "send a desktop notification when a run ends")
	flags.BoolVar(&c.config.NotifyStages, "notify-stages", false, "also notify on every stage")

	for _, name := range []string{"os", "arch", "compiler", "build-type", "metrics-file", "notify", "verbosity"} {
		_ = c.viper.BindPFlag(name, flags.Lookup(name))
	}
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.config.Verbosity = c.viper.GetString("verbosity")
	c.config.MetricsFile = c.viper.GetString("metrics-file")
	c.config.Notify = c.viper.GetBool("notify")

	if c.errorOut == os.Stderr {
		c.logger = logger.CreateLogger(c.config.LogFile, c.config.Verbosity)
	} else {
		c.logger = logger.CreateLoggerWithOutput(c.config.LogFile, c.config.Verbosity, c.errorOut)
	}
	c.logger.Debug("Configuration resolved",
		logger.WithField("root", c.config.ProjectRoot),
		logger.WithField("recipe", c.config.RecipeFile))
	return nil
}

// Helper methods for user-facing output

func (c *CLI) printSuccess(message string) {
	c.console.Success(message)
}

func (c *CLI) printError(message string) {
	c.console.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.console.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.console.Warn(message)
}

// ExecuteWithVersion runs the CLI on os.Args
func ExecuteWithVersion(version string) error {
	config := NewConfig()
	config.Version = version
	cli := NewCLI(config)
	return cli.Execute(os.Args[1:])
}
