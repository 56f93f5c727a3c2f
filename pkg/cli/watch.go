package cli

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/fclpkg/fclrecipe/internal/engine"
	"github.com/fclpkg/fclrecipe/pkg/config"
	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/process"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var through string
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the recipe whenever the recipe file changes",
		Long: `Run the recipe once, then watch the recipe file and run again after every
edit. Edits made while a run is in progress are queued into a single follow-up
run. Changing an option repeats configure and everything after it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			last := types.Stage(through)
			if last.Index() < 0 {
				return fmt.Errorf("unknown stage: %s", through)
			}
			return c.runWatch(cmd.Context(), last, debounce)
		},
	}

	cmd.Flags().StringVar(&through, "through", string(types.StageLibs), "last stage to run on every change")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "how long edits must settle before a run")
	return cmd
}

func (c *CLI) runWatch(ctx context.Context, last types.Stage, debounce time.Duration) error {
	path := c.recipePath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch needs a recipe file, create one with 'fclrecipe init': %w", err)
	}
	c.config.RecipeFile = path

	initial, err := c.loadRecipe()
	if err != nil {
		return fmt.Errorf("failed to load recipe: %w", err)
	}

	var mu sync.Mutex
	current := initial

	queue := engine.NewRunQueue(func(ctx context.Context, req engine.RunRequest) error {
		mu.Lock()
		r := current
		mu.Unlock()

		c.printInfo(fmt.Sprintf("Running %s (%s)", r.Descriptor.Reference(), req.Reason))
		s, err := c.newSessionFor(r)
		if err != nil {
			return err
		}
		_, err = c.runThrough(ctx, s, last, false)
		return err
	}, c.logger)

	pm := process.NewManager(c.logger)
	ctx = pm.Start(ctx)
	defer pm.Stop()

	reloader := config.NewReloadManager(path, c.logger)
	reloader.SetDebouncePeriod(debounce)
	reloader.AddCallback(func(r *config.Recipe, err error) {
		if err != nil {
			c.printError(fmt.Sprintf("Recipe not reloaded: %v", err))
			return
		}
		mu.Lock()
		current = r
		mu.Unlock()
		if !queue.Trigger("recipe changed") {
			c.logger.Debug("Change merged into the pending run")
		}
	})

	queue.Start(ctx)
	defer queue.Stop()

	if err := reloader.StartWatching(ctx); err != nil {
		return err
	}
	defer func() {
		if err := reloader.StopWatching(); err != nil {
			c.logger.Warn("Failed to stop watcher", logger.WithField("error", err))
		}
	}()

	queue.Trigger("initial run")
	c.printInfo(fmt.Sprintf("Watching %s (Ctrl+C to stop)", path))

	for {
		select {
		case <-ctx.Done():
			c.printInfo("Shutting down gracefully...")
			return nil
		case err := <-queue.Results():
			if err != nil {
				c.describeFailure(err)
				continue
			}
			c.printSuccess(fmt.Sprintf("%s is up to date", last))
		}
	}
}
