package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fclpkg/fclrecipe/pkg/state"
	"github.com/fclpkg/fclrecipe/pkg/workspace"
)

// statusAny waits only for the workspace to be released
const statusAny = "any"

func (c *CLI) newWaitCmd() *cobra.Command {
	var timeout time.Duration
	var status string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a run in another process to finish",
		Long: `Wait until the run recorded for this recipe and OS is no longer held by
another process and has reached the requested status. Useful in CI to
sequence a consumer after a concurrent "fclrecipe create".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWait(cmd.Context(), status, timeout, pollInterval)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Minute, "give up after this long (0 waits forever)")
	cmd.Flags().StringVarP(&status, "status", "s", string(state.RunStatusSucceeded), "status to wait for (succeeded, failed, any)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "polling interval")
	return cmd
}

// WaitResult is the outcome of waiting for a run
type WaitResult struct {
	Key      string
	Status   state.RunStatus
	Duration time.Duration
	TimedOut bool
}

func (c *CLI) runWait(ctx context.Context, status string, timeout, pollInterval time.Duration) error {
	switch status {
	case string(state.RunStatusSucceeded), string(state.RunStatusFailed), statusAny:
	default:
		return fmt.Errorf("invalid status %q, valid statuses: succeeded, failed, any", status)
	}

	s, err := c.newSession()
	if err != nil {
		return err
	}
	layout, err := workspace.New(c.config.ProjectRoot)
	if err != nil {
		return err
	}
	sm := state.NewStateManager(layout.StateDir(), c.logger)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.printInfo(fmt.Sprintf("Waiting for %s to reach status '%s'", s.key, status))
	result, err := waitForRun(ctx, sm, s.key, state.RunStatus(status), pollInterval)
	if err != nil {
		return err
	}

	if result.TimedOut {
		return fmt.Errorf("timed out after %s (last status: %s)", result.Duration.Round(time.Second), result.Status)
	}
	if status != statusAny && result.Status != state.RunStatus(status) {
		return fmt.Errorf("run finished with status %s", result.Status)
	}
	c.printSuccess(fmt.Sprintf("%s is %s", result.Key, result.Status))
	return nil
}

// waitForRun polls the state of key until no other live process holds it
// and a run has been recorded. A run left "running" by a dead process ends
// the wait too.
func waitForRun(ctx context.Context, sm *state.StateManager, key string, want state.RunStatus, pollInterval time.Duration) (*WaitResult, error) {
	startTime := time.Now()
	result := &WaitResult{Key: key}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		current, err := sm.ReadState(key)
		switch {
		case os.IsNotExist(err):
			result.Status = state.RunStatusIdle
		case err != nil:
			return nil, err
		default:
			result.Status = current.Status
		}

		locked, err := sm.IsLocked(key)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if !locked && (result.Status != state.RunStatusIdle || want == statusAny) {
			result.Duration = time.Since(startTime)
			return result, nil
		}

		select {
		case <-ctx.Done():
			result.TimedOut = true
			result.Duration = time.Since(startTime)
			return result, nil
		case <-ticker.C:
		}
	}
}
