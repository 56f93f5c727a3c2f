// Package scm retrieves upstream sources
package scm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/runner"
	"github.com/fclpkg/fclrecipe/pkg/utils"
)

// ErrDestinationNotEmpty is returned when the clone target already holds
// something other than a checkout of the requested ref
var ErrDestinationNotEmpty = errors.New("destination is not empty")

// Git clones repositories with the git command line client
type Git struct {
	Program string
	Runner  runner.Runner
	Logger  logger.Logger
}

// NewGit creates a git client that runs through r
func NewGit(r runner.Runner, log logger.Logger) *Git {
	if log == nil {
		log = logger.Nop()
	}
	return &Git{Program: "git", Runner: r, Logger: log}
}

// CloneResult describes a completed or reused checkout
type CloneResult struct {
	Dir    string
	Ref    string
	Reused bool
	Output []byte
}

// Clone performs a shallow clone of url at ref (a tag or branch) into dir.
// An existing checkout of the same ref is reused.
func (g *Git) Clone(ctx context.Context, url, ref, dir string) (*CloneResult, error) {
	if url == "" || ref == "" {
		return nil, fmt.Errorf("clone requires a url and a ref")
	}

	empty, err := utils.IsEmptyDir(dir)
	if err != nil {
		return nil, err
	}
	if !empty {
		if g.IsCheckoutOf(ctx, dir, ref) {
			g.Logger.Info("Reusing existing checkout", logger.WithField("dir", dir), logger.WithField("ref", ref))
			return &CloneResult{Dir: dir, Ref: ref, Reused: true}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotEmpty, dir)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := runner.Command{
		Name:    g.Program,
		Args:    []string{"clone", "--depth", "1", "--branch", ref, url, dir},
		LogName: "source",
		Env:     map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	}
	g.Logger.Info("Cloning", logger.WithField("url", url), logger.WithField("ref", ref))

	result, err := g.Runner.Run(ctx, cmd)
	if err != nil {
		var output []byte
		if result != nil {
			output = result.Output
		}
		return &CloneResult{Dir: dir, Ref: ref, Output: output}, err
	}
	return &CloneResult{Dir: dir, Ref: ref, Output: result.Output}, nil
}

// IsCheckoutOf reports whether dir holds a checkout of ref, either as the
// tag HEAD is exactly on or as the branch HEAD points to
func (g *Git) IsCheckoutOf(ctx context.Context, dir, ref string) bool {
	if tag, err := g.output(ctx, dir, "describe", "--tags", "--exact-match"); err == nil && tag == ref {
		return true
	}
	branch, err := g.output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	return err == nil && branch != "HEAD" && branch == ref
}

func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	result, err := g.Runner.Run(ctx, runner.Command{
		Name: g.Program,
		Args: append([]string{"-C", dir}, args...),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(result.Output)), nil
}
