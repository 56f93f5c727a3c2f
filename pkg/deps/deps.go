// Package deps locates the installed prerequisites a recipe requires
package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fclpkg/fclrecipe/internal/engine"
	"github.com/fclpkg/fclrecipe/pkg/logger"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

// EnvSearchPath lists prefix roots to search, separated like PATH
const EnvSearchPath = "FCLRECIPE_DEPS_PATH"

const maxConcurrentLookups = 4

// Prerequisite is the lookup result for one requirement
type Prerequisite struct {
	Requirement types.Requirement
	Found       bool
	Root        string
	IncludeDir  string
	LibDir      string
}

// Resolver searches prefix roots for installed requirements
type Resolver struct {
	SearchPaths []string
	Logger      logger.Logger
}

// NewResolver creates a resolver over paths. Empty paths fall back to the
// FCLRECIPE_DEPS_PATH environment variable.
func NewResolver(paths []string, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	if len(paths) == 0 {
		paths = filepath.SplitList(os.Getenv(EnvSearchPath))
	}
	return &Resolver{SearchPaths: paths, Logger: log}
}

// Resolve looks every requirement up concurrently. Missing prerequisites are
// reported with Found=false rather than as an error; CMake makes the final
// call when it configures.
func (r *Resolver) Resolve(ctx context.Context, reqs []types.Requirement) ([]Prerequisite, error) {
	results := make([]Prerequisite, len(reqs))
	var mu sync.Mutex

	group, gctx := engine.NewSafeGroup(ctx, r.Logger)
	group.SetLimit(maxConcurrentLookups)

	for i, req := range reqs {
		i, req := i, req
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			prereq := r.lookup(req)

			mu.Lock()
			results[i] = prereq
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("prerequisite lookup failed: %w", err)
	}

	for _, p := range results {
		if p.Found {
			r.Logger.Debug("Prerequisite found",
				logger.WithField("requirement", p.Requirement.String()),
				logger.WithField("root", p.Root))
		} else {
			r.Logger.Warn(fmt.Sprintf("Prerequisite %s not found in search paths", p.Requirement))
		}
	}
	return results, nil
}

func (r *Resolver) lookup(req types.Requirement) Prerequisite {
	prereq := Prerequisite{Requirement: req}
	for _, base := range r.SearchPaths {
		if base == "" {
			continue
		}
		candidates := []string{
			filepath.Join(base, req.Name, req.Version),
			filepath.Join(base, req.Name+"-"+req.Version),
			filepath.Join(base, req.Name),
		}
		for _, root := range candidates {
			include := filepath.Join(root, "include")
			if info, err := os.Stat(include); err == nil && info.IsDir() {
				prereq.Found = true
				prereq.Root = root
				prereq.IncludeDir = include
				prereq.LibDir = filepath.Join(root, "lib")
				return prereq
			}
		}
	}
	return prereq
}

// CacheEntries renders the CMake cache entries for found prerequisites:
// CMAKE_PREFIX_PATH plus CONAN_INCLUDE_DIRS_<NAME> and CONAN_LIB_DIRS_<NAME>,
// which the patched upstream build file reads for octomap
func CacheEntries(prereqs []Prerequisite) map[string]string {
	entries := make(map[string]string)
	var roots []string
	for _, p := range prereqs {
		if !p.Found {
			continue
		}
		roots = append(roots, filepath.ToSlash(p.Root))
		name := strings.ToUpper(p.Requirement.Name)
		entries["CONAN_INCLUDE_DIRS_"+name] = filepath.ToSlash(p.IncludeDir)
		entries["CONAN_LIB_DIRS_"+name] = filepath.ToSlash(p.LibDir)
	}
	if len(roots) > 0 {
		sort.Strings(roots)
		entries["CMAKE_PREFIX_PATH"] = strings.Join(roots, ";")
	}
	return entries
}

// Missing returns the requirements that were not found
func Missing(prereqs []Prerequisite) []types.Requirement {
	var missing []types.Requirement
	for _, p := range prereqs {
		if !p.Found {
			missing = append(missing, p.Requirement)
		}
	}
	return missing
}
