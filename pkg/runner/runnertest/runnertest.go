// Package runnertest provides a scripted runner.Runner that imitates git and
// cmake on the local filesystem, so recipe stages can be exercised without the
// real tools.
package runnertest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fclpkg/fclrecipe/pkg/runner"
)

// Operation keys accepted by FailOn
const (
	OpClone     = "git clone"
	OpDescribe  = "git describe"
	OpRevParse  = "git rev-parse"
	OpConfigure = "cmake configure"
	OpBuild     = "cmake build"
	OpInstall   = "cmake install"
)

// UpstreamCMakeLists is a trimmed upstream build file containing the lines the
// octomap patches target
const UpstreamCMakeLists = `cmake_minimum_required(VERSION 3.10)
project(fcl CXX C)
set(FCL_VERSION 0.6.0)

option(FCL_STATIC_LIBRARY "Whether the FCL library should be static rather than shared" OFF)
option(FCL_USE_X64_SSE "Whether FCL should x64 SSE instructions" ON)
option(FCL_USE_HOST_NATIVE_ARCH "Whether FCL should use cflags from the host used to compile" OFF)
option(BUILD_TESTING "Build tests" ON)

find_package(ccd REQUIRED)
find_package(octomap QUIET)
set(OCTOMAP_VERSION "${PC_OCTOMAP_VERSION}")

add_library(fcl ${FCL_SOURCE_CODE})
`

// Runner records every command and fakes its side effects
type Runner struct {
	mu sync.Mutex

	// Calls lists the commands in execution order
	Calls []runner.Command
	// Upstream maps relative paths to file contents written by a clone
	Upstream map[string]string
	// FailOn makes an operation exit non-zero with FailOutput
	FailOn     map[string]bool
	FailOutput string
	// SkipInstallLibs makes install produce headers only
	SkipInstallLibs bool
	// Branches lists refs that clone as branches instead of tags
	Branches map[string]bool
}

// New creates a runner whose clones produce a minimal FCL source tree
func New() *Runner {
	return &Runner{
		Upstream: map[string]string{
			"CMakeLists.txt":    UpstreamCMakeLists,
			"LICENSE":           "Software License Agreement (BSD License)\n",
			"include/fcl/fcl.h": "#pragma once\n",
		},
		FailOn:     make(map[string]bool),
		FailOutput: "simulated failure",
		Branches:   make(map[string]bool),
	}
}

// Fail marks an operation as failing
func (r *Runner) Fail(op string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailOn[op] = true
	return r
}

// Ops returns the operation key of every recorded call
func (r *Runner) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		ops = append(ops, operation(c))
	}
	return ops
}

// Run implements runner.Runner
func (r *Runner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return &runner.Result{ExitCode: -1}, err
	}

	r.mu.Lock()
	r.Calls = append(r.Calls, cmd)
	op := operation(cmd)
	failing := r.FailOn[op]
	r.mu.Unlock()

	if failing {
		return &runner.Result{Output: []byte(r.FailOutput), ExitCode: 1},
			fmt.Errorf("%s failed: exit status 1", cmd.Name)
	}

	var out string
	var err error
	switch op {
	case OpClone:
		out, err = r.clone(cmd)
	case OpDescribe:
		out, err = r.describe(cmd)
	case OpRevParse:
		out, err = r.revParse(cmd)
	case OpConfigure:
		out, err = r.configure(cmd)
	case OpBuild:
		out, err = r.build(cmd)
	case OpInstall:
		out, err = r.install(cmd)
	default:
		err = fmt.Errorf("runnertest: unsupported command %s", cmd)
	}

	if err != nil {
		return &runner.Result{Output: []byte(err.Error()), ExitCode: 1}, fmt.Errorf("%s failed: %w", cmd.Name, err)
	}
	return &runner.Result{Output: []byte(out)}, nil
}

func operation(cmd runner.Command) string {
	switch cmd.Name {
	case "git":
		for _, a := range cmd.Args {
			if a == "clone" || a == "describe" || a == "rev-parse" {
				return "git " + a
			}
		}
	case "cmake":
		for _, a := range cmd.Args {
			switch a {
			case "--build":
				return OpBuild
			case "--install":
				return OpInstall
			}
		}
		return OpConfigure
	}
	return cmd.Name
}

func (r *Runner) clone(cmd runner.Command) (string, error) {
	if len(cmd.Args) < 2 {
		return "", fmt.Errorf("clone: missing arguments")
	}
	dest := cmd.Args[len(cmd.Args)-1]
	if !filepath.IsAbs(dest) && cmd.Dir != "" {
		dest = filepath.Join(cmd.Dir, dest)
	}
	ref := argAfter(cmd.Args, "--branch")

	if err := os.MkdirAll(filepath.Join(dest, ".git"), 0755); err != nil {
		return "", err
	}
	refFile := "FAKE_REF"
	r.mu.Lock()
	if r.Branches[ref] {
		refFile = "FAKE_BRANCH"
	}
	r.mu.Unlock()
	if err := os.WriteFile(filepath.Join(dest, ".git", refFile), []byte(ref), 0644); err != nil {
		return "", err
	}
	for rel, content := range r.Upstream {
		path := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Cloning into '%s'...\n", dest), nil
}

func (r *Runner) describe(cmd runner.Command) (string, error) {
	dir := argAfter(cmd.Args, "-C")
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", fmt.Errorf("fatal: not a git repository")
	}
	data, err := os.ReadFile(filepath.Join(dir, ".git", "FAKE_REF"))
	if err != nil {
		return "", fmt.Errorf("fatal: no tag exactly matches HEAD")
	}
	return string(data) + "\n", nil
}

func (r *Runner) revParse(cmd runner.Command) (string, error) {
	dir := argAfter(cmd.Args, "-C")
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", fmt.Errorf("fatal: not a git repository")
	}
	data, err := os.ReadFile(filepath.Join(dir, ".git", "FAKE_BRANCH"))
	if err != nil {
		return "HEAD\n", nil
	}
	return string(data) + "\n", nil
}

func (r *Runner) configure(cmd runner.Command) (string, error) {
	src := argAfter(cmd.Args, "-S")
	build := argAfter(cmd.Args, "-B")
	if _, err := os.Stat(filepath.Join(src, "CMakeLists.txt")); err != nil {
		return "", fmt.Errorf("CMake Error: The source directory %q does not appear to contain CMakeLists.txt", src)
	}
	if err := os.MkdirAll(build, 0755); err != nil {
		return "", err
	}

	var cache strings.Builder
	for _, a := range cmd.Args {
		if !strings.HasPrefix(a, "-D") {
			continue
		}
		entry := strings.TrimPrefix(a, "-D")
		name, value, _ := strings.Cut(entry, "=")
		if typed := strings.Index(name, ":"); typed >= 0 {
			name = name[:typed]
		}
		fmt.Fprintf(&cache, "%s=%s\n", name, value)
	}
	if err := os.WriteFile(filepath.Join(build, "CMakeCache.txt"), []byte(cache.String()), 0644); err != nil {
		return "", err
	}
	return "-- Configuring done\n-- Generating done\n", nil
}

func (r *Runner) build(cmd runner.Command) (string, error) {
	build := argAfter(cmd.Args, "--build")
	cache, err := readCache(build)
	if err != nil {
		return "", err
	}
	name := libraryName(cache)
	if err := os.WriteFile(filepath.Join(build, name), []byte("fake object code"), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("[100%%] Built target fcl (%s)\n", name), nil
}

func (r *Runner) install(cmd runner.Command) (string, error) {
	build := argAfter(cmd.Args, "--install")
	cache, err := readCache(build)
	if err != nil {
		return "", err
	}
	prefix := argAfter(cmd.Args, "--prefix")
	if prefix == "" {
		prefix = cache["CMAKE_INSTALL_PREFIX"]
	}
	if prefix == "" {
		return "", fmt.Errorf("install prefix not set")
	}

	files := map[string]string{
		"include/fcl/fcl.h":              "#pragma once\n",
		"lib/cmake/fcl/fcl-config.cmake": "# fcl config\n",
	}
	if !r.SkipInstallLibs {
		built := filepath.Join(build, libraryName(cache))
		if _, err := os.Stat(built); err != nil {
			return "", fmt.Errorf("file INSTALL cannot find %q", built)
		}
		files["lib/"+libraryName(cache)] = "fake object code"
	}
	for rel, content := range files {
		path := filepath.Join(prefix, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("-- Install configuration: %q\n", cache["CMAKE_BUILD_TYPE"]), nil
}

func libraryName(cache map[string]string) string {
	if cache["FCL_STATIC_LIBRARY"] == "ON" {
		return "libfcl.a"
	}
	return "libfcl.so"
}

func readCache(build string) (map[string]string, error) {
	file, err := os.Open(filepath.Join(build, "CMakeCache.txt"))
	if err != nil {
		return nil, fmt.Errorf("Error: %s is not a CMake build directory", build)
	}
	defer file.Close()

	cache := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), "=")
		if ok {
			cache[name] = value
		}
	}
	return cache, scanner.Err()
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
