// Package analyzers inspects upstream CMake build files
package analyzers

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/utils"
)

// CMakeAnalyzer inspects a CMake source tree
type CMakeAnalyzer struct {
	sourceDir string
}

// NewCMakeAnalyzer creates a new CMake analyzer rooted at sourceDir
func NewCMakeAnalyzer(sourceDir string) *CMakeAnalyzer {
	return &CMakeAnalyzer{
		sourceDir: sourceDir,
	}
}

// CMakeOption is an option() declaration
type CMakeOption struct {
	Name        string
	Description string
	Default     bool
}

// CMakeTarget represents a discovered add_library/add_executable target
type CMakeTarget struct {
	Name      string
	Type      string
	Directory string
}

// CMakeProject is the result of inspecting a source tree
type CMakeProject struct {
	Name         string
	Version      string
	Options      []CMakeOption
	Targets      []CMakeTarget
	FindPackages []string
	Variables    map[string]string
}

// Option returns the declared option with the given name
func (p *CMakeProject) Option(name string) (CMakeOption, bool) {
	for _, opt := range p.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return CMakeOption{}, false
}

// AnalysisOptions configures inspection
type AnalysisOptions struct {
	RecursiveSearch bool
}

// DefaultAnalysisOptions returns default analysis options
func DefaultAnalysisOptions() *AnalysisOptions {
	return &AnalysisOptions{
		RecursiveSearch: false,
	}
}

var (
	projectRegex     = regexp.MustCompile(`^\s*project\s*\(\s*([^)\s]+)`)
	versionRegex     = regexp.MustCompile(`VERSION\s+([0-9][0-9A-Za-z.]*)`)
	optionRegex      = regexp.MustCompile(`^\s*option\s*\(\s*([A-Za-z0-9_]+)\s+"([^"]*)"\s*(ON|OFF|TRUE|FALSE)?`)
	setRegex         = regexp.MustCompile(`^\s*set\s*\(\s*([A-Za-z0-9_]+)\s+"?([^")]*)"?\s*\)`)
	findPackageRegex = regexp.MustCompile(`^\s*find_package\s*\(\s*([A-Za-z0-9_]+)`)
	ctestRegex       = regexp.MustCompile(`(?i)^\s*include\s*\(\s*CTest\s*\)`)
	targetRegex      = regexp.MustCompile(`^\s*(add_executable|add_library)\s*\(\s*([^)\s]+)(?:\s+(STATIC|SHARED|MODULE|INTERFACE|OBJECT))?`)
)

// AnalyzeProject inspects the top-level CMakeLists.txt and, when requested,
// every nested one outside build and hidden directories
func (a *CMakeAnalyzer) AnalyzeProject(options *AnalysisOptions) (*CMakeProject, error) {
	if options == nil {
		options = DefaultAnalysisOptions()
	}

	cmakeFiles, err := a.findCMakeFiles(options.RecursiveSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to find CMake files: %w", err)
	}
	if len(cmakeFiles) == 0 {
		return nil, fmt.Errorf("no CMakeLists.txt found in %s", a.sourceDir)
	}

	project := &CMakeProject{
		Variables: make(map[string]string),
	}
	for _, cmakeFile := range cmakeFiles {
		if err := a.analyzeCMakeFile(cmakeFile, project); err != nil {
			return nil, fmt.Errorf("failed to analyze %s: %w", cmakeFile, err)
		}
	}

	if project.Version == "" {
		project.Version = versionFromVariables(project)
	}
	return project, nil
}

// DetectDrift returns the definitions the upstream build no longer declares as
// options. CMAKE_* variables are built into CMake and never reported, and
// BUILD_TESTING counts as declared when the tree includes CTest.
func (a *CMakeAnalyzer) DetectDrift(project *CMakeProject, def types.BuildDefinition) []string {
	var missing []string
	for _, d := range def {
		if strings.HasPrefix(d.Name, "CMAKE_") {
			continue
		}
		if _, ok := project.Option(d.Name); !ok {
			missing = append(missing, d.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// ValidateGenerator checks a generator name against the generators the
// recipe knows how to drive
func ValidateGenerator(generator string) error {
	validGenerators := []string{
		"Unix Makefiles",
		"Ninja",
		"Xcode",
		"Visual Studio",
		"NMake Makefiles",
		"MinGW Makefiles",
	}

	for _, valid := range validGenerators {
		if strings.Contains(generator, valid) {
			return nil
		}
	}

	return fmt.Errorf("unsupported generator: %s", generator)
}

// skippedDirs are folders a recursive search never enters: build trees and
// hidden folders such as .git
var skippedDirs = utils.MustPatternMatcher("build", "build_*", "cmake-build-*", ".*")

func (a *CMakeAnalyzer) findCMakeFiles(recursive bool) ([]string, error) {
	var files []string

	if recursive {
		err := filepath.Walk(a.sourceDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if info.IsDir() && path != a.sourceDir && skippedDirs.Match(info.Name()) {
				return filepath.SkipDir
			}

			if info.Name() == "CMakeLists.txt" {
				files = append(files, path)
			}
			return nil
		})
		return files, err
	}

	cmakeFile := filepath.Join(a.sourceDir, "CMakeLists.txt")
	if _, err := os.Stat(cmakeFile); err == nil {
		files = append(files, cmakeFile)
	}

	return files, nil
}

func (a *CMakeAnalyzer) analyzeCMakeFile(path string, project *CMakeProject) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dir := filepath.Dir(path)
	relDir, _ := filepath.Rel(a.sourceDir, dir)
	topLevel := relDir == "."

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments
		if strings.HasPrefix(line, "#") {
			continue
		}

		if matches := projectRegex.FindStringSubmatch(line); len(matches) > 1 && topLevel {
			project.Name = matches[1]
			if versionMatches := versionRegex.FindStringSubmatch(line); len(versionMatches) > 1 {
				project.Version = versionMatches[1]
			}
			continue
		}

		if matches := optionRegex.FindStringSubmatch(line); len(matches) > 1 {
			def := strings.ToUpper(matches[3])
			project.Options = append(project.Options, CMakeOption{
				Name:        matches[1],
				Description: matches[2],
				Default:     def == "ON" || def == "TRUE",
			})
			continue
		}

		// CTest declares BUILD_TESTING itself
		if ctestRegex.MatchString(line) {
			if _, ok := project.Option(types.DefBuildTesting); !ok {
				project.Options = append(project.Options, CMakeOption{
					Name:        types.DefBuildTesting,
					Description: "Build the testing tree (CTest)",
					Default:     true,
				})
			}
			continue
		}

		if matches := findPackageRegex.FindStringSubmatch(line); len(matches) > 1 {
			project.FindPackages = append(project.FindPackages, matches[1])
			continue
		}

		if matches := setRegex.FindStringSubmatch(line); len(matches) > 2 {
			if _, seen := project.Variables[matches[1]]; !seen {
				project.Variables[matches[1]] = strings.TrimSpace(matches[2])
			}
			continue
		}

		if matches := targetRegex.FindStringSubmatch(line); len(matches) > 2 {
			project.Targets = append(project.Targets, CMakeTarget{
				Name:      matches[2],
				Type:      targetType(matches[1], matches[3]),
				Directory: relDir,
			})
		}
	}

	return scanner.Err()
}

func targetType(command, libType string) string {
	if strings.ToLower(command) != "add_library" {
		return "EXECUTABLE"
	}
	switch strings.ToUpper(libType) {
	case "SHARED":
		return "SHARED_LIBRARY"
	case "MODULE":
		return "MODULE_LIBRARY"
	case "INTERFACE":
		return "INTERFACE_LIBRARY"
	case "OBJECT":
		return "OBJECT_LIBRARY"
	case "STATIC":
		return "STATIC_LIBRARY"
	default:
		// BUILD_SHARED_LIBS decides at configure time
		return "LIBRARY"
	}
}

// versionFromVariables handles projects that set <NAME>_VERSION or
// <NAME>_MAJOR_VERSION style variables instead of project(VERSION)
func versionFromVariables(project *CMakeProject) string {
	prefix := strings.ToUpper(project.Name)
	if prefix == "" {
		return ""
	}
	if v := project.Variables[prefix+"_VERSION"]; v != "" && !strings.Contains(v, "${") {
		return v
	}
	major, minor, patch := project.Variables[prefix+"_MAJOR_VERSION"],
		project.Variables[prefix+"_MINOR_VERSION"], project.Variables[prefix+"_PATCH_VERSION"]
	if major == "" {
		return ""
	}
	version := major
	for _, part := range []string{minor, patch} {
		if part == "" {
			break
		}
		version += "." + part
	}
	return version
}
