package analyzers_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fclpkg/fclrecipe/pkg/analyzers"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

const fclLists = `cmake_minimum_required(VERSION 3.10)
project(fcl CXX C)

# set the default build type
set(FCL_MAJOR_VERSION 0)
set(FCL_MINOR_VERSION 6)
set(FCL_PATCH_VERSION 0)

option(FCL_STATIC_LIBRARY "Whether the FCL library should be static rather than shared" OFF)
option(FCL_USE_X64_SSE "Whether FCL should x64 SSE instructions" ON)
option(FCL_USE_HOST_NATIVE_ARCH "Whether FCL should use cflags from the host used to compile" OFF)

find_package(Eigen3 3.0.5 QUIET CONFIG)
find_package(ccd QUIET)
find_package(octomap QUIET)
set(OCTOMAP_VERSION "${PC_OCTOMAP_VERSION}")

add_library(${PROJECT_NAME} ${FCL_SOURCE_CODE})
`

func writeLists(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create CMakeLists.txt: %v", err)
	}
}

func TestCMakeAnalyzer_AnalyzeProject_Upstream(t *testing.T) {
	tempDir := t.TempDir()
	writeLists(t, tempDir, fclLists)

	project, err := analyzers.NewCMakeAnalyzer(tempDir).AnalyzeProject(nil)
	if err != nil {
		t.Fatalf("Failed to analyze project: %v", err)
	}

	if project.Name != "fcl" {
		t.Errorf("Expected project name 'fcl', got '%s'", project.Name)
	}
	if project.Version != "0.6.0" {
		t.Errorf("Expected version '0.6.0', got '%s'", project.Version)
	}

	sse, ok := project.Option("FCL_USE_X64_SSE")
	if !ok || !sse.Default {
		t.Errorf("Expected FCL_USE_X64_SSE declared ON, got %+v (found=%v)", sse, ok)
	}
	static, ok := project.Option("FCL_STATIC_LIBRARY")
	if !ok || static.Default {
		t.Errorf("Expected FCL_STATIC_LIBRARY declared OFF, got %+v (found=%v)", static, ok)
	}

	wantPackages := []string{"Eigen3", "ccd", "octomap"}
	if !reflect.DeepEqual(project.FindPackages, wantPackages) {
		t.Errorf("Expected packages %v, got %v", wantPackages, project.FindPackages)
	}

	if got := project.Variables["OCTOMAP_VERSION"]; got != "${PC_OCTOMAP_VERSION}" {
		t.Errorf("Expected unpatched OCTOMAP_VERSION, got %q", got)
	}
	if len(project.Targets) != 1 || project.Targets[0].Type != "LIBRARY" {
		t.Errorf("Expected a single library target, got %+v", project.Targets)
	}
}

func TestCMakeAnalyzer_ProjectVersion(t *testing.T) {
	tempDir := t.TempDir()
	writeLists(t, tempDir, "project(demo VERSION 2.1.3 LANGUAGES CXX)\nadd_executable(app main.cpp)\n")

	project, err := analyzers.NewCMakeAnalyzer(tempDir).AnalyzeProject(nil)
	if err != nil {
		t.Fatalf("Failed to analyze project: %v", err)
	}
	if project.Version != "2.1.3" {
		t.Errorf("Expected version '2.1.3', got '%s'", project.Version)
	}
	if project.Targets[0].Type != "EXECUTABLE" {
		t.Errorf("Expected EXECUTABLE, got %s", project.Targets[0].Type)
	}
}

func TestCMakeAnalyzer_Recursive(t *testing.T) {
	tempDir := t.TempDir()
	writeLists(t, tempDir, "project(root)\n")
	writeLists(t, filepath.Join(tempDir, "src"), "add_library(core STATIC a.cpp)\n")
	writeLists(t, filepath.Join(tempDir, "build"), "add_library(ignored SHARED b.cpp)\n")
	writeLists(t, filepath.Join(tempDir, "build_subfolder"), "add_library(ignored2 SHARED b.cpp)\n")
	writeLists(t, filepath.Join(tempDir, ".git", "modules"), "add_library(ignored3 SHARED b.cpp)\n")

	analyzer := analyzers.NewCMakeAnalyzer(tempDir)

	flat, err := analyzer.AnalyzeProject(nil)
	if err != nil {
		t.Fatalf("Failed to analyze project: %v", err)
	}
	if len(flat.Targets) != 0 {
		t.Errorf("Expected no targets without recursion, got %+v", flat.Targets)
	}

	deep, err := analyzer.AnalyzeProject(&analyzers.AnalysisOptions{RecursiveSearch: true})
	if err != nil {
		t.Fatalf("Failed to analyze project: %v", err)
	}
	if len(deep.Targets) != 1 {
		t.Fatalf("Expected one target, got %+v", deep.Targets)
	}
	if deep.Targets[0].Name != "core" || deep.Targets[0].Directory != "src" {
		t.Errorf("Unexpected target %+v", deep.Targets[0])
	}
}

func TestCMakeAnalyzer_MissingLists(t *testing.T) {
	_, err := analyzers.NewCMakeAnalyzer(t.TempDir()).AnalyzeProject(nil)
	if err == nil {
		t.Error("Expected error for a tree without CMakeLists.txt")
	}
}

func TestCMakeAnalyzer_DetectDrift(t *testing.T) {
	tempDir := t.TempDir()
	writeLists(t, tempDir, fclLists)

	analyzer := analyzers.NewCMakeAnalyzer(tempDir)
	project, err := analyzer.AnalyzeProject(nil)
	if err != nil {
		t.Fatalf("Failed to analyze project: %v", err)
	}

	def := types.BuildDefinition{
		{Name: types.DefBuildTesting, Value: false},
		{Name: types.DefStaticLibrary, Value: true},
		{Name: types.DefPIC, Value: true},
		{Name: types.DefSSE, Value: true},
		{Name: types.DefNativeArch, Value: false},
	}

	drift := analyzer.DetectDrift(project, def)
	if !reflect.DeepEqual(drift, []string{types.DefBuildTesting}) {
		t.Errorf("Expected only BUILD_TESTING to drift, got %v", drift)
	}
}

func TestCMakeAnalyzer_DetectDrift_CTestDeclaresBuildTesting(t *testing.T) {
	tempDir := t.TempDir()
	writeLists(t, tempDir, fclLists)
	writeLists(t, filepath.Join(tempDir, "test"), "include(CTest)\nadd_executable(test_fcl_math test_fcl_math.cpp)\n")

	analyzer := analyzers.NewCMakeAnalyzer(tempDir)
	project, err := analyzer.AnalyzeProject(&analyzers.AnalysisOptions{RecursiveSearch: true})
	if err != nil {
		t.Fatalf("Failed to analyze project: %v", err)
	}

	opt, ok := project.Option(types.DefBuildTesting)
	if !ok || !opt.Default {
		t.Fatalf("Expected include(CTest) to declare BUILD_TESTING ON, got %+v (found=%v)", opt, ok)
	}

	def := types.BuildDefinition{
		{Name: types.DefBuildTesting, Value: false},
		{Name: types.DefStaticLibrary, Value: true},
	}
	if drift := analyzer.DetectDrift(project, def); len(drift) != 0 {
		t.Errorf("Expected no drift, got %v", drift)
	}
}

func TestValidateGenerator(t *testing.T) {
	tests := []struct {
		generator string
		wantErr   bool
	}{
		{"Unix Makefiles", false},
		{"Ninja", false},
		{"Visual Studio 17 2022", false},
		{"Borland Makefiles", true},
	}

	for _, tt := range tests {
		t.Run(tt.generator, func(t *testing.T) {
			err := analyzers.ValidateGenerator(tt.generator)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGenerator(%q) error = %v, wantErr %v", tt.generator, err, tt.wantErr)
			}
		})
	}
}
