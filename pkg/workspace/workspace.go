// Package workspace lays out the folders a recipe run works in
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Folder names below the workspace root
const (
	MetaDirName    = ".fclrecipe"
	SourceDirName  = "source_subfolder"
	BuildDirName   = "build_subfolder"
	PackageDirName = "package"
	LicensesDir    = "licenses"
)

// Layout resolves every folder used by the lifecycle stages
type Layout struct {
	Root string
	// RunID is set for isolated layouts
	RunID string

	workDir string
}

// New creates a layout whose source and build folders live directly under root
func New(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Layout{Root: abs, workDir: abs}, nil
}

// Isolated creates a layout whose source and build folders live under a
// unique directory, so concurrent runs against one root never share them.
// The package folder and metadata stay shared.
func Isolated(root string) (*Layout, error) {
	layout, err := New(root)
	if err != nil {
		return nil, err
	}
	layout.RunID = uuid.NewString()
	layout.workDir = filepath.Join(layout.Root, MetaDirName, "runs", layout.RunID)
	return layout, nil
}

// SourceDir is where upstream sources are checked out
func (l *Layout) SourceDir() string {
	return filepath.Join(l.workDir, SourceDirName)
}

// BuildDir is the out-of-source CMake build tree
func (l *Layout) BuildDir() string {
	return filepath.Join(l.workDir, BuildDirName)
}

// PackageDir is the install prefix and the artifact root
func (l *Layout) PackageDir() string {
	return filepath.Join(l.Root, PackageDirName)
}

// LicensesDir is where license files are copied inside the package
func (l *Layout) LicensesDir() string {
	return filepath.Join(l.PackageDir(), LicensesDir)
}

// StateDir holds lifecycle state files
func (l *Layout) StateDir() string {
	return filepath.Join(l.Root, MetaDirName, "state")
}

// LogDir holds per-stage tool logs
func (l *Layout) LogDir() string {
	if l.RunID != "" {
		return filepath.Join(l.workDir, "logs")
	}
	return filepath.Join(l.Root, MetaDirName, "logs")
}

// Ensure creates the metadata folders
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.StateDir(), l.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Clean removes the work folders. The package folder is removed only when
// includePackage is set.
func (l *Layout) Clean(includePackage bool) error {
	targets := []string{l.SourceDir(), l.BuildDir(), l.LogDir()}
	if l.RunID != "" {
		targets = []string{l.workDir}
	}
	if includePackage {
		targets = append(targets, l.PackageDir())
	}
	for _, dir := range targets {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	return nil
}
