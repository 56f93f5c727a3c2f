package recipe

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/utils"
)

// Package folders scanned for libraries, relative to the package root
var libDirs = []string{"lib", "lib64"}

// CollectLibraryList returns the library file names found in the package
// folder, sorted. It never fails; an empty list means nothing was installed.
func (c *Controller) CollectLibraryList() []string {
	files := CollectLibraries(c.layout.PackageDir())
	c.markDone(types.StageLibs)
	return files
}

// CollectLibraries scans the lib folders below packageDir for static and
// shared library files
func CollectLibraries(packageDir string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, dir := range libDirs {
		entries, err := os.ReadDir(filepath.Join(packageDir, dir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsLibraryFile(entry.Name()) || seen[entry.Name()] {
				continue
			}
			seen[entry.Name()] = true
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files
}

// libraryFiles matches static archives, import libraries and shared objects,
// including versioned ones such as libfcl.so.0.6
var libraryFiles = utils.MustPatternMatcher("*.a", "*.lib", "*.so", "*.so.*", "*.dylib")

// IsLibraryFile reports whether name looks like a static or shared library
func IsLibraryFile(name string) bool {
	return libraryFiles.Match(name)
}

// IsStaticLibrary reports whether name is a static archive
func IsStaticLibrary(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".a" || ext == ".lib"
}

// LinkNames converts library file names to the names a consumer links
// against: libfcl.a, libfcl.so.0.6 and fcl.lib all become fcl
func LinkNames(files []string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, file := range files {
		name := file
		if i := strings.Index(name, ".so"); i > 0 && (len(name) == i+3 || name[i+3] == '.') {
			name = name[:i]
		} else {
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if filepath.Ext(file) != ".lib" {
			name = strings.TrimPrefix(name, "lib")
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the metadata handed to the consuming package manager
func (c *Controller) Info() types.PackageInfo {
	var requires []string
	for _, req := range c.descriptor.Requires {
		requires = append(requires, req.String())
	}

	return types.PackageInfo{
		Reference:   c.descriptor.Reference(),
		License:     c.descriptor.License,
		Settings:    c.settings,
		Options:     c.Options().Values(),
		Requires:    requires,
		Libs:        LinkNames(CollectLibraries(c.layout.PackageDir())),
		IncludeDirs: []string{"include"},
		LibDirs:     []string{"lib"},
		PackageDir:  c.layout.PackageDir(),
	}
}
