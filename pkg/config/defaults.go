package config

import "github.com/fclpkg/fclrecipe/pkg/types"

// Upstream octomap lookup uses pkg-config; the packaged octomap is injected
// through CONAN_*_OCTOMAP cache entries instead
const (
	octomapLookup  = "find_package(octomap QUIET)"
	octomapInject  = "set(PC_OCTOMAP_VERSION \"1.9.0\")\nset(PC_OCTOMAP_INCLUDE_DIRS ${CONAN_INCLUDE_DIRS_OCTOMAP})\nset(PC_OCTOMAP_LIBRARY_DIRS ${CONAN_LIB_DIRS_OCTOMAP})"
	octomapVersion = "set(OCTOMAP_VERSION \"${PC_OCTOMAP_VERSION}\""
	octomapPinned  = "set(OCTOMAP_VERSION \"1.9.0\""
)

// DefaultDescriptor is the built-in FCL 0.6.0RC recipe
func DefaultDescriptor() types.Descriptor {
	return types.Descriptor{
		Schema:      2,
		Name:        "fcl",
		Version:     "0.6.0RC",
		Description: "Flexible Collision Library",
		License:     "BSD-3-Clause",
		Homepage:    "https://flexible-collision-library.github.io/",
		URL:         "https://github.com/rhololkeolke/conan-fcl",
		Author:      "Devin Schwab <dschwab@andrew.cmu.edu>",
		Topics:      []string{"simulation", "physics"},
		SourceURL:   "https://github.com/flexible-collision-library/fcl.git",
		LicenseFile: "LICENSE",
		Requires: []types.Requirement{
			{Name: "libccd", Version: "2.1", User: "rhololkeolke", Channel: "stable"},
			{Name: "octomap", Version: "1.9.0", User: "rhololkeolke", Channel: "stable"},
			{Name: "eigen", Version: "3.3.7", User: "conan", Channel: "stable"},
		},
		Patches: []types.Patch{
			{File: "CMakeLists.txt", Search: octomapLookup, Replace: octomapInject},
			{File: "CMakeLists.txt", Search: octomapVersion, Replace: octomapPinned},
		},
	}
}

// LegacyDescriptor is the schema 1 form: shared and fPIC only, unpatched sources
func LegacyDescriptor() types.Descriptor {
	d := DefaultDescriptor()
	d.Schema = 1
	d.Patches = nil
	return d
}

// DefaultRecipe wraps DefaultDescriptor with no overrides
func DefaultRecipe() *Recipe {
	return &Recipe{Descriptor: DefaultDescriptor()}
}
