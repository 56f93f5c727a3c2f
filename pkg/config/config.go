// Package config loads recipe files and provides the built-in FCL recipe
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/types"
	"github.com/fclpkg/fclrecipe/pkg/validation"
	"gopkg.in/yaml.v3"
)

// RecipeFileNames are searched in order when no recipe path is given
var RecipeFileNames = []string{"fclrecipe.yaml", "fclrecipe.yml", "fclrecipe.json"}

// RecipeFile is the on-disk recipe format
type RecipeFile struct {
	Schema      int             `json:"schema" yaml:"schema"`
	Name        string          `json:"name" yaml:"name"`
	Version     string          `json:"version" yaml:"version"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	License     string          `json:"license,omitempty" yaml:"license,omitempty"`
	Homepage    string          `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	URL         string          `json:"url,omitempty" yaml:"url,omitempty"`
	Author      string          `json:"author,omitempty" yaml:"author,omitempty"`
	Topics      []string        `json:"topics,omitempty" yaml:"topics,omitempty"`
	SourceURL   string          `json:"sourceUrl" yaml:"sourceUrl"`
	LicenseFile string          `json:"licenseFile,omitempty" yaml:"licenseFile,omitempty"`
	Requires    []string        `json:"requires,omitempty" yaml:"requires,omitempty"`
	Patches     []types.Patch   `json:"patches,omitempty" yaml:"patches,omitempty"`
	Options     map[string]bool `json:"options,omitempty" yaml:"options,omitempty"`
	Settings    *types.Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Recipe is a loaded and validated recipe
type Recipe struct {
	Descriptor types.Descriptor
	// Options overrides the declared defaults
	Options map[string]bool
	// Settings fields left empty fall back to the host
	Settings types.Settings
	// Path is empty for the built-in recipe
	Path string
}

// Manager handles recipe loading
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindRecipe returns the first recipe file in dir, or "" when there is none
func (m *Manager) FindRecipe(dir string) string {
	for _, name := range RecipeFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Load loads path, or the recipe file found in dir, or the built-in recipe
func (m *Manager) Load(path, dir string) (*Recipe, error) {
	if path == "" {
		path = m.FindRecipe(dir)
	}
	if path == "" {
		return DefaultRecipe(), nil
	}
	return m.LoadRecipe(path)
}

// LoadRecipe loads a recipe from a JSON or YAML file
func (m *Manager) LoadRecipe(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}

	file, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	recipe, err := file.Recipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	recipe.Path = path

	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recipe, nil
}

// Parse decodes recipe file content. JSON is tried first for .json files,
// YAML otherwise.
func Parse(data []byte, ext string) (*RecipeFile, error) {
	var file RecipeFile

	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &file); err == nil {
			return &file, nil
		}
	}

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse recipe as JSON or YAML: %w", err)
	}
	return &file, nil
}

// Recipe converts the file form into a Recipe
func (f *RecipeFile) Recipe() (*Recipe, error) {
	schema := f.Schema
	if schema == 0 {
		schema = 2
	}

	d := types.Descriptor{
		Schema:      schema,
		Name:        f.Name,
		Version:     f.Version,
		Description: f.Description,
		License:     f.License,
		Homepage:    f.Homepage,
		URL:         f.URL,
		Author:      f.Author,
		Topics:      f.Topics,
		SourceURL:   f.SourceURL,
		LicenseFile: f.LicenseFile,
		Patches:     f.Patches,
	}
	for _, ref := range f.Requires {
		req, err := types.ParseRequirement(ref)
		if err != nil {
			return nil, err
		}
		d.Requires = append(d.Requires, req)
	}

	recipe := &Recipe{Descriptor: d, Options: f.Options}
	if f.Settings != nil {
		recipe.Settings = *f.Settings
		if recipe.Settings.OS != "" {
			target, err := types.ParseOS(string(recipe.Settings.OS))
			if err != nil {
				return nil, err
			}
			recipe.Settings.OS = target
		}
	}
	return recipe, nil
}

// File converts a Recipe back into its on-disk form
func (r *Recipe) File() *RecipeFile {
	d := r.Descriptor
	file := &RecipeFile{
		Schema:      d.Schema,
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		License:     d.License,
		Homepage:    d.Homepage,
		URL:         d.URL,
		Author:      d.Author,
		Topics:      d.Topics,
		SourceURL:   d.SourceURL,
		LicenseFile: d.LicenseFile,
		Patches:     d.Patches,
		Options:     r.Options,
	}
	for _, req := range d.Requires {
		file.Requires = append(file.Requires, req.String())
	}
	if r.Settings != (types.Settings{}) {
		settings := r.Settings
		file.Settings = &settings
	}
	return file
}

// Validate checks the descriptor and the option overrides
func (r *Recipe) Validate() error {
	if err := validation.ValidateDescriptor(r.Descriptor).Err(); err != nil {
		return err
	}
	return validation.ValidateOptions(r.Options, r.Descriptor.Schema, "").Err()
}

// WriteRecipe writes r as YAML (or JSON for a .json path)
func (m *Manager) WriteRecipe(path string, r *Recipe) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(r.File(), "", "  ")
	} else {
		data, err = yaml.Marshal(r.File())
	}
	if err != nil {
		return fmt.Errorf("failed to encode recipe: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write recipe file: %w", err)
	}
	return nil
}
