// Package validation checks recipe descriptors before a run starts
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
)

// ValidationError is one finding about a recipe field
type ValidationError struct {
	Field   string
	Message string
	Level   ValidationLevel
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Level, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds a finding; error-level findings invalidate the result
func (r *ValidationResult) AddError(field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Err folds the error-level findings into one error, or returns nil
func (r *ValidationResult) Err() error {
	var msgs []string
	for _, e := range r.Errors {
		if e.Level == ValidationLevelError {
			msgs = append(msgs, e.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid recipe: %s", strings.Join(msgs, "; "))
}

// Warnings returns the warning-level findings
func (r *ValidationResult) Warnings() []ValidationError {
	var warnings []ValidationError
	for _, e := range r.Errors {
		if e.Level == ValidationLevelWarning {
			warnings = append(warnings, e)
		}
	}
	return warnings
}

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_.+-]*$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+-]*$`)
	spdxPattern    = regexp.MustCompile(`^[A-Za-z0-9.+-]+(\s+(AND|OR|WITH)\s+[A-Za-z0-9.+-]+)*$`)
)

// SupportedSchemas lists the recipe schema versions understood
var SupportedSchemas = []int{1, 2}

// ValidateDescriptor checks a recipe descriptor
func ValidateDescriptor(d types.Descriptor) *ValidationResult {
	result := &ValidationResult{Valid: true}

	validateIdentity(d, result)
	validateSource(d, result)
	validateRequirements(d, result)
	validatePatches(d, result)

	return result
}

func validateIdentity(d types.Descriptor, result *ValidationResult) {
	supported := false
	for _, s := range SupportedSchemas {
		if d.Schema == s {
			supported = true
		}
	}
	if !supported {
		result.AddError("schema", fmt.Sprintf("unsupported schema %d", d.Schema), ValidationLevelError)
	}

	if d.Name == "" {
		result.AddError("name", "name is required", ValidationLevelError)
	} else if !namePattern.MatchString(d.Name) {
		result.AddError("name", "name must be lowercase without spaces", ValidationLevelError)
	}

	if d.Version == "" {
		result.AddError("version", "version is required", ValidationLevelError)
	} else if !versionPattern.MatchString(d.Version) {
		result.AddError("version", "version must be usable as a tag name", ValidationLevelError)
	}

	if d.License == "" {
		result.AddError("license", "license is not declared", ValidationLevelWarning)
	} else if !spdxPattern.MatchString(d.License) {
		result.AddError("license", fmt.Sprintf("%q is not an SPDX expression", d.License), ValidationLevelWarning)
	}

	for _, field := range []struct{ name, value string }{
		{"homepage", d.Homepage},
		{"url", d.URL},
	} {
		if field.value == "" {
			continue
		}
		if u, err := url.Parse(field.value); err != nil || u.Scheme == "" {
			result.AddError(field.name, "must be an absolute URL", ValidationLevelWarning)
		}
	}
}

func validateSource(d types.Descriptor, result *ValidationResult) {
	if d.SourceURL == "" {
		result.AddError("sourceUrl", "source repository is required", ValidationLevelError)
		return
	}
	if strings.HasPrefix(d.SourceURL, "git@") {
		return
	}
	u, err := url.Parse(d.SourceURL)
	if err != nil || u.Scheme == "" {
		result.AddError("sourceUrl", "must be an absolute URL or scp-style git address", ValidationLevelError)
	}
}

func validateRequirements(d types.Descriptor, result *ValidationResult) {
	seen := make(map[string]bool)
	for i, req := range d.Requires {
		field := fmt.Sprintf("requires[%d]", i)
		if req.Name == "" || req.Version == "" {
			result.AddError(field, "name and version are required", ValidationLevelError)
			continue
		}
		if (req.User == "") != (req.Channel == "") {
			result.AddError(field, "user and channel must be given together", ValidationLevelError)
		}
		if seen[req.Name] {
			result.AddError(field, fmt.Sprintf("duplicate requirement %s", req.Name), ValidationLevelError)
		}
		seen[req.Name] = true
	}
}

func validatePatches(d types.Descriptor, result *ValidationResult) {
	if d.Schema == 1 && len(d.Patches) > 0 {
		result.AddError("patches", "schema 1 recipes do not patch sources", ValidationLevelError)
	}
	for i, p := range d.Patches {
		field := fmt.Sprintf("patches[%d]", i)
		if p.File == "" {
			result.AddError(field, "file is required", ValidationLevelError)
		} else if strings.HasPrefix(p.File, "/") || strings.Contains(p.File, "..") {
			result.AddError(field, "file must be relative to the source folder", ValidationLevelError)
		}
		if p.Search == "" {
			result.AddError(field, "search text is required", ValidationLevelError)
		}
		if p.Search == p.Replace {
			result.AddError(field, "replacement equals search text", ValidationLevelWarning)
		}
	}
}

// ValidateOptions checks option overrides against the declared options for a
// schema and target platform
func ValidateOptions(values map[string]bool, schema int, os types.OS) *ValidationResult {
	result := &ValidationResult{Valid: true}
	for name := range values {
		decl, ok := types.LookupOption(name)
		field := "options." + name
		switch {
		case !ok:
			result.AddError(field, "unknown option", ValidationLevelError)
		case decl.MinSchema > schema:
			result.AddError(field, fmt.Sprintf("not available before schema %d", decl.MinSchema), ValidationLevelError)
		case os != "" && !decl.AppliesTo(os):
			result.AddError(field, fmt.Sprintf("does not exist on %s", os), ValidationLevelError)
		}
	}
	return result
}
