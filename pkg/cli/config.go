package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// EnvPrefix prefixes every environment override (FCLRECIPE_OS, FCLRECIPE_OPTIONS_SHARED, ...)
const EnvPrefix = "FCLRECIPE"

// Config holds all CLI configuration
type Config struct {
	RecipeFile  string
	ProjectRoot string
	Verbosity   string
	LogFile     string
	Version     string

	// Settings; empty values fall back to the recipe file, then the host
	OS        string
	Arch      string
	Compiler  string
	BuildType string

	// Options holds name=value overrides
	Options      []string
	Isolated     bool
	Parallel     int
	DepsPaths    []string
	MetricsFile  string
	Notify       bool
	NotifyStages bool
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "info",
	}
}

// newViper creates a viper instance reading FCLRECIPE_* variables.
// Nested keys map "." to "_" so options.shared reads FCLRECIPE_OPTIONS_SHARED.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// resolveSettings layers flags and environment over the recipe's settings,
// and the recipe's settings over the host defaults
func resolveSettings(v *viper.Viper, fromRecipe types.Settings) (types.Settings, error) {
	settings := types.DefaultSettings()

	if fromRecipe.OS != "" {
		settings.OS = fromRecipe.OS
	}
	if fromRecipe.Arch != "" {
		settings.Arch = fromRecipe.Arch
	}
	if fromRecipe.Compiler != "" {
		settings.Compiler = fromRecipe.Compiler
	}
	if fromRecipe.BuildType != "" {
		settings.BuildType = fromRecipe.BuildType
	}

	if s := v.GetString("os"); s != "" {
		target, err := types.ParseOS(s)
		if err != nil {
			return types.Settings{}, err
		}
		settings.OS = target
	}
	if s := v.GetString("arch"); s != "" {
		settings.Arch = s
	}
	if s := v.GetString("compiler"); s != "" {
		settings.Compiler = s
	}
	if s := v.GetString("build-type"); s != "" {
		buildType, err := parseBuildType(s)
		if err != nil {
			return types.Settings{}, err
		}
		settings.BuildType = buildType
	}
	return settings, nil
}

func parseBuildType(s string) (types.BuildType, error) {
	for _, bt := range []types.BuildType{
		types.BuildTypeDebug,
		types.BuildTypeRelease,
		types.BuildTypeRelWithDebInfo,
		types.BuildTypeMinSizeRel,
	} {
		if strings.EqualFold(s, string(bt)) {
			return bt, nil
		}
	}
	return "", fmt.Errorf("unknown build type: %s", s)
}

// resolveOptions merges option overrides. Later sources win: the recipe
// file, then FCLRECIPE_OPTIONS_<NAME>, then -o name=value flags.
func resolveOptions(v *viper.Viper, fromRecipe map[string]bool, flags []string) (map[string]bool, error) {
	merged := make(map[string]bool, len(fromRecipe))
	for name, value := range fromRecipe {
		merged[name] = value
	}

	for _, decl := range types.DeclaredOptions {
		key := "options." + decl.Name
		if !v.IsSet(key) {
			continue
		}
		value, err := strconv.ParseBool(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err)
		}
		merged[decl.Name] = value
	}

	parsed, err := parseOptionFlags(flags)
	if err != nil {
		return nil, err
	}
	for name, value := range parsed {
		merged[name] = value
	}
	return merged, nil
}

// parseOptionFlags parses name=value pairs; values use strconv.ParseBool
// spelling (True, false, 1, ...)
func parseOptionFlags(flags []string) (map[string]bool, error) {
	parsed := make(map[string]bool, len(flags))
	for _, flag := range flags {
		name, raw, ok := strings.Cut(flag, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid option %q: expected name=value", flag)
		}
		value, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid value for option %s: %q", name, raw)
		}
		parsed[name] = value
	}
	return parsed, nil
}

func sortedNames(values map[string]bool) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
