package types

import (
	"bytes"
	"fmt"
	"sort"
)

// Option names understood by the recipe
const (
	OptionShared        = "shared"
	OptionFPIC          = "fPIC"
	OptionUseSSE        = "use_sse"
	OptionUseNativeArch = "use_native_arch"
)

// OptionDecl declares one boolean option, its default and where it applies
type OptionDecl struct {
	Name       string
	Default    bool
	ExcludedOn []OS
	// MinSchema is the first recipe schema that declares the option
	MinSchema int
}

// AppliesTo reports whether the option exists on the given platform
func (d OptionDecl) AppliesTo(os OS) bool {
	for _, excluded := range d.ExcludedOn {
		if excluded == os {
			return false
		}
	}
	return true
}

// DeclaredOptions is the option surface of the recipe in declaration order
var DeclaredOptions = []OptionDecl{
	{Name: OptionShared, Default: false, MinSchema: 1},
	{Name: OptionFPIC, Default: true, ExcludedOn: []OS{OSWindows}, MinSchema: 1},
	{Name: OptionUseSSE, Default: true, MinSchema: 2},
	{Name: OptionUseNativeArch, Default: false, MinSchema: 2},
}

// LookupOption returns the declaration for name
func LookupOption(name string) (OptionDecl, bool) {
	for _, decl := range DeclaredOptions {
		if decl.Name == name {
			return decl, true
		}
	}
	return OptionDecl{}, false
}

// OptionSet holds resolved option values. Optional options are nil when the
// platform or the recipe schema does not have them, so a removed option can
// never be read as "false".
type OptionSet struct {
	Shared        bool  `json:"shared" yaml:"shared"`
	FPIC          *bool `json:"fPIC,omitempty" yaml:"fPIC,omitempty"`
	UseSSE        *bool `json:"use_sse,omitempty" yaml:"use_sse,omitempty"`
	UseNativeArch *bool `json:"use_native_arch,omitempty" yaml:"use_native_arch,omitempty"`
}

// DefaultOptionSet returns the declared defaults for a recipe schema
func DefaultOptionSet(schema int) OptionSet {
	var set OptionSet
	for _, decl := range DeclaredOptions {
		if decl.MinSchema > schema {
			continue
		}
		set.slot(decl.Name, true)
		_ = set.Set(decl.Name, decl.Default)
	}
	return set
}

// RemoveInapplicable drops every option that does not exist on os.
// Calling it repeatedly with the same os has no further effect.
func (o *OptionSet) RemoveInapplicable(os OS) {
	for _, decl := range DeclaredOptions {
		if !decl.AppliesTo(os) {
			o.slot(decl.Name, false)
		}
	}
}

// Has reports whether the option is present
func (o OptionSet) Has(name string) bool {
	_, ok := o.Get(name)
	return ok
}

// Get returns the option value and whether the option is present
func (o OptionSet) Get(name string) (bool, bool) {
	switch name {
	case OptionShared:
		return o.Shared, true
	case OptionFPIC:
		return deref(o.FPIC)
	case OptionUseSSE:
		return deref(o.UseSSE)
	case OptionUseNativeArch:
		return deref(o.UseNativeArch)
	}
	return false, false
}

// Set assigns a value to a present option
func (o *OptionSet) Set(name string, value bool) error {
	if _, declared := LookupOption(name); !declared {
		return fmt.Errorf("unknown option: %s", name)
	}
	if name == OptionShared {
		o.Shared = value
		return nil
	}
	ptr := o.field(name)
	if *ptr == nil {
		return fmt.Errorf("option %s is not available for this configuration", name)
	}
	v := value
	*ptr = &v
	return nil
}

// Names returns the present options in declaration order
func (o OptionSet) Names() []string {
	var names []string
	for _, decl := range DeclaredOptions {
		if o.Has(decl.Name) {
			names = append(names, decl.Name)
		}
	}
	return names
}

// Values returns the present options as a map
func (o OptionSet) Values() map[string]bool {
	values := make(map[string]bool)
	for _, name := range o.Names() {
		v, _ := o.Get(name)
		values[name] = v
	}
	return values
}

// Clone returns a deep copy
func (o OptionSet) Clone() OptionSet {
	clone := OptionSet{Shared: o.Shared}
	clone.FPIC = copyBool(o.FPIC)
	clone.UseSSE = copyBool(o.UseSSE)
	clone.UseNativeArch = copyBool(o.UseNativeArch)
	return clone
}

func (o *OptionSet) field(name string) **bool {
	switch name {
	case OptionFPIC:
		return &o.FPIC
	case OptionUseSSE:
		return &o.UseSSE
	case OptionUseNativeArch:
		return &o.UseNativeArch
	}
	return nil
}

// slot makes an optional option present (with false) or removes it
func (o *OptionSet) slot(name string, present bool) {
	ptr := o.field(name)
	if ptr == nil {
		return
	}
	if !present {
		*ptr = nil
		return
	}
	if *ptr == nil {
		v := false
		*ptr = &v
	}
}

func deref(b *bool) (bool, bool) {
	if b == nil {
		return false, false
	}
	return *b, true
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// CMake cache variables written by the recipe
const (
	DefBuildTesting  = "BUILD_TESTING"
	DefStaticLibrary = "FCL_STATIC_LIBRARY"
	DefPIC           = "CMAKE_POSITION_INDEPENDENT_CODE"
	DefSSE           = "FCL_USE_X64_SSE"
	DefNativeArch    = "FCL_USE_HOST_NATIVE_ARCH"
)

// Definition is one build-system variable
type Definition struct {
	Name  string `json:"name" yaml:"name"`
	Value bool   `json:"value" yaml:"value"`
}

// BuildDefinition is the ordered set of variables for one configure call
type BuildDefinition []Definition

// Get returns the value of a variable and whether it is defined
func (d BuildDefinition) Get(name string) (bool, bool) {
	for _, def := range d {
		if def.Name == name {
			return def.Value, true
		}
	}
	return false, false
}

// Has reports whether the variable is defined
func (d BuildDefinition) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// Args renders the definitions as CMake -D arguments
func (d BuildDefinition) Args() []string {
	args := make([]string, 0, len(d))
	for _, def := range d {
		args = append(args, fmt.Sprintf("-D%s=%s", def.Name, onOff(def.Value)))
	}
	return args
}

// Bytes returns a canonical encoding, sorted by variable name
func (d BuildDefinition) Bytes() []byte {
	sorted := append(BuildDefinition{}, d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, def := range sorted {
		fmt.Fprintf(&buf, "%s=%s\n", def.Name, onOff(def.Value))
	}
	return buf.Bytes()
}

// Equal compares two definitions independent of order
func (d BuildDefinition) Equal(other BuildDefinition) bool {
	return bytes.Equal(d.Bytes(), other.Bytes())
}

// Map returns the definitions keyed by name
func (d BuildDefinition) Map() map[string]bool {
	m := make(map[string]bool, len(d))
	for _, def := range d {
		m[def.Name] = def.Value
	}
	return m
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
