// Package types provides core types and configurations for fclrecipe
package types

import (
	"fmt"
	"runtime"
	"strings"
)

// OS represents a target operating system setting
type OS string

const (
	OSLinux   OS = "Linux"
	OSMacos   OS = "Macos"
	OSWindows OS = "Windows"
	OSFreeBSD OS = "FreeBSD"
	OSAndroid OS = "Android"
	OSiOS     OS = "iOS"
)

var knownOS = []OS{OSLinux, OSMacos, OSWindows, OSFreeBSD, OSAndroid, OSiOS}

// ParseOS parses an operating system identifier case-insensitively.
// "darwin" is accepted as an alias for Macos.
func ParseOS(s string) (OS, error) {
	value := strings.TrimSpace(s)
	if strings.EqualFold(value, "darwin") {
		return OSMacos, nil
	}
	for _, os := range knownOS {
		if strings.EqualFold(string(os), value) {
			return os, nil
		}
	}
	return "", fmt.Errorf("unknown operating system: %q", s)
}

// HostOS maps the running GOOS to an OS setting
func HostOS() OS {
	switch runtime.GOOS {
	case "windows":
		return OSWindows
	case "darwin":
		return OSMacos
	case "freebsd":
		return OSFreeBSD
	case "android":
		return OSAndroid
	case "ios":
		return OSiOS
	default:
		return OSLinux
	}
}

// BuildType represents CMake build configurations
type BuildType string

const (
	BuildTypeDebug          BuildType = "Debug"
	BuildTypeRelease        BuildType = "Release"
	BuildTypeRelWithDebInfo BuildType = "RelWithDebInfo"
	BuildTypeMinSizeRel     BuildType = "MinSizeRel"
)

// Settings are the host-provided build settings, as opposed to recipe options
type Settings struct {
	OS        OS        `json:"os" yaml:"os"`
	Arch      string    `json:"arch,omitempty" yaml:"arch,omitempty"`
	Compiler  string    `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	BuildType BuildType `json:"buildType,omitempty" yaml:"buildType,omitempty"`
}

// DefaultSettings returns settings for the running host
func DefaultSettings() Settings {
	return Settings{
		OS:        HostOS(),
		Arch:      runtime.GOARCH,
		BuildType: BuildTypeRelease,
	}
}

// Stage identifies one lifecycle hook of a recipe run
type Stage string

const (
	StageOptions   Stage = "options"
	StageSource    Stage = "source"
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StagePackage   Stage = "package"
	StageLibs      Stage = "libs"
)

// Stages lists the lifecycle hooks in execution order
var Stages = []Stage{StageOptions, StageSource, StageConfigure, StageBuild, StagePackage, StageLibs}

// Index returns the position of the stage in the lifecycle, or -1
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Requirement is a pinned dependency reference: name/version@user/channel
type Requirement struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	User    string `json:"user,omitempty" yaml:"user,omitempty"`
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// ParseRequirement parses "name/version@user/channel". The "@user/channel"
// part is optional.
func ParseRequirement(ref string) (Requirement, error) {
	var req Requirement
	ref = strings.TrimSpace(ref)

	nameVersion := ref
	if at := strings.Index(ref, "@"); at >= 0 {
		nameVersion = ref[:at]
		userChannel := strings.SplitN(ref[at+1:], "/", 2)
		if len(userChannel) != 2 || userChannel[0] == "" || userChannel[1] == "" {
			return req, fmt.Errorf("invalid requirement %q: expected user/channel after '@'", ref)
		}
		req.User, req.Channel = userChannel[0], userChannel[1]
	}

	parts := strings.SplitN(nameVersion, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return req, fmt.Errorf("invalid requirement %q: expected name/version", ref)
	}
	req.Name, req.Version = parts[0], parts[1]
	return req, nil
}

// String renders the requirement in its reference form
func (r Requirement) String() string {
	if r.User == "" {
		return r.Name + "/" + r.Version
	}
	return fmt.Sprintf("%s/%s@%s/%s", r.Name, r.Version, r.User, r.Channel)
}

// Patch is a literal text replacement applied to a retrieved source file
type Patch struct {
	File    string `json:"file" yaml:"file"`
	Search  string `json:"search" yaml:"search"`
	Replace string `json:"replace" yaml:"replace"`
}

// Descriptor is the immutable identity of a recipe
type Descriptor struct {
	Schema      int           `json:"schema" yaml:"schema"`
	Name        string        `json:"name" yaml:"name"`
	Version     string        `json:"version" yaml:"version"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	License     string        `json:"license" yaml:"license"`
	Homepage    string        `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	URL         string        `json:"url,omitempty" yaml:"url,omitempty"`
	Author      string        `json:"author,omitempty" yaml:"author,omitempty"`
	Topics      []string      `json:"topics,omitempty" yaml:"topics,omitempty"`
	SourceURL   string        `json:"sourceUrl" yaml:"sourceUrl"`
	LicenseFile string        `json:"licenseFile,omitempty" yaml:"licenseFile,omitempty"`
	Requires    []Requirement `json:"requires,omitempty" yaml:"requires,omitempty"`
	Patches     []Patch       `json:"patches,omitempty" yaml:"patches,omitempty"`
}

// Reference returns name/version
func (d Descriptor) Reference() string {
	return d.Name + "/" + d.Version
}

// GetLicenseFile returns the license file name within the source tree
func (d Descriptor) GetLicenseFile() string {
	if d.LicenseFile == "" {
		return "LICENSE"
	}
	return d.LicenseFile
}

// PackageInfo is the metadata exposed to the consuming package manager
type PackageInfo struct {
	Reference   string          `json:"reference" yaml:"reference"`
	License     string          `json:"license" yaml:"license"`
	Settings    Settings        `json:"settings" yaml:"settings"`
	Options     map[string]bool `json:"options" yaml:"options"`
	Requires    []string        `json:"requires,omitempty" yaml:"requires,omitempty"`
	Libs        []string        `json:"libs" yaml:"libs"`
	IncludeDirs []string        `json:"includeDirs" yaml:"includeDirs"`
	LibDirs     []string        `json:"libDirs" yaml:"libDirs"`
	PackageDir  string          `json:"packageDir" yaml:"packageDir"`
}

// Version returns the version part of the reference ("fcl/0.6.0RC" -> "0.6.0RC")
func (p PackageInfo) Version() string {
	ref := p.Reference
	if i := strings.IndexByte(ref, '@'); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ""
}
