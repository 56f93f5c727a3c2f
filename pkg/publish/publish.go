// Package publish ships a created package to an OCI registry or a local OCI
// image layout as an artifact
package publish

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/fclpkg/fclrecipe/pkg/types"
)

// Media types of the published artifact
const (
	ArtifactType    = "application/vnd.fclrecipe.package.v1"
	ConfigMediaType = "application/vnd.fclrecipe.package.config.v1+json"
)

// AnnotationReference holds the recipe reference on the manifest
const AnnotationReference = "io.fclrecipe.package.reference"

// layerName is the directory name the package is unpacked to on pull
const layerName = "package"

var invalidTagChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Options configures a publish operation
type Options struct {
	// PackageDir is the install prefix produced by the package stage
	PackageDir string
	// Info is stored as the artifact config
	Info types.PackageInfo
	// Target is registry/repository[:tag]; the tag defaults to the recipe version
	Target string
	// PlainHTTP uses HTTP instead of HTTPS for the registry connection
	PlainHTTP bool
	// InsecureTLS skips TLS certificate verification
	InsecureTLS bool
	// Created pins the creation annotation for reproducible artifacts
	Created string
}

// Result contains the outcome of a publish
type Result struct {
	Digest    string
	Reference string
}

// Target is a parsed destination
type Target struct {
	Registry   string
	Repository string
	Tag        string
}

// String renders registry/repository:tag
func (t Target) String() string {
	return fmt.Sprintf("%s/%s:%s", t.Registry, t.Repository, t.Tag)
}

// ParseTarget parses registry/repository[:tag], filling an absent tag from
// defaultTag
func ParseTarget(target, defaultTag string) (Target, error) {
	target = strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://")
	target = strings.TrimPrefix(target, "oci://")

	named, err := reference.ParseNormalizedNamed(target)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if _, ok := named.(reference.Digested); ok {
		return Target{}, fmt.Errorf("invalid target %q: digests cannot be published to", target)
	}

	t := Target{
		Registry:   reference.Domain(named),
		Repository: reference.Path(named),
	}
	if tagged, ok := named.(reference.Tagged); ok {
		t.Tag = tagged.Tag()
	} else {
		t.Tag = SanitizeTag(defaultTag)
	}
	if t.Tag == "" {
		return Target{}, fmt.Errorf("invalid target %q: no tag", target)
	}
	return t, nil
}

// SanitizeTag maps a version string to a valid OCI tag
func SanitizeTag(version string) string {
	tag := invalidTagChars.ReplaceAllString(version, "-")
	tag = strings.TrimLeft(tag, ".-")
	if len(tag) > 128 {
		tag = tag[:128]
	}
	return tag
}

// Push publishes the package to a remote registry
func Push(ctx context.Context, opts Options) (*Result, error) {
	target, err := ParseTarget(opts.Target, opts.Info.Version())
	if err != nil {
		return nil, err
	}

	repo, err := remote.NewRepository(fmt.Sprintf("%s/%s", target.Registry, target.Repository))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize remote repository: %w", err)
	}
	repo.PlainHTTP = opts.PlainHTTP
	repo.Client = createAuthClient(opts.PlainHTTP, opts.InsecureTLS)

	return copyTo(ctx, opts, target.Tag, target.String(), repo)
}

// PushToLayout publishes the package into an OCI image layout directory
func PushToLayout(ctx context.Context, opts Options, layoutDir, tag string) (*Result, error) {
	if tag == "" {
		tag = SanitizeTag(opts.Info.Version())
	}
	if tag == "" {
		return nil, fmt.Errorf("tag is required to publish")
	}

	store, err := oci.New(layoutDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCI layout: %w", err)
	}
	return copyTo(ctx, opts, tag, layoutDir+":"+tag, store)
}

func copyTo(ctx context.Context, opts Options, tag, ref string, dst oras.Target) (*Result, error) {
	fs, cleanup, err := stage(ctx, opts, tag)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	desc, err := oras.Copy(ctx, fs, tag, dst, tag, oras.DefaultCopyOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to publish artifact: %w", err)
	}
	return &Result{Digest: desc.Digest.String(), Reference: ref}, nil
}

// stage packs the package folder and its metadata into a tagged manifest in
// a file store rooted at a scratch directory. The file store writes titled
// blobs into its working dir, so the package folder is only read.
func stage(ctx context.Context, opts Options, tag string) (*file.Store, func(), error) {
	absDir, err := filepath.Abs(opts.PackageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get absolute path for package dir: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("package folder %s does not exist; run the package stage first", absDir)
	}

	workDir, err := os.MkdirTemp("", "fclrecipe-publish-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	fs, err := file.New(workDir)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, nil, fmt.Errorf("failed to create file store: %w", err)
	}
	fs.TarReproducible = true
	cleanup := func() {
		_ = fs.Close()
		_ = os.RemoveAll(workDir)
	}

	ok := false
	defer func() {
		if !ok {
			cleanup()
		}
	}()

	layerDesc, err := fs.Add(ctx, layerName, ociv1.MediaTypeImageLayerGzip, absDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add package folder to store: %w", err)
	}

	config, err := json.Marshal(opts.Info)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode package info: %w", err)
	}
	configDesc := content.NewDescriptorFromBytes(ConfigMediaType, config)
	if err := fs.Push(ctx, configDesc, bytes.NewReader(config)); err != nil {
		return nil, nil, fmt.Errorf("failed to store package info: %w", err)
	}

	annotations := map[string]string{
		AnnotationReference:     opts.Info.Reference,
		ociv1.AnnotationVersion: opts.Info.Version(),
	}
	if opts.Info.License != "" {
		annotations[ociv1.AnnotationLicenses] = opts.Info.License
	}
	if opts.Created != "" {
		annotations[ociv1.AnnotationCreated] = opts.Created
	}

	manifestDesc, err := oras.PackManifest(ctx, fs, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers:              []ociv1.Descriptor{layerDesc},
		ConfigDescriptor:    &configDesc,
		ManifestAnnotations: annotations,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack manifest: %w", err)
	}
	if err := fs.Tag(ctx, manifestDesc, tag); err != nil {
		return nil, nil, fmt.Errorf("failed to tag manifest in local store: %w", err)
	}

	ok = true
	return fs, cleanup, nil
}

// createAuthClient creates an HTTP client with optional TLS configuration
// and Docker credential support
func createAuthClient(plainHTTP, insecureTLS bool) *auth.Client {
	credStore, _ := credentials.NewStoreFromDocker(credentials.StoreOptions{})

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !plainHTTP && insecureTLS {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec
	}

	client := &auth.Client{
		Client: &http.Client{Transport: transport},
		Cache:  auth.NewCache(),
	}
	if credStore != nil {
		client.Credential = credentials.Credential(credStore)
	}
	return client
}
