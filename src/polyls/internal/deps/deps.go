// Package deps resolves per-platform language server binaries, downloading
// and extracting release archives on first use.
package deps

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/polyls/polyls/src/polyls/entity"
	"github.com/polyls/polyls/src/polyls/internal/fs"
	"github.com/polyls/polyls/src/polyls/internal/lsperr"
)

const (
	_configKeyResourcesDir = "dependencies.resourcesDir"
	_configKeyTimeout      = "dependencies.downloadTimeout"
	_configKeyManifest     = "dependencies.manifest"

	_defaultTimeout = 60 * time.Second
	_cacheSubdir    = "polyls/servers"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Resolver yields an executable path for a binding's language server,
// installing it when absent. Resolution is idempotent: once the binary
// exists, repeated calls touch neither the network nor the archive.
type Resolver interface {
	Resolve(ctx context.Context, binding entity.Binding) (string, error)
}

// Params define values used to build a Resolver.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
	FS     fs.FS
}

type resolver struct {
	resourcesDir string
	manifestPath string
	platformID   string
	client       *http.Client
	fs           fs.FS
	logger       *zap.SugaredLogger
}

// New creates a Resolver from configuration. The download timeout and
// resources directory are configurable; the manifest path is optional and
// overrides binding-declared descriptors when set.
func New(p Params) (Resolver, error) {
	var resourcesDir string
	if err := p.Config.Get(_configKeyResourcesDir).Populate(&resourcesDir); err != nil {
		return nil, fmt.Errorf("reading config %q: %w", _configKeyResourcesDir, err)
	}
	if resourcesDir == "" {
		cacheDir, err := p.FS.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("locating cache dir: %w", err)
		}
		resourcesDir = filepath.Join(cacheDir, _cacheSubdir)
	}

	timeout := _defaultTimeout
	var timeoutValue string
	p.Config.Get(_configKeyTimeout).Populate(&timeoutValue)
	if timeoutValue != "" {
		d, err := time.ParseDuration(timeoutValue)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", _configKeyTimeout, timeoutValue, err)
		}
		timeout = d
	}

	var manifestPath string
	p.Config.Get(_configKeyManifest).Populate(&manifestPath)

	platform, err := PlatformID()
	if err != nil {
		return nil, err
	}

	return &resolver{
		resourcesDir: resourcesDir,
		manifestPath: manifestPath,
		platformID:   platform,
		client:       &http.Client{Timeout: timeout},
		fs:           p.FS,
		logger:       p.Logger,
	}, nil
}

// PlatformID computes the descriptor platform identifier for the host.
func PlatformID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		switch runtime.GOARCH {
		case "amd64":
			return "linux-x64", nil
		case "arm64":
			return "linux-arm64", nil
		}
	case "darwin":
		switch runtime.GOARCH {
		case "amd64":
			return "osx-x64", nil
		case "arm64":
			return "osx-arm64", nil
		}
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "win-x64", nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", lsperr.ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
}

// Resolve returns the path to the binding's server executable,
// downloading and extracting the platform artifact on first use.
func (r *resolver) Resolve(ctx context.Context, binding entity.Binding) (string, error) {
	descriptors, err := r.descriptorsFor(binding)
	if err != nil {
		return "", err
	}

	desc, err := selectDescriptor(descriptors, r.platformID)
	if err != nil {
		return "", err
	}

	installDir := filepath.Join(r.resourcesDir, binding.LanguageID())
	binaryPath := filepath.Join(installDir, desc.BinaryName)

	exists, err := r.fs.FileExists(binaryPath)
	if err != nil {
		return "", fmt.Errorf("checking %q: %w", binaryPath, err)
	}
	if exists {
		return binaryPath, nil
	}

	r.logger.Infow("installing language server dependency",
		"id", desc.ID, "url", desc.URL, "dir", installDir)
	if err := r.install(ctx, desc, installDir); err != nil {
		return "", err
	}

	exists, err = r.fs.FileExists(binaryPath)
	if err != nil {
		return "", fmt.Errorf("checking %q: %w", binaryPath, err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %q not present after extracting %s", lsperr.ErrDependencyInstall, desc.BinaryName, desc.URL)
	}

	if err := r.fs.Chmod(binaryPath, 0755); err != nil {
		return "", fmt.Errorf("%w: marking %q executable: %v", lsperr.ErrDependencyInstall, binaryPath, err)
	}
	return binaryPath, nil
}

func (r *resolver) install(ctx context.Context, desc entity.DependencyDescriptor, installDir string) error {
	if err := r.fs.MkdirAll(installDir); err != nil {
		return fmt.Errorf("%w: creating %q: %v", lsperr.ErrDependencyInstall, installDir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: building request for %s: %v", lsperr.ErrDependencyInstall, desc.URL, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: downloading %s: %v", lsperr.ErrDependencyInstall, desc.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: downloading %s: status %d", lsperr.ErrDependencyInstall, desc.URL, resp.StatusCode)
	}

	switch desc.ArchiveType {
	case entity.ArchiveGztar:
		err = r.extractGztar(resp.Body, installDir)
	case entity.ArchiveZip:
		err = r.extractZip(resp.Body, installDir)
	default:
		err = fmt.Errorf("unknown archive type %q", desc.ArchiveType)
	}
	if err != nil {
		return fmt.Errorf("%w: extracting %s: %v", lsperr.ErrDependencyInstall, desc.URL, err)
	}
	return nil
}

// descriptorsFor returns the manifest's descriptors for the binding's
// language when a manifest is configured, else the binding's own.
func (r *resolver) descriptorsFor(binding entity.Binding) ([]entity.DependencyDescriptor, error) {
	if r.manifestPath == "" {
		return binding.Dependencies(), nil
	}

	data, err := r.fs.ReadFile(r.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading dependency manifest %q: %w", r.manifestPath, err)
	}

	var manifest map[string][]entity.DependencyDescriptor
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing dependency manifest %q: %w", r.manifestPath, err)
	}

	if descriptors, ok := manifest[binding.LanguageID()]; ok {
		return descriptors, nil
	}
	return binding.Dependencies(), nil
}

func selectDescriptor(descriptors []entity.DependencyDescriptor, platformID string) (entity.DependencyDescriptor, error) {
	for _, d := range descriptors {
		if d.PlatformID == platformID {
			return d, nil
		}
	}
	return entity.DependencyDescriptor{}, fmt.Errorf("%w: no descriptor for %q", lsperr.ErrUnsupportedPlatform, platformID)
}
