package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/federate/pkg/observability"
)

// SeedEntry is one bootstrap SAML connection from the seed file
type SeedEntry struct {
	Tenant         string   `yaml:"tenant"`
	Product        string   `yaml:"product"`
	IdPEntityID    string   `yaml:"idp_entity_id"`
	IdPSSOURL      string   `yaml:"idp_sso_url"`
	IdPSLOURL      string   `yaml:"idp_slo_url"`
	SLOBinding     string   `yaml:"slo_binding"`
	IdPCertificate string   `yaml:"idp_certificate"`
	Audience       string   `yaml:"audience"`
	ACSURL         string   `yaml:"acs_url"`
	RedirectURIs   []string `yaml:"redirect_uris"`
}

// SeedFile is the YAML document of bootstrap SAML connections
type SeedFile struct {
	Configs []SeedEntry `yaml:"configs"`
}

// LoadSeedFile parses a YAML seed file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, entry := range seed.Configs {
		if entry.Tenant == "" || entry.Product == "" {
			return nil, fmt.Errorf("seed entry %d is missing tenant or product", i)
		}
	}

	return &seed, nil
}

// WatchSeedFile watches the seed file and invokes onChange with the freshly
// parsed content whenever it is rewritten. Blocks until the context is
// cancelled. The parent directory is watched because editors and k8s
// configmap mounts replace the file rather than writing it in place.
func WatchSeedFile(ctx context.Context, path string, logger *observability.Logger, onChange func(*SeedFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	var debounce *time.Timer
	reload := func() {
		seed, err := LoadSeedFile(path)
		if err != nil {
			logger.WithError(err).Warn("seed file changed but could not be reloaded")
			return
		}
		logger.WithField("configs", len(seed.Configs)).Info("reloaded seed file")
		onChange(seed)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: writers often emit several events per save.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("seed file watcher error")
		}
	}
}
