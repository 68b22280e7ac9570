// Package manifest loads the precache manifest produced by the build.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the ordered list of assets that must be cached before the
// application can work offline, tagged with the generation they belong to.
type Manifest struct {
	Version string   `yaml:"version" json:"version"`
	Assets  []string `yaml:"assets" json:"assets"`
}

// Load reads a manifest file. JSON is valid YAML, so both formats are accepted.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Version == "" {
		m.Version = m.Digest()
	}
	return &m, nil
}

// Validate checks that every asset is an absolute path or URL
func (m *Manifest) Validate() error {
	if len(m.Assets) == 0 {
		return fmt.Errorf("manifest has no assets")
	}
	seen := make(map[string]bool, len(m.Assets))
	for _, a := range m.Assets {
		if !strings.HasPrefix(a, "/") && !strings.HasPrefix(a, "http://") && !strings.HasPrefix(a, "https://") {
			return fmt.Errorf("manifest asset %q must be an absolute path or URL", a)
		}
		if seen[a] {
			return fmt.Errorf("manifest asset %q is listed twice", a)
		}
		seen[a] = true
	}
	return nil
}

// Digest is a short hash of the asset list. It is used as the version when
// the build did not provide one, so any change to the list rolls the generation.
func (m *Manifest) Digest() string {
	hash := sha256.Sum256([]byte(strings.Join(m.Assets, "\n")))
	return "m" + hex.EncodeToString(hash[:])[:12]
}
