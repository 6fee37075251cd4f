package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the default manifest name inside the data directory.
const ManifestFile = "collections.yaml"

// Collection records one ingested collection and the tool that serves it.
type Collection struct {
	Name        string `yaml:"collection"`
	Tool        string `yaml:"tool"`
	Description string `yaml:"description"`
	Source      string `yaml:"source"`
	Chunks      int    `yaml:"chunks"`
}

// Manifest lists the ingested collections.
type Manifest struct {
	Collections []Collection `yaml:"collections"`
}

// LoadManifest reads a manifest. A missing file yields an empty manifest.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Save writes the manifest, creating parent directories.
func (m Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Merge replaces entries with the same collection name and keeps the rest,
// sorted by collection name.
func (m Manifest) Merge(other Manifest) Manifest {
	byName := map[string]Collection{}
	for _, c := range m.Collections {
		byName[c.Name] = c
	}
	for _, c := range other.Collections {
		byName[c.Name] = c
	}
	out := Manifest{Collections: make([]Collection, 0, len(byName))}
	for _, c := range byName {
		out.Collections = append(out.Collections, c)
	}
	sort.Slice(out.Collections, func(i, j int) bool { return out.Collections[i].Name < out.Collections[j].Name })
	return out
}

// Lookup returns the entry for a collection name.
func (m Manifest) Lookup(name string) (Collection, bool) {
	for _, c := range m.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}
