package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"loom/pkg/logging"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a descriptor file. A file may declare a single
// component or a list of components.
type File struct {
	Components []Component `yaml:"components"`
}

// LoadFile reads component descriptors from a single YAML file. The file may
// contain either a `components:` list or a single top-level component.
func LoadFile(path string) ([]Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor file %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing descriptor file %s: %w", path, err)
	}

	components := file.Components
	if len(components) == 0 {
		// Fall back to a single top-level component document.
		var single Component
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parsing descriptor file %s: %w", path, err)
		}
		if single.ID != "" {
			components = []Component{single}
		}
	}

	for i, c := range components {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("descriptor file %s: component %d: %w", path, i, err)
		}
		components[i] = c.Normalized()
	}

	return components, nil
}

// LoadDir reads all component descriptors from *.yaml and *.yml files in a
// directory (non-recursive). Files are processed in lexical order so the
// result is deterministic. Duplicate component IDs across files are an error.
func LoadDir(dir string) ([]Component, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)

	var all []Component
	seen := make(map[string]string)
	for _, path := range paths {
		components, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, c := range components {
			if prev, ok := seen[c.ID]; ok {
				return nil, fmt.Errorf("component %s declared in both %s and %s", c.ID, prev, path)
			}
			seen[c.ID] = path
			all = append(all, c)
		}
	}

	logging.Debug("Descriptor", "Loaded %d components from %d files in %s", len(all), len(paths), dir)
	return all, nil
}
