package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// iniSection is read in preference to the default section when present.
const iniSection = "apt"

// Load reads raw parameters from a file. The format follows the extension:
// .ini, .yaml/.yml, .toml or .json.
func Load(path string) (map[string]interface{}, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini":
		return loadINI(path)
	case ".yaml", ".yml":
		return loadWith(path, yaml.Unmarshal)
	case ".toml":
		return loadWith(path, toml.Unmarshal)
	case ".json":
		return loadWith(path, json.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported parameter file format: %s", path)
	}
}

func loadWith(path string, unmarshal func([]byte, interface{}) error) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]interface{}{}
	if err := unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return raw, nil
}

func loadINI(path string) (map[string]interface{}, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	section := cfg.Section(ini.DefaultSection)
	if cfg.HasSection(iniSection) {
		section = cfg.Section(iniSection)
	}

	raw := map[string]interface{}{}
	for _, key := range section.Keys() {
		raw[key.Name()] = key.String()
	}
	return raw, nil
}

// ParseKeyValues reads key=value words as passed on a command line.
func ParseKeyValues(words []string) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	for _, w := range words {
		key, value, ok := strings.Cut(w, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", w)
		}
		raw[strings.TrimSpace(key)] = value
	}
	return raw, nil
}

// Merge overlays the given maps left to right. Keys are compared after
// alias resolution so a later "pkg" replaces an earlier "name". Aliases
// repeated inside one layer are kept for FromMap to reject.
func Merge(layers ...map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	owners := map[string][]string{}
	for _, layer := range layers {
		replaced := map[string]bool{}
		for name := range layer {
			if canonical, ok := Canonical(name); ok && !replaced[canonical] {
				for _, prev := range owners[canonical] {
					delete(out, prev)
				}
				owners[canonical] = nil
				replaced[canonical] = true
			}
		}
		for name, value := range layer {
			if canonical, ok := Canonical(name); ok {
				owners[canonical] = append(owners[canonical], name)
			}
			out[name] = value
		}
	}
	return out
}
