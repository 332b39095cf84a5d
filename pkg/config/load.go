package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file. Files ending in .json or .jsonc are
// parsed as JSON with comments; everything else as YAML.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return ParseJSONC(data)
	default:
		return Parse(data)
	}
}

// Parse decodes YAML configuration, expands environment references and
// fills defaults.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(&f), nil
}

// ParseJSONC decodes JSON configuration that may contain comments and
// trailing commas.
func ParseJSONC(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(&f), nil
}

func finish(f *File) *File {
	expand(f)
	applyDefaults(f)
	return f
}

// Save writes the configuration as YAML.
func Save(f *File, path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandVars replaces ${VAR} and ${VAR:-default} with environment values.
func ExpandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := varPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[3]
	})
}

func expand(f *File) {
	f.Distributor.Transport = ExpandVars(f.Distributor.Transport)
	f.Control.Socket = ExpandVars(f.Control.Socket)
	f.Control.MetricsAddr = ExpandVars(f.Control.MetricsAddr)
	for i := range f.Listeners {
		f.Listeners[i].Path = ExpandVars(f.Listeners[i].Path)
	}
}
