package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"sacn2lifx/internal/mapping"
)

// MappingConf is one mapping as written in a config file. Brightness defaults to 1.
type MappingConf struct {
	LightID      string   `toml:"light-id" yaml:"light_id" json:"light_id"`
	Universe     uint16   `toml:"universe" yaml:"universe" json:"universe"`
	StartChannel int      `toml:"start-channel" yaml:"start_channel" json:"start_channel"`
	Brightness   *float64 `toml:"brightness" yaml:"brightness" json:"brightness"`
	Mode         string   `toml:"mode" yaml:"mode" json:"mode"`
}

type mappingsFile struct {
	Lights   []LightConf   `toml:"lights" yaml:"lights"`
	Mappings []MappingConf `toml:"mappings" yaml:"mappings"`
}

// ToMappings converts file entries into store mappings. Validation is left to the store.
func ToMappings(in []MappingConf) []mapping.Mapping {
	out := make([]mapping.Mapping, 0, len(in))
	for _, m := range in {
		b := 1.0
		if m.Brightness != nil {
			b = *m.Brightness
		}
		out = append(out, mapping.Mapping{
			LightID:      strings.ToLower(strings.TrimSpace(m.LightID)),
			Universe:     m.Universe,
			StartChannel: m.StartChannel,
			Brightness:   b,
			Mode:         mapping.Mode(strings.ToUpper(m.Mode)),
		})
	}
	return out
}

// LoadMappings reads lights and mappings from a YAML (.yaml, .yml) or TOML file.
func LoadMappings(path string) ([]LightConf, []mapping.Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read mappings file: %w", err)
	}

	var f mappingsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		_, err = toml.Decode(string(data), &f)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse mappings file %s: %w", path, err)
	}
	return f.Lights, ToMappings(f.Mappings), nil
}

// Resolve returns the effective address book and mapping set: the mappings file when
// configured, the inline sections otherwise. Lights from both places are merged.
func (c *Config) Resolve() ([]LightConf, []mapping.Mapping, error) {
	if c.MappingsFile == "" {
		return c.Lights, ToMappings(c.Mappings), nil
	}
	lights, ms, err := LoadMappings(c.MappingsFile)
	if err != nil {
		return nil, nil, err
	}
	return append(append([]LightConf(nil), c.Lights...), lights...), ms, nil
}
