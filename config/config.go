// Package config loads the optional loopseq.yaml startup file, following
// the teacher's BTML decoding convention (gopkg.in/yaml.v3, plain struct
// tags, no validation library).
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the startup defaults for a loopseq session. A missing file
// is not an error: Load returns Default() untouched.
type Config struct {
	NumTracks            int      `yaml:"num_tracks"`
	DefaultBPM           int      `yaml:"default_bpm"`
	MetronomeEnabled     bool     `yaml:"metronome_enabled"`
	PreferredInputPorts  []string `yaml:"preferred_input_ports"`
	PreferredOutputPorts []string `yaml:"preferred_output_ports"`
	StatePath            string   `yaml:"state_path"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		NumTracks:        8,
		DefaultBPM:       120,
		MetronomeEnabled: false,
		StatePath:        "state.json",
	}
}

// Load reads path and merges it over Default(). A missing file returns
// Default() with no error, matching the StateCorrupt/absent-config
// tolerance philosophy used for persistence.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	if cfg.NumTracks <= 0 {
		cfg.NumTracks = 8
	}
	if cfg.DefaultBPM <= 0 {
		cfg.DefaultBPM = 120
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "state.json"
	}
	return cfg, nil
}
