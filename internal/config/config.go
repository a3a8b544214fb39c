// Package config loads the YAML startup file described in the original's
// main.cpp: a required "listen" address, an optional "ssl" block with cert
// and priv paths, and tuning knobs with documented defaults ("qeury_period"
// — the typo is load-bearing wire compatibility with any config file
// already written against the original, so it is kept verbatim rather than
// corrected — and "monitor_path"). Grounded on gopkg.in/yaml.v3 +
// github.com/mcuadros/go-defaults, the pair srgg-blecli uses for its own
// config struct.
package config

import (
	"fmt"
	"os"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// TLS holds the certificate/key pair path for an optional HTTPS listener.
type TLS struct {
	Cert string `yaml:"cert"`
	Priv string `yaml:"priv"`
}

// Config is the full startup file shape. QueryPeriod keeps the original's
// misspelled key name on the wire; everything reading this field in Go code
// still calls it QueryPeriod.
type Config struct {
	Listen      string `yaml:"listen"`
	SSL         *TLS   `yaml:"ssl"`
	QueryPeriod uint   `yaml:"qeury_period" default:"1"`
	MonitorPath string `yaml:"monitor_path" default:"/"`
}

// Load reads and parses path, applying field defaults before unmarshaling
// so that explicit zero values in the file (a user who genuinely writes
// "qeury_period: 0") are not silently overwritten — yaml.Unmarshal only
// replaces the fields that are present in the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	defaults.SetDefaults(&cfg)
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if cfg.Listen == "" {
		return nil, fmt.Errorf("config: %q: attribute %q is required", path, "listen")
	}
	if cfg.SSL != nil {
		if cfg.SSL.Cert == "" {
			return nil, fmt.Errorf("config: %q: attribute %q is required", path, "ssl.cert")
		}
		if cfg.SSL.Priv == "" {
			return nil, fmt.Errorf("config: %q: attribute %q is required", path, "ssl.priv")
		}
	}
	return &cfg, nil
}
