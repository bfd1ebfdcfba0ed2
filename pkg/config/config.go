// Package config defines the daemon's configuration surface of spec §6 and
// §4.7: CLI flags bound with spf13/pflag and spf13/cobra, an optional YAML
// overlay file, and dario.cat/mergo to combine the two with non-zero
// explicit flags winning. Grounded on the teacher's cli/cmd root command for cobra
// wiring style and on the teacher's use of mergo (go.mod) for structured
// config merging.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v2"
)

// Role is the node's declared role, master or slave, per spec §6. Validate
// checks it; nothing else reads it, so both roles run the same discovery.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Config is the fully resolved daemon configuration, after flag/YAML/default
// merging.
type Config struct {
	Bind     string `yaml:"bind"`
	Network  string `yaml:"network"`
	Port     uint16 `yaml:"port"`
	NumPeers int    `yaml:"num_peers"`
	Role     Role   `yaml:"role"`

	DiscoveryPort uint16        `yaml:"discovery_port"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	Workers       int           `yaml:"workers"`
	QueueDepth    int           `yaml:"queue_depth"`

	AdminAddr     string `yaml:"admin_addr"`
	PeerCachePath string `yaml:"peer_cache_path"`

	UseLocalhost bool `yaml:"use_localhost"`
}

// Defaults returns the built-in configuration used when neither a YAML file
// nor flags supply a value.
func Defaults() Config {
	return Config{
		Bind:          ":7850",
		Port:          7850,
		NumPeers:      0,
		Role:          RoleSlave,
		DiscoveryPort: 7851,
		ProbeInterval: 5 * time.Second,
		Workers:       0, // 0 means runtime.GOMAXPROCS(0) at the pipeline layer
		QueueDepth:    1024,
		AdminAddr:     ":7852",
	}
}

// LoadYAML reads and parses a YAML config file. A missing file is not an
// error: it returns a zero Config so callers can unconditionally merge it
// into defaults without a presence check.
func LoadYAML(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}

// Merge combines defaults, a YAML-file overlay and explicit flag overrides
// with ascending precedence: flags win over yaml, yaml wins over defaults.
// Zero-valued fields on overlay/flags are treated as "not set" by mergo's
// default (non-override-empty) comparison, so an unset flag never clobbers a
// value already present in the YAML file or the defaults.
func Merge(defaults, yamlCfg, flags Config) (Config, error) {
	result := defaults
	if err := mergo.Merge(&result, yamlCfg, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("config: merging yaml overlay: %w", err)
	}
	if err := mergo.Merge(&result, flags, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("config: merging flags: %w", err)
	}
	return result, nil
}

// Validate checks the resolved config for the constraints spec §6 implies:
// a parseable network CIDR (when discovery is requested) and a sane role.
func (c Config) Validate() error {
	if c.Role != RoleMaster && c.Role != RoleSlave {
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleMaster, RoleSlave, c.Role)
	}
	if c.Network != "" {
		if _, _, err := net.ParseCIDR(c.Network); err != nil {
			return fmt.Errorf("config: invalid network CIDR %q: %w", c.Network, err)
		}
	}
	return nil
}

// ParsedNetwork returns the discovery CIDR, or nil if discovery is disabled
// (empty Network).
func (c Config) ParsedNetwork() (*net.IPNet, error) {
	if c.Network == "" {
		return nil, nil
	}
	_, ipnet, err := net.ParseCIDR(c.Network)
	if err != nil {
		return nil, fmt.Errorf("config: invalid network CIDR %q: %w", c.Network, err)
	}
	return ipnet, nil
}
