package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePrecedenceFlagsOverYAMLOverDefaults(t *testing.T) {
	defaults := Defaults()

	yamlCfg := Config{
		Bind:          "yaml-bind:1",
		ProbeInterval: 9 * time.Second,
	}

	flags := Config{
		Bind: "flag-bind:2",
	}

	merged, err := Merge(defaults, yamlCfg, flags)
	require.NoError(t, err)

	assert.Equal(t, "flag-bind:2", merged.Bind, "explicit flag must win over yaml and defaults")
	assert.Equal(t, 9*time.Second, merged.ProbeInterval, "yaml value must win over the default when no flag is set")
	assert.Equal(t, defaults.DiscoveryPort, merged.DiscoveryPort, "fields untouched by yaml or flags keep their default")
}

func TestMergeEmptyOverlaysKeepDefaults(t *testing.T) {
	defaults := Defaults()

	merged, err := Merge(defaults, Config{}, Config{})
	require.NoError(t, err)

	assert.Equal(t, defaults, merged)
}

func TestLoadYAMLMissingFileIsNotAnError(t *testing.T) {
	c, err := LoadYAML("/nonexistent/path/to/bscheduler.yaml")
	require.NoError(t, err)
	assert.Equal(t, Config{}, c)
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	c := Defaults()
	c.Role = "overlord"
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadCIDR(t *testing.T) {
	c := Defaults()
	c.Network = "not-a-cidr"
	assert.Error(t, c.Validate())
}

func TestParsedNetworkNilWhenDiscoveryDisabled(t *testing.T) {
	c := Defaults()
	ipnet, err := c.ParsedNetwork()
	require.NoError(t, err)
	assert.Nil(t, ipnet)
}
