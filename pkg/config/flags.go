package config

import (
	"time"

	"github.com/spf13/pflag"
)

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// FlagSet binds the CLI surface of spec §6 onto fs; pflag populates its
// fields on Parse. Workers/QueueDepth/UseLocalhost are
// left at their zero values unless explicitly set, since 0 has a meaningful
// "unset" interpretation that Merge preserves across the default/yaml/flag
// layers; pflag.Changed is consulted by Bound to build a Config that
// only carries the flags the user actually passed, so mergo.WithOverride
// never clobbers a YAML value with the flag's inert default.
type FlagSet struct {
	fs *pflag.FlagSet

	bind          string
	network       string
	port          uint16
	numPeers      int
	role          string
	discoveryPort uint16
	probeInterval string
	workers       int
	queueDepth    int
	adminAddr     string
	peerCachePath string
	useLocalhost  bool
	configFile    string
}

// NewFlagSet registers the daemon's flags on fs (typically a cobra command's
// Flags()).
func NewFlagSet(fs *pflag.FlagSet) *FlagSet {
	f := &FlagSet{fs: fs}
	fs.StringVar(&f.bind, "bind", "", "local endpoint to listen on, host:port or unix:/path")
	fs.StringVar(&f.network, "network", "", "CIDR to scan for discovery peers; empty disables discovery")
	fs.Uint16Var(&f.port, "port", 0, "TCP port, recorded in the config; the listen endpoint is set by --bind")
	fs.IntVar(&f.numPeers, "num-peers", 0, "expected peer count, recorded in the config; the discovery scan does not read it")
	fs.StringVar(&f.role, "role", "", "master or slave")
	fs.Uint16Var(&f.discoveryPort, "discovery-port", 0, "port probe kernels are sent to on candidate peers")
	fs.StringVar(&f.probeInterval, "probe-interval", "", "interval between hierarchy re-probes, e.g. 5s")
	fs.IntVar(&f.workers, "workers", 0, "CPU pipeline worker goroutines (0: GOMAXPROCS)")
	fs.IntVar(&f.queueDepth, "queue-depth", 0, "CPU pipeline submission queue depth")
	fs.StringVar(&f.adminAddr, "admin-addr", "", "address for the status/metrics/healthz HTTP server")
	fs.StringVar(&f.peerCachePath, "peer-cache", "", "path to the peer-cache file (default: $TMPDIR)")
	fs.BoolVar(&f.useLocalhost, "use-localhost", false, "permit loopback as a discoverable peer, for local testing")
	fs.StringVar(&f.configFile, "config", "", "optional YAML config file")
	return f
}

// ConfigFile returns the --config flag's value.
func (f *FlagSet) ConfigFile() string { return f.configFile }

// Bound returns a Config containing only the fields whose flags were
// explicitly set on the command line, suitable as the top (highest
// precedence) layer passed to Merge.
func (f *FlagSet) Bound() Config {
	var c Config
	if f.fs.Changed("bind") {
		c.Bind = f.bind
	}
	if f.fs.Changed("network") {
		c.Network = f.network
	}
	if f.fs.Changed("port") {
		c.Port = f.port
	}
	if f.fs.Changed("num-peers") {
		c.NumPeers = f.numPeers
	}
	if f.fs.Changed("role") {
		c.Role = Role(f.role)
	}
	if f.fs.Changed("discovery-port") {
		c.DiscoveryPort = f.discoveryPort
	}
	if f.fs.Changed("probe-interval") {
		if d, err := parseDuration(f.probeInterval); err == nil {
			c.ProbeInterval = d
		}
	}
	if f.fs.Changed("workers") {
		c.Workers = f.workers
	}
	if f.fs.Changed("queue-depth") {
		c.QueueDepth = f.queueDepth
	}
	if f.fs.Changed("admin-addr") {
		c.AdminAddr = f.adminAddr
	}
	if f.fs.Changed("peer-cache") {
		c.PeerCachePath = f.peerCachePath
	}
	if f.fs.Changed("use-localhost") {
		c.UseLocalhost = f.useLocalhost
	}
	return c
}
