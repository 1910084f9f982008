// Package config handles application configuration for a Plexus node.
//
// Configuration is node-local runtime configuration: there is no
// protocol-wide genesis or consensus ruleset to keep in sync across peers,
// since mesh membership is gossip- and DHT-discovered rather than chained.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds a node's runtime configuration.
type Config struct {
	DataDir  string `conf:"datadir"`
	Identity IdentityConfig
	P2P      P2PConfig
	Engine   EngineConfig
	Log      LogConfig
}

// IdentityConfig controls where the node's signing keypair lives.
type IdentityConfig struct {
	KeyFile string `conf:"identity.keyfile"` // defaults to <datadir>/identity.key
}

// P2PConfig holds peer-to-peer mesh settings.
type P2PConfig struct {
	ListenAddrs    []string `conf:"p2p.listen"` // defaults set in DefaultConfig
	BootstrapPeers []string `conf:"p2p.bootstrap"`
	NoDiscover     bool     `conf:"p2p.nodiscover"` // disable mDNS LAN discovery (tests); the DHT still runs
	DHTServer      bool     `conf:"p2p.dhtserver"`  // run DHT in server mode
	NetworkID      string   `conf:"p2p.networkid"`  // isolates rendezvous namespace per deployment
}

// IntegrityMode controls how strictly model weight downloads are verified.
type IntegrityMode string

const (
	IntegrityStrict   IntegrityMode = "strict"
	IntegrityWarnOnly IntegrityMode = "warn"
	IntegrityDisabled IntegrityMode = "disabled"
)

// EngineConfig holds inference engine settings.
type EngineConfig struct {
	Model            string        `conf:"engine.model"`
	ModelRegistryURL string        `conf:"engine.registry_url"`
	IntegrityMode    IntegrityMode `conf:"engine.integrity_mode"`
	ExpectedSHA256   string        `conf:"engine.expected_sha256"`
	Device           string        `conf:"engine.device"` // "cpu" or "gpu"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.plexus
//	macOS:   ~/Library/Application Support/Plexus
//	Windows: %APPDATA%\Plexus
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plexus"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Plexus")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Plexus")
		}
		return filepath.Join(home, "AppData", "Roaming", "Plexus")
	default:
		return filepath.Join(home, ".plexus")
	}
}

// IdentityPath returns the path to the node's identity key file.
func (c *Config) IdentityPath() string {
	if c.Identity.KeyFile != "" {
		return c.Identity.KeyFile
	}
	return filepath.Join(c.DataDir, "identity.key")
}

// MeshDBDir returns the directory for the mesh-state embedded KV store.
func (c *Config) MeshDBDir() string {
	return filepath.Join(c.DataDir, "mesh.db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "plexus.conf")
}
