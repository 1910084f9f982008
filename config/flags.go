package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// Identity
	IdentityKeyFile string

	// P2P
	Listen     string
	Bootstrap  string
	NoDiscover bool
	DHTServer  bool
	NetworkID  string

	// Engine
	Model            string
	ModelRegistryURL string
	IntegrityMode    string
	ExpectedSHA256   string
	Device           string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetNoDiscover bool
	SetDHTServer  bool
	SetLogJSON    bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("plexusd", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Identity
	fs.StringVar(&f.IdentityKeyFile, "identity-keyfile", "", "Path to the node's identity key file")

	// P2P
	fs.StringVar(&f.Listen, "p2p-listen", "", "Comma-separated multiaddrs to listen on")
	fs.StringVar(&f.Bootstrap, "p2p-bootstrap", "", "Comma-separated bootstrap peer multiaddrs")
	fs.BoolVar(&f.NoDiscover, "p2p-nodiscover", false, "Disable mDNS LAN peer discovery (the DHT still runs)")
	fs.BoolVar(&f.DHTServer, "p2p-dhtserver", false, "Run the Kademlia DHT in server mode")
	fs.StringVar(&f.NetworkID, "p2p-networkid", "", "Isolates the mesh's rendezvous namespace")

	// Engine
	fs.StringVar(&f.Model, "engine-model", "", "Model repository id to serve")
	fs.StringVar(&f.ModelRegistryURL, "engine-registry-url", "", "Base URL of the model registry")
	fs.StringVar(&f.IntegrityMode, "engine-integrity-mode", "", "Weights integrity check: strict, warn, or disabled")
	fs.StringVar(&f.ExpectedSHA256, "engine-expected-sha256", "", "Expected SHA-256 digest of the model weights file")
	fs.StringVar(&f.Device, "engine-device", "", "Inference device: cpu or gpu")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetNoDiscover = isFlagSet(fs, "p2p-nodiscover")
	f.SetDHTServer = isFlagSet(fs, "p2p-dhtserver")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the
	// parser, e.g. a boolean flag followed by a value that looks like
	// another flag.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.IdentityKeyFile != "" {
		cfg.Identity.KeyFile = f.IdentityKeyFile
	}

	if f.Listen != "" {
		cfg.P2P.ListenAddrs = parseStringList(f.Listen)
	}
	if f.Bootstrap != "" {
		cfg.P2P.BootstrapPeers = parseStringList(f.Bootstrap)
	}
	if f.SetNoDiscover {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	if f.SetDHTServer {
		cfg.P2P.DHTServer = f.DHTServer
	}
	if f.NetworkID != "" {
		cfg.P2P.NetworkID = f.NetworkID
	}

	if f.Model != "" {
		cfg.Engine.Model = f.Model
	}
	if f.ModelRegistryURL != "" {
		cfg.Engine.ModelRegistryURL = f.ModelRegistryURL
	}
	if f.IntegrityMode != "" {
		cfg.Engine.IntegrityMode = IntegrityMode(strings.ToLower(f.IntegrityMode))
	}
	if f.ExpectedSHA256 != "" {
		cfg.Engine.ExpectedSHA256 = f.ExpectedSHA256
	}
	if f.Device != "" {
		cfg.Engine.Device = f.Device
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `Plexus - peer-to-peer mesh of inference nodes

Usage:
  plexusd [options]
  plexusd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir              Data directory (default: ~/.plexus)
  --config, -c           Config file path (default: <datadir>/plexus.conf)
  --identity-keyfile     Path to the node's identity key file

P2P Options:
  --p2p-listen           Comma-separated multiaddrs to listen on
  --p2p-bootstrap        Comma-separated bootstrap peer multiaddrs
  --p2p-nodiscover       Disable mDNS LAN peer discovery (the DHT still runs)
  --p2p-dhtserver        Run the Kademlia DHT in server mode
  --p2p-networkid        Isolates the mesh's rendezvous namespace

Engine Options:
  --engine-model             Model repository id to serve
  --engine-registry-url      Base URL of the model registry
  --engine-integrity-mode    Weights integrity check: strict, warn, or disabled
  --engine-expected-sha256   Expected SHA-256 digest of the model weights file
  --engine-device            Inference device: cpu or gpu

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path, written alongside console output (default: <datadir>/logs/plexus-node.log.<date>)
  --log-json      Output logs as JSON

Examples:
  # Start a node with defaults
  plexusd

  # Join an existing mesh
  plexusd --p2p-bootstrap=/ip4/203.0.113.1/tcp/4001/p2p/12D3KooW...

  # Start with a custom data directory
  plexusd --datadir=/path/to/data
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
//  1. Default values
//  2. Auto-create data dirs + default config (idempotent)
//  3. Config file
//  4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("plexusd version 0.1.0")
		os.Exit(0)
	}

	cfg := DefaultConfig()

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Idempotent: safe to call on every
// startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
