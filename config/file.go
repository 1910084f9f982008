package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments).
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "datadir":
		cfg.DataDir = value
	case "identity.keyfile":
		cfg.Identity.KeyFile = value

	case "p2p.listen":
		cfg.P2P.ListenAddrs = parseStringList(value)
	case "p2p.bootstrap":
		cfg.P2P.BootstrapPeers = parseStringList(value)
	case "p2p.nodiscover":
		cfg.P2P.NoDiscover = parseBool(value)
	case "p2p.dhtserver":
		cfg.P2P.DHTServer = parseBool(value)
	case "p2p.networkid":
		cfg.P2P.NetworkID = value

	case "engine.model":
		cfg.Engine.Model = value
	case "engine.registry_url":
		cfg.Engine.ModelRegistryURL = value
	case "engine.integrity_mode":
		cfg.Engine.IntegrityMode = IntegrityMode(strings.ToLower(value))
	case "engine.expected_sha256":
		cfg.Engine.ExpectedSHA256 = value
	case "engine.device":
		cfg.Engine.Device = value

	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored.
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string) error {
	content := `# Plexus node configuration

# Data directory (default: ~/.plexus)
# datadir = ~/.plexus

# ============================================================================
# P2P mesh
# ============================================================================

# p2p.listen = /ip4/0.0.0.0/tcp/0,/ip4/0.0.0.0/udp/0/quic-v1,/ip6/::/tcp/0
# p2p.bootstrap = /ip4/203.0.113.1/tcp/4001/p2p/12D3KooW...

# Disable LAN (mDNS) discovery (for isolated test meshes); the DHT still runs
# p2p.nodiscover = false

# Run DHT in server mode
# p2p.dhtserver = false

# ============================================================================
# Inference engine
# ============================================================================

engine.model = tinyllama
# engine.registry_url = https://huggingface.co

# Weights integrity checking: strict, warn, or disabled. Pin the real digest
# of your registry's weights file and switch to strict for production.
# engine.integrity_mode = strict
# engine.expected_sha256 =

engine.device = cpu

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
