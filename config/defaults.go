package config

// DefaultConfig returns the default node configuration.
//
// Listen addresses follow the multiaddr surface mandated for the mesh:
// wildcard TCP and QUIC on IPv4, wildcard TCP on IPv6, all on ephemeral
// ports so multiple nodes can run side by side during development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/0",
				"/ip4/0.0.0.0/udp/0/quic-v1",
				"/ip6/::/tcp/0",
			},
			BootstrapPeers: []string{},
		},
		Engine: EngineConfig{
			Model:            "tinyllama",
			ModelRegistryURL: "https://huggingface.co",
			IntegrityMode:    IntegrityWarnOnly,
			ExpectedSHA256:   defaultTinyLlamaSHA256,
			Device:           "cpu",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// defaultTinyLlamaSHA256 is the placeholder digest shipped before an
// operator has pinned a real repository revision. Strict mode would reject
// every download against this value, so the default integrity mode is
// WarnOnly until ExpectedSHA256 is overridden with the real digest of
// whatever revision engine.registry_url actually resolves.
const defaultTinyLlamaSHA256 = "0000000000000000000000000000000000000000000000000000000000000000"
