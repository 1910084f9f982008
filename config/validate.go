package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	switch cfg.Engine.IntegrityMode {
	case "", IntegrityStrict, IntegrityWarnOnly, IntegrityDisabled:
	default:
		return fmt.Errorf("engine.integrity_mode must be %q, %q, or %q", IntegrityStrict, IntegrityWarnOnly, IntegrityDisabled)
	}
	if cfg.Engine.IntegrityMode == "" {
		cfg.Engine.IntegrityMode = IntegrityStrict
	}
	switch cfg.Engine.Device {
	case "", "cpu", "gpu":
	default:
		return fmt.Errorf("engine.device must be %q or %q", "cpu", "gpu")
	}
	if cfg.Engine.Device == "" {
		cfg.Engine.Device = "cpu"
	}
	return nil
}
