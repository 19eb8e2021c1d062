package config

import (
	"fmt"
	"net"
	"strings"

	"ponzirep/core/types"
)

// ValidateConfig checks a loaded configuration for values the node cannot
// start with.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config required")
	}
	if _, _, err := net.SplitHostPort(c.RPCAddress); err != nil {
		return fmt.Errorf("RPCAddress: %w", err)
	}
	if strings.TrimSpace(c.GenesisFile) == "" {
		if strings.TrimSpace(c.KeystorePath) == "" {
			return fmt.Errorf("KeystorePath required when GenesisFile is empty")
		}
		if _, err := types.ParseEther(c.DevFunds); err != nil {
			return fmt.Errorf("DevFunds: %w", err)
		}
	}
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc: RateLimit must not be negative")
	}
	if c.RPC.RateBurst < 1 {
		return fmt.Errorf("rpc: RateBurst must be at least 1")
	}
	if c.RPC.EventLimit < 0 {
		return fmt.Errorf("rpc: EventLimit must not be negative")
	}
	if secret := c.RPC.Secret(); secret != "" && len(secret) < 16 {
		return fmt.Errorf("rpc: JWT secret must be at least 16 bytes")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Index.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("index: unsupported driver %q", c.Index.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}
