package config

import (
	"os"
	"strings"
	"time"
)

// RPC configures the JSON-RPC server.
type RPC struct {
	// JWTSecret signs the HMAC tokens write methods require. JWTSecretEnv,
	// when set, names an environment variable that overrides it.
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	// RateLimit is the sustained number of write calls per second accepted
	// per token subject; RateBurst bounds short spikes.
	RateLimit        float64 `toml:"RateLimit"`
	RateBurst        int     `toml:"RateBurst"`
	ReadTimeoutSecs  int     `toml:"ReadTimeoutSecs"`
	WriteTimeoutSecs int     `toml:"WriteTimeoutSecs"`
	IdleTimeoutSecs  int     `toml:"IdleTimeoutSecs"`
	EventLimit       int     `toml:"EventLimit"`
}

func (r *RPC) applyDefaults() {
	if r.RateLimit == 0 {
		r.RateLimit = 5
	}
	if r.RateBurst == 0 {
		r.RateBurst = 10
	}
	if r.ReadTimeoutSecs == 0 {
		r.ReadTimeoutSecs = 15
	}
	if r.WriteTimeoutSecs == 0 {
		r.WriteTimeoutSecs = 15
	}
	if r.IdleTimeoutSecs == 0 {
		r.IdleTimeoutSecs = 60
	}
	if r.EventLimit == 0 {
		r.EventLimit = 1024
	}
}

// Secret returns the effective JWT secret.
func (r RPC) Secret() string {
	if env := strings.TrimSpace(r.JWTSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.JWTSecret)
}

func (r RPC) ReadTimeout() time.Duration  { return time.Duration(r.ReadTimeoutSecs) * time.Second }
func (r RPC) WriteTimeout() time.Duration { return time.Duration(r.WriteTimeoutSecs) * time.Second }
func (r RPC) IdleTimeout() time.Duration  { return time.Duration(r.IdleTimeoutSecs) * time.Second }

// Logging configures structured log output.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

func (l *Logging) applyDefaults() {
	if strings.TrimSpace(l.Level) == "" {
		l.Level = "info"
	}
}

// Index configures the optional relational offer index. The index is
// disabled while DSN is empty.
type Index struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

func (i *Index) applyDefaults() {
	if strings.TrimSpace(i.Driver) == "" {
		i.Driver = "sqlite"
	}
}

// Enabled reports whether an index database is configured.
func (i Index) Enabled() bool { return strings.TrimSpace(i.DSN) != "" }

// Telemetry configures OTLP/HTTP export of traces and metrics. Both are off
// by default.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

func (t *Telemetry) applyDefaults() {
	if strings.TrimSpace(t.Endpoint) == "" {
		t.Endpoint = "localhost:4318"
	}
}

// Enabled reports whether any exporter is switched on.
func (t Telemetry) Enabled() bool { return t.Traces || t.Metrics }
