// Package config loads simulator runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the HTTP and websocket server listens on.
	DefaultAddr = ":3001"
	// DefaultTickInterval is the wall-clock period between simulation steps.
	DefaultTickInterval = 100 * time.Millisecond
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 64

	// DefaultResetWindow bounds how frequently HTTP resets may be requested.
	DefaultResetWindow = 10 * time.Second
	// DefaultResetBurst sets how many HTTP resets may be made per window.
	DefaultResetBurst = 5

	// DefaultReplayMaxSessions caps how many replay bundles are kept on disk.
	DefaultReplayMaxSessions = 20
	// DefaultReplaySweepInterval is how often replay retention runs.
	DefaultReplaySweepInterval = 10 * time.Minute

	// DefaultAuthLeeway is the clock skew tolerated when verifying websocket tokens.
	DefaultAuthLeeway = 2 * time.Second

	// DefaultLogLevel controls verbosity for simulator logs.
	DefaultLogLevel = "info"
	// DefaultLogFormat selects the zap encoder.
	DefaultLogFormat = "json"
)

// Config captures all runtime tunables for the simulation server.
type Config struct {
	Address          string
	GRPCAddress      string
	GRPCSharedSecret string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	MaxClients       int
	ClientBandwidth  float64
	WSAuthSecret     string
	TLSCertPath      string
	TLSKeyPath       string
	TickInterval     time.Duration
	ArenaPath        string
	RandomSeed       int64
	ReplayDir        string
	ReplayRetention  ReplayRetentionConfig
	ResetWindow      time.Duration
	ResetBurst       int
	Logging          LoggingConfig
}

// ReplayRetentionConfig bounds the replay bundles kept under ReplayDir.
type ReplayRetentionConfig struct {
	MaxSessions   int
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level  string
	Format string
	// Path is an optional file written alongside stdout.
	Path string
}

// Load reads the configuration from environment variables, applying defaults and
// returning every invalid override in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("SIM_ADDR", DefaultAddr),
		GRPCAddress:      strings.TrimSpace(os.Getenv("SIM_GRPC_ADDR")),
		GRPCSharedSecret: strings.TrimSpace(os.Getenv("SIM_GRPC_SHARED_SECRET")),
		AllowedOrigins:   parseList(os.Getenv("SIM_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		MaxClients:       DefaultMaxClients,
		WSAuthSecret:     strings.TrimSpace(os.Getenv("SIM_WS_AUTH_SECRET")),
		TLSCertPath:      strings.TrimSpace(os.Getenv("SIM_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(os.Getenv("SIM_TLS_KEY")),
		TickInterval:     DefaultTickInterval,
		ArenaPath:        strings.TrimSpace(os.Getenv("SIM_ARENA_PATH")),
		RandomSeed:       time.Now().UnixNano(),
		ReplayDir:        strings.TrimSpace(os.Getenv("SIM_REPLAY_DIR")),
		ReplayRetention: ReplayRetentionConfig{
			MaxSessions:   DefaultReplayMaxSessions,
			SweepInterval: DefaultReplaySweepInterval,
		},
		ResetWindow:      DefaultResetWindow,
		ResetBurst:       DefaultResetBurst,
		Logging: LoggingConfig{
			Level:  strings.ToLower(getString("SIM_LOG_LEVEL", DefaultLogLevel)),
			Format: strings.ToLower(getString("SIM_LOG_FORMAT", DefaultLogFormat)),
			Path:   strings.TrimSpace(os.Getenv("SIM_LOG_PATH")),
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("SIM_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SIM_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_PING_INTERVAL")); raw != "" {
		if duration, ok := parsePositiveDuration(raw); ok {
			cfg.PingInterval = duration
		} else {
			problems = append(problems, fmt.Sprintf("SIM_PING_INTERVAL must be a positive duration, got %q", raw))
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_TICK_INTERVAL")); raw != "" {
		if duration, ok := parsePositiveDuration(raw); ok {
			cfg.TickInterval = duration
		} else {
			problems = append(problems, fmt.Sprintf("SIM_TICK_INTERVAL must be a positive duration, got %q", raw))
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SIM_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_CLIENT_BANDWIDTH")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SIM_CLIENT_BANDWIDTH must be a non-negative number of bytes per second, got %q", raw))
		} else {
			cfg.ClientBandwidth = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_RANDOM_SEED")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SIM_RANDOM_SEED must be an integer, got %q", raw))
		} else {
			cfg.RandomSeed = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_RESET_WINDOW")); raw != "" {
		if duration, ok := parsePositiveDuration(raw); ok {
			cfg.ResetWindow = duration
		} else {
			problems = append(problems, fmt.Sprintf("SIM_RESET_WINDOW must be a positive duration, got %q", raw))
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_RESET_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SIM_RESET_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.ResetBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_REPLAY_MAX_SESSIONS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SIM_REPLAY_MAX_SESSIONS must be a non-negative integer, got %q", raw))
		} else {
			cfg.ReplayRetention.MaxSessions = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_REPLAY_MAX_AGE")); raw != "" {
		if duration, ok := parsePositiveDuration(raw); ok {
			cfg.ReplayRetention.MaxAge = duration
		} else {
			problems = append(problems, fmt.Sprintf("SIM_REPLAY_MAX_AGE must be a positive duration, got %q", raw))
		}
	}

	if raw := strings.TrimSpace(os.Getenv("SIM_REPLAY_SWEEP_INTERVAL")); raw != "" {
		if duration, ok := parsePositiveDuration(raw); ok {
			cfg.ReplayRetention.SweepInterval = duration
		} else {
			problems = append(problems, fmt.Sprintf("SIM_REPLAY_SWEEP_INTERVAL must be a positive duration, got %q", raw))
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("SIM_LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.Logging.Level))
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("SIM_LOG_FORMAT must be json or console, got %q", cfg.Logging.Format))
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "SIM_TLS_CERT and SIM_TLS_KEY must be provided together")
	}

	if cfg.GRPCAddress != "" && cfg.GRPCAddress == cfg.Address {
		problems = append(problems, "SIM_GRPC_ADDR must differ from SIM_ADDR")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func parsePositiveDuration(raw string) (time.Duration, bool) {
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		return 0, false
	}
	return duration, true
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
