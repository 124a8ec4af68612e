package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable read by Load
const EnvPrefix = "RELAY"

// FileEnvVar names the environment variable holding the optional JSON config path
const FileEnvVar = "RELAY_CONFIG_FILE"

// Config is the relay's runtime configuration
type Config struct {
	Env      string `json:"env" validate:"oneof=development production test"`
	LogLevel string `json:"log_level" split_words:"true" validate:"oneof=trace debug info warn error"`

	HTTP        *HTTPConfig        `json:"http" validate:"required"`
	WebSocket   *WebSocketConfig   `json:"websocket" validate:"required"`
	RateLimit   *RateLimitConfig   `json:"rate_limit" split_words:"true" validate:"required"`
	History     *HistoryConfig     `json:"history" validate:"required"`
	Limits      *LimitsConfig      `json:"limits" validate:"required"`
	Moderation  *ModerationConfig  `json:"moderation" validate:"required"`
	Identity    *IdentityConfig    `json:"identity" validate:"required"`
	Archive     *ArchiveConfig     `json:"archive" validate:"required"`
	Replication *ReplicationConfig `json:"replication" validate:"required"`
}

// HTTPConfig controls the listener and the operational endpoints
type HTTPConfig struct {
	Host            string        `json:"host" validate:"required"`
	Port            int           `json:"port" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" split_words:"true" validate:"gt=0"`
	CORSOrigins     []string      `json:"cors_origins" split_words:"true"`
}

// WebSocketConfig controls the upgrade and per-connection transport
type WebSocketConfig struct {
	PingInterval     time.Duration `json:"ping_interval" split_words:"true" validate:"gt=0"`
	ReadTimeout      time.Duration `json:"read_timeout" split_words:"true" validate:"gtfield=PingInterval"`
	WriteTimeout     time.Duration `json:"write_timeout" split_words:"true" validate:"gt=0"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" split_words:"true" validate:"gt=0"`
	BufferSize       int           `json:"buffer_size" split_words:"true" validate:"min=1"`
	MaxFrameBytes    int64         `json:"max_frame_bytes" split_words:"true" validate:"min=512"`
	AllowedOrigins   []string      `json:"allowed_origins" split_words:"true" validate:"min=1"`
}

// RateLimitConfig is the fixed-window message quota per session
type RateLimitConfig struct {
	Window       time.Duration `json:"window" validate:"gt=0"`
	MaxPerWindow int           `json:"max_per_window" split_words:"true" validate:"min=1"`
}

// HistoryConfig separates how much history is kept from how much a joiner sees
type HistoryConfig struct {
	Retention  int `json:"retention" validate:"min=1"`
	ReplaySize int `json:"replay_size" split_words:"true" validate:"min=0,ltefield=Retention"`
}

// LimitsConfig optionally caps inbound field lengths; zero means no cap
type LimitsConfig struct {
	MaxUsernameLength int `json:"max_username_length" split_words:"true" validate:"omitempty,min=2"`
	MaxContentLength  int `json:"max_content_length" split_words:"true" validate:"min=0"`
}

// ModerationConfig lists flagged words; an empty list disables moderation
type ModerationConfig struct {
	Words []string `json:"words"`
}

// IdentityConfig lists display names no client may claim
type IdentityConfig struct {
	ReservedNames []string `json:"reserved_names" split_words:"true"`
}

// ArchiveConfig points at the transcript database; an empty path disables it
type ArchiveConfig struct {
	Path        string `json:"path"`
	WriteBuffer int    `json:"write_buffer" split_words:"true" validate:"min=1"`
}

// Enabled reports whether the transcript archive should be opened
func (a *ArchiveConfig) Enabled() bool {
	return a.Path != ""
}

// ReplicationConfig connects relay nodes over Redis; an empty URL disables it
type ReplicationConfig struct {
	RedisURL   string `json:"redis_url" split_words:"true"`
	Channel    string `json:"channel" validate:"required"`
	InstanceID string `json:"instance_id" split_words:"true"`
	Buffer     int    `json:"buffer" validate:"min=1"`
}

// Enabled reports whether events should be shared with other nodes
func (r *ReplicationConfig) Enabled() bool {
	return r.RedisURL != ""
}

// DefaultConfig returns the settings used when nothing overrides them
func DefaultConfig() *Config {
	return &Config{
		Env:      "production",
		LogLevel: "info",
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       256,
			MaxFrameBytes:    16 * 1024,
			AllowedOrigins:   []string{"*"},
		},
		RateLimit: &RateLimitConfig{
			Window:       10 * time.Second,
			MaxPerWindow: 10,
		},
		History: &HistoryConfig{
			Retention:  500,
			ReplaySize: 50,
		},
		Limits:     &LimitsConfig{},
		Moderation: &ModerationConfig{},
		Identity: &IdentityConfig{
			ReservedNames: []string{"system", "admin", "server"},
		},
		Archive: &ArchiveConfig{
			WriteBuffer: 1024,
		},
		Replication: &ReplicationConfig{
			Channel: "chatrelay:events",
			Buffer:  1024,
		},
	}
}

var validate = validator.New()

// Validate checks every section against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q (%d problems)", first.Namespace(), first.Tag(), len(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadFromEnv applies RELAY_* environment variables on top of the defaults.
// A .env file in the working directory is loaded first when present.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config with durations written as strings ("30s")
type fileConfig struct {
	Env      string `json:"env"`
	LogLevel string `json:"log_level"`

	HTTP *struct {
		Host            string   `json:"host"`
		Port            int      `json:"port"`
		ReadTimeout     string   `json:"read_timeout"`
		WriteTimeout    string   `json:"write_timeout"`
		ShutdownTimeout string   `json:"shutdown_timeout"`
		CORSOrigins     []string `json:"cors_origins"`
	} `json:"http"`

	WebSocket *struct {
		PingInterval     string   `json:"ping_interval"`
		ReadTimeout      string   `json:"read_timeout"`
		WriteTimeout     string   `json:"write_timeout"`
		HandshakeTimeout string   `json:"handshake_timeout"`
		BufferSize       int      `json:"buffer_size"`
		MaxFrameBytes    int64    `json:"max_frame_bytes"`
		AllowedOrigins   []string `json:"allowed_origins"`
	} `json:"websocket"`

	RateLimit *struct {
		Window       string `json:"window"`
		MaxPerWindow int    `json:"max_per_window"`
	} `json:"rate_limit"`

	History *struct {
		Retention  int  `json:"retention"`
		ReplaySize *int `json:"replay_size"`
	} `json:"history"`

	Limits *struct {
		MaxUsernameLength *int `json:"max_username_length"`
		MaxContentLength  *int `json:"max_content_length"`
	} `json:"limits"`

	Moderation *struct {
		Words []string `json:"words"`
	} `json:"moderation"`

	Identity *struct {
		ReservedNames []string `json:"reserved_names"`
	} `json:"identity"`

	Archive *struct {
		Path        string `json:"path"`
		WriteBuffer int    `json:"write_buffer"`
	} `json:"archive"`

	Replication *struct {
		RedisURL   string `json:"redis_url"`
		Channel    string `json:"channel"`
		InstanceID string `json:"instance_id"`
		Buffer     int    `json:"buffer"`
	} `json:"replication"`
}

// LoadFromFile overlays the JSON file at path onto base. Only keys present
// in the file change the result.
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if base == nil {
		base = DefaultConfig()
	}
	cfg := base
	if err := file.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid value in %s: %w", path, err)
	}
	return cfg, nil
}

func (f *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Env, f.Env)
	setString(&cfg.LogLevel, f.LogLevel)

	if h := f.HTTP; h != nil {
		setString(&cfg.HTTP.Host, h.Host)
		setInt(&cfg.HTTP.Port, h.Port)
		if err := setDurations(map[string]durationField{
			"http.read_timeout":     {&cfg.HTTP.ReadTimeout, h.ReadTimeout},
			"http.write_timeout":    {&cfg.HTTP.WriteTimeout, h.WriteTimeout},
			"http.shutdown_timeout": {&cfg.HTTP.ShutdownTimeout, h.ShutdownTimeout},
		}); err != nil {
			return err
		}
		if h.CORSOrigins != nil {
			cfg.HTTP.CORSOrigins = h.CORSOrigins
		}
	}

	if w := f.WebSocket; w != nil {
		if err := setDurations(map[string]durationField{
			"websocket.ping_interval":     {&cfg.WebSocket.PingInterval, w.PingInterval},
			"websocket.read_timeout":      {&cfg.WebSocket.ReadTimeout, w.ReadTimeout},
			"websocket.write_timeout":     {&cfg.WebSocket.WriteTimeout, w.WriteTimeout},
			"websocket.handshake_timeout": {&cfg.WebSocket.HandshakeTimeout, w.HandshakeTimeout},
		}); err != nil {
			return err
		}
		setInt(&cfg.WebSocket.BufferSize, w.BufferSize)
		if w.MaxFrameBytes > 0 {
			cfg.WebSocket.MaxFrameBytes = w.MaxFrameBytes
		}
		if w.AllowedOrigins != nil {
			cfg.WebSocket.AllowedOrigins = w.AllowedOrigins
		}
	}

	if r := f.RateLimit; r != nil {
		if err := setDurations(map[string]durationField{
			"rate_limit.window": {&cfg.RateLimit.Window, r.Window},
		}); err != nil {
			return err
		}
		setInt(&cfg.RateLimit.MaxPerWindow, r.MaxPerWindow)
	}

	if h := f.History; h != nil {
		setInt(&cfg.History.Retention, h.Retention)
		// zero is a valid replay size, so presence is tracked by pointer
		if h.ReplaySize != nil {
			cfg.History.ReplaySize = *h.ReplaySize
		}
	}

	// zero lifts a cap, so these are pointers too
	if l := f.Limits; l != nil {
		if l.MaxUsernameLength != nil {
			cfg.Limits.MaxUsernameLength = *l.MaxUsernameLength
		}
		if l.MaxContentLength != nil {
			cfg.Limits.MaxContentLength = *l.MaxContentLength
		}
	}

	if m := f.Moderation; m != nil && m.Words != nil {
		cfg.Moderation.Words = m.Words
	}

	if i := f.Identity; i != nil && i.ReservedNames != nil {
		cfg.Identity.ReservedNames = i.ReservedNames
	}

	if a := f.Archive; a != nil {
		setString(&cfg.Archive.Path, a.Path)
		setInt(&cfg.Archive.WriteBuffer, a.WriteBuffer)
	}

	if r := f.Replication; r != nil {
		setString(&cfg.Replication.RedisURL, r.RedisURL)
		setString(&cfg.Replication.Channel, r.Channel)
		setString(&cfg.Replication.InstanceID, r.InstanceID)
		setInt(&cfg.Replication.Buffer, r.Buffer)
	}

	return nil
}

type durationField struct {
	dst *time.Duration
	raw string
}

func setDurations(fields map[string]durationField) error {
	for key, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*f.dst = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Load builds the effective configuration: defaults, then environment, then
// the JSON file named by RELAY_CONFIG_FILE. The result is validated.
func Load() (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path := os.Getenv(FileEnvVar); path != "" {
		cfg, err = LoadFromFile(path, cfg)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the host:port the HTTP server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// IsDevelopment reports whether human-readable console logging is wanted
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
