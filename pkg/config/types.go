package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Messenger MessengerConfig `yaml:"messenger"`
	Replies   RepliesConfig   `yaml:"replies"`
	Engine    EngineConfig    `yaml:"engine"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Journal   JournalConfig   `yaml:"journal"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MessengerConfig holds the outbound platform settings. AccessToken may be
// left empty here and supplied via the PAGE_ACCESS_TOKEN env var or a token
// file instead.
type MessengerConfig struct {
	APIVersion    string   `yaml:"api_version"`
	BaseURL       string   `yaml:"base_url"`
	AccessToken   string   `yaml:"access_token"`
	TokenFile     string   `yaml:"token_file"`
	VerifyToken   string   `yaml:"verify_token"`
	SendTimeout   Duration `yaml:"send_timeout"`
	TypingTimeout Duration `yaml:"typing_timeout"`
	RateLimit     struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// RepliesConfig holds the reply pool source settings.
type RepliesConfig struct {
	Path       string   `yaml:"path"`
	Staleness  Duration `yaml:"staleness"`
	ReplyDelay Duration `yaml:"reply_delay"`
}

// EngineConfig controls inbound worker concurrency and queueing.
type EngineConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// JanitorConfig holds the periodic conversation-state sweeper settings.
type JanitorConfig struct {
	SweepInterval       Duration `yaml:"sweep_interval"`
	InactivityThreshold Duration `yaml:"inactivity_threshold"`
}

// JournalConfig holds the delivery journal settings.
type JournalConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Path      string    `yaml:"path"`
	PruneCron string    `yaml:"prune_cron"`
	MaxAge    Duration  `yaml:"max_age"`
	MaxBytes  SizeBytes `yaml:"max_bytes"`
}

// SecurityConfig holds access keys for the management endpoints.
type SecurityConfig struct {
	AdminKeys []string `yaml:"admin_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "30s" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
