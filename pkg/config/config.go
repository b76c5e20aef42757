package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// GraphBaseURL returns the platform send-API base URL including the API
// version segment.
func (c *Config) GraphBaseURL() string {
	base := strings.TrimRight(c.Messenger.BaseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com"
	}
	ver := c.Messenger.APIVersion
	if ver == "" {
		ver = "v18.0"
	}
	return base + "/" + ver
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveAccessToken resolves the page access token in precedence order:
// PAGE_ACCESS_TOKEN env var, then the configured token file, then the value
// embedded in the config. The returned source is "env", "file", "config" or
// "" when no token was found. A missing token is not an error: the service
// starts and refuses sends until one is configured.
func ResolveAccessToken(cfg *Config) (token, source string) {
	if v := strings.TrimSpace(os.Getenv("PAGE_ACCESS_TOKEN")); v != "" {
		return v, "env"
	}
	tf := strings.TrimSpace(cfg.Messenger.TokenFile)
	if tf == "" {
		tf = "token.txt"
	}
	if b, err := os.ReadFile(tf); err == nil {
		if t := strings.TrimSpace(string(b)); t != "" {
			return t, "file"
		}
	}
	if t := strings.TrimSpace(cfg.Messenger.AccessToken); t != "" {
		return t, "config"
	}
	return "", ""
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `REPLYLOOP_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("REPLYLOOP_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
