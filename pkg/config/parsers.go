package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr    string
	Replies string
	Config  string
	Set     map[string]bool
}

// EnvResult describes what the environment contributed.
type EnvResult struct {
	AdminKeys map[string]struct{}
	EnvUsed   bool
}

// EffectiveConfigResult holds the merged configuration plus the resolved
// listen address and replies path, and which source won ("flags", "config"
// or "env").
type EffectiveConfigResult struct {
	Config      *Config
	Addr        string
	RepliesPath string
	Source      string
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	repliesPtr := flag.String("replies", "./reply.txt", "Path to the reply pool file")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Replies: *repliesPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads environment variables into a fresh Config and
// returns that env-only config plus an EnvResult describing whether envs
// were used. This function does not mutate any caller provided config.
func ParseConfigEnvs() (*Config, EnvResult) {
	envCfg := &Config{}
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	// Server address/port
	if v := os.Getenv("REPLYLOOP_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("REPLYLOOP_ADDRESS"); host != "" {
			envUsed = true
			envCfg.Server.Address = host
		}
		// PORT is honored for PaaS deployments (Render, Heroku) alongside
		// the namespaced variable.
		if port := os.Getenv("REPLYLOOP_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		} else if port := os.Getenv("PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("REPLYLOOP_REPLIES_PATH"); v != "" {
		envUsed = true
		envCfg.Replies.Path = v
	}
	if v := os.Getenv("REPLYLOOP_TOKEN_FILE"); v != "" {
		envUsed = true
		envCfg.Messenger.TokenFile = v
	}
	// VERIFY_TOKEN keeps the platform-conventional name.
	if v := os.Getenv("VERIFY_TOKEN"); v != "" {
		envUsed = true
		envCfg.Messenger.VerifyToken = v
	}
	if v := os.Getenv("REPLYLOOP_GRAPH_BASE_URL"); v != "" {
		envUsed = true
		envCfg.Messenger.BaseURL = v
	}
	if v := os.Getenv("REPLYLOOP_GRAPH_API_VERSION"); v != "" {
		envUsed = true
		envCfg.Messenger.APIVersion = v
	}
	if v := os.Getenv("REPLYLOOP_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.Messenger.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("REPLYLOOP_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Messenger.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("REPLYLOOP_JOURNAL_PATH"); v != "" {
		envUsed = true
		envCfg.Journal.Enabled = true
		envCfg.Journal.Path = v
	}
	if v := os.Getenv("REPLYLOOP_ADMIN_KEYS"); v != "" {
		envUsed = true
		envCfg.Security.AdminKeys = parseList(v)
	}
	if c := os.Getenv("REPLYLOOP_TLS_CERT"); c != "" {
		envUsed = true
		envCfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("REPLYLOOP_TLS_KEY"); k != "" {
		envUsed = true
		envCfg.Server.TLS.KeyFile = k
	}

	adminKeys := make(map[string]struct{})
	for _, k := range envCfg.Security.AdminKeys {
		adminKeys[k] = struct{}{}
	}
	return envCfg, EnvResult{AdminKeys: adminKeys, EnvUsed: envUsed}
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env) and returns the effective config plus resolved addr and
// replies path. It honors an explicit flags.Config (user provided --config)
// by using the config file only; otherwise it uses flags if any flags are
// set; else if a config file exists it uses that; otherwise env.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	// If user explicitly passed --config, require the file to exist and use it.
	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.RepliesPath = fileCfg.Replies.Path
		res.Source = "config"
		return res, nil
	}

	// If user passed any non-config flags (addr/replies), flags win for those
	// values; the rest of the config is taken from file, then env.
	if flags.Set["addr"] || flags.Set["replies"] {
		base := fileCfg
		if !fileExists {
			base = envCfg
		}
		addr := flags.Addr
		if !flags.Set["addr"] {
			addr = base.Addr()
		}
		replies := flags.Replies
		if !flags.Set["replies"] {
			if p := strings.TrimSpace(base.Replies.Path); p != "" {
				replies = p
			}
		}
		base.Replies.Path = replies
		res.Config = base
		res.Addr = addr
		res.RepliesPath = replies
		res.Source = "flags"
		return res, nil
	}

	// No explicit flags: prefer file config if present, otherwise env.
	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.RepliesPath = fileCfg.Replies.Path
		res.Source = "config"
		return res, nil
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.RepliesPath = envCfg.Replies.Path
	res.Source = "env"
	return res, nil
}
