package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadConfig reads and validates a TOML configuration file. Defaults are
// applied before decode so that omitted optional keys take the values
// spec.md names; unknown keys and missing required keys are both fatal.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxBodySize:        5 * 1024 * 1024,
			DefaultTimeoutSecs: 5,
			RegistryMaxEntries: 50_000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 40,
			Burst:             20,
		},
		Server: ServerConfig{
			AdminListen: "127.0.0.1:9091",
		},
	}
}

func validate(cfg *Config) error {
	var missing []string
	if cfg.Server.ListenAddr == "" {
		missing = append(missing, "server.listen_addr")
	}
	if cfg.Proxy.Upstream == "" {
		missing = append(missing, "proxy.upstream")
	}
	if cfg.Filter.BotRedirectURL == "" {
		missing = append(missing, "filter.bot_redirect_url")
	}
	if cfg.ErrorRedirects.RateLimited == "" {
		missing = append(missing, "error_redirects.rate_limited")
	}
	if cfg.ErrorRedirects.Banned == "" {
		missing = append(missing, "error_redirects.banned")
	}
	if cfg.ErrorRedirects.BodyTooLarge == "" {
		missing = append(missing, "error_redirects.body_too_large")
	}
	if cfg.ErrorRedirects.Timeout == "" {
		missing = append(missing, "error_redirects.timeout")
	}
	if cfg.ErrorRedirects.BadGateway == "" {
		missing = append(missing, "error_redirects.bad_gateway")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys: %v", missing)
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.rpm must be > 0")
	}
	if cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0")
	}
	if cfg.Limits.MaxBodySize <= 0 {
		return fmt.Errorf("limits.max_body_size must be > 0")
	}
	for i, rule := range cfg.TimeoutOverride {
		if rule.Path == "" {
			return fmt.Errorf("timeout_override[%d]: path must not be empty", i)
		}
	}
	return nil
}
