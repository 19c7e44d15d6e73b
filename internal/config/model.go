package config

import "time"

// Config is the frozen, immutable-after-load configuration for one
// sentryproxy process.
type Config struct {
	Server          ServerConfig      `toml:"server"`
	Proxy           ProxyConfig       `toml:"proxy"`
	Limits          LimitsConfig      `toml:"limits"`
	RateLimit       RateLimitConfig   `toml:"rate_limit"`
	Filter          FilterConfig      `toml:"filter"`
	ErrorRedirects  ErrorRedirects    `toml:"error_redirects"`
	TimeoutOverride []TimeoutOverride `toml:"timeout_override"`
}

type ServerConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	AdminListen string `toml:"admin_listen"`
}

type ProxyConfig struct {
	Upstream string `toml:"upstream"`
}

type LimitsConfig struct {
	MaxBodySize        int64 `toml:"max_body_size"`
	DefaultTimeoutSecs int64 `toml:"default_timeout_secs"`
	RegistryMaxEntries int   `toml:"registry_max_entries"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"rpm"`
	Burst             float64 `toml:"burst"`
}

type FilterConfig struct {
	BlockedPatterns []string `toml:"blocked_patterns"`
	BotRedirectURL  string   `toml:"bot_redirect_url"`
}

type ErrorRedirects struct {
	RateLimited  string `toml:"rate_limited"`
	Banned       string `toml:"banned"`
	BodyTooLarge string `toml:"body_too_large"`
	Timeout      string `toml:"timeout"`
	BadGateway   string `toml:"bad_gateway"`
}

type TimeoutOverride struct {
	Path        string `toml:"path"`
	TimeoutSecs int64  `toml:"timeout_secs"`
}

// DefaultTimeout returns the configured default timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Limits.DefaultTimeoutSecs) * time.Second
}
