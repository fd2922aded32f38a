package config

import "time"

// GatewayConfig configures the data gateway: payload caching and the
// circuit breaker wrapped around external fetchers.
type GatewayConfig struct {
	// CacheEnabled turns on the Redis payload cache. Cache keys include
	// the cutoff time, so cached payloads never bypass the leakage guard.
	CacheEnabled bool          `yaml:"cache_enabled"`
	RedisAddr    string        `yaml:"redis_addr,omitempty"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`

	// Breaker settings: the breaker opens after BreakerMaxFailures
	// consecutive fetch failures and half-opens after BreakerTimeout.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`

	// FetchTimeout bounds a single upstream fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		CacheEnabled:       false,
		CacheTTL:           5 * time.Minute,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
		FetchTimeout:       10 * time.Second,
	}
}

// TranslatorConfig configures the gRPC client for the external
// natural-language-to-patch service.
type TranslatorConfig struct {
	// Endpoint is the host:port of the translator; empty disables NL
	// interventions entirely.
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
	Insecure bool          `yaml:"insecure"`
}

// DefaultTranslatorConfig returns the built-in translator defaults.
func DefaultTranslatorConfig() *TranslatorConfig {
	return &TranslatorConfig{
		Timeout:  30 * time.Second,
		Insecure: true,
	}
}
