package config

import "time"

// Config holds all configuration for the application
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Server      ServerConfig      `yaml:"server"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Engineering EngineeringConfig `yaml:"engineering"`
	Gateway     GatewayConfig     `yaml:"gateway"`
}

// GatewayConfig holds the CLI-proxy gateway's tunables: listener
// preferences, provider failover limits, circuit breaker parameters,
// retention and the response-fixer toggle set.
type GatewayConfig struct {
	SchemaVersion     int                    `yaml:"schema_version"`
	PreferredPort     int                    `yaml:"preferred_port"`
	ListenMode        string                 `yaml:"listen_mode"` // "loopback" or "lan"
	ListenAddress     string                 `yaml:"listen_address"`
	RetentionDays     int                    `yaml:"retention_days"`
	ProviderCooldown  time.Duration          `yaml:"provider_cooldown"`
	PingCacheTTL      time.Duration          `yaml:"ping_cache_ttl"`
	Upstream          GatewayUpstreamConfig  `yaml:"upstream"`
	Failover          GatewayFailoverConfig  `yaml:"failover"`
	CircuitBreaker    GatewayCircuitConfig   `yaml:"circuit_breaker"`
	Features          GatewayFeatureToggles  `yaml:"features"`
	ResponseFixer     GatewayResponseFixer   `yaml:"response_fixer"`
	Providers         []GatewayProviderConfig `yaml:"providers"`
	CLIProxy          GatewayCLIProxyConfig  `yaml:"cli_proxy"`
}

// GatewayProviderConfig is one configured upstream provider, convertible
// to a domain.GatewayProvider plus the set of CLI keys it is enabled for.
type GatewayProviderConfig struct {
	ID             int64             `yaml:"id"`
	Name           string            `yaml:"name"`
	DisplayName    string            `yaml:"display_name"`
	BaseURLs       []string          `yaml:"base_urls"`
	BaseURLMode    string            `yaml:"base_url_mode"`
	Credential     string            `yaml:"credential"`
	ModelSlots     map[string]string `yaml:"model_slots"`
	CostMultiplier float64           `yaml:"cost_multiplier"`
	Enabled        bool              `yaml:"enabled"`
	CLIKeys        []string          `yaml:"cli_keys"`
}

// GatewayCLIProxyConfig gates the whole gateway off per CLI family, ahead
// of any provider selection (spec: GW_CLI_PROXY_DISABLED).
type GatewayCLIProxyConfig struct {
	DisabledCLIKeys []string `yaml:"disabled_cli_keys"`
}

// GatewayUpstreamConfig holds the three distinct upstream timeouts the
// spec distinguishes: connect, the whole non-streaming response, and the
// per-chunk idle gap for a streaming response.
type GatewayUpstreamConfig struct {
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ResponseTimeout     time.Duration `yaml:"response_timeout"`
	StreamIdleTimeout   time.Duration `yaml:"stream_idle_timeout"`
}

// GatewayFailoverConfig bounds the double loop.
type GatewayFailoverConfig struct {
	MaxAttemptsPerProvider int `yaml:"max_attempts_per_provider"`
	MaxProvidersToTry      int `yaml:"max_providers_to_try"`
}

// GatewayCircuitConfig mirrors domain.CircuitBreakerParams for config
// loading; the loader clamps it into that type's bounds.
type GatewayCircuitConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	CooldownSeconds  time.Duration `yaml:"cooldown_seconds"`
}

// GatewayFeatureToggles gates optional gateway behaviour.
type GatewayFeatureToggles struct {
	SessionAffinityEnabled bool `yaml:"session_affinity_enabled"`
	ResponseFixerEnabled   bool `yaml:"response_fixer_enabled"`
	PingSelectionEnabled   bool `yaml:"ping_selection_enabled"`
}

// GatewayResponseFixer sub-configures the fixer package's stages.
type GatewayResponseFixer struct {
	FixEncoding       bool `yaml:"fix_encoding"`
	FixSSEShape       bool `yaml:"fix_sse_shape"`
	FixTruncatedJSON  bool `yaml:"fix_truncated_json"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string              `yaml:"host"`
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RequestLimits   ServerRequestLimits `yaml:"request_limits"`
	RateLimits      ServerRateLimits    `yaml:"rate_limits"`
}

// ServerRequestLimits defines request size and validation limits
type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// ServerRateLimits defines rate limiting configuration
type ServerRateLimits struct {
	GlobalRequestsPerMinute    int           `yaml:"global_requests_per_minute"`
	PerIPRequestsPerMinute     int           `yaml:"per_ip_requests_per_minute"`
	BurstSize                  int           `yaml:"burst_size"`
	HealthRequestsPerMinute    int           `yaml:"health_requests_per_minute"`
	CleanupInterval            time.Duration `yaml:"cleanup_interval"`
	IPExtractionTrustProxy     bool          `yaml:"ip_extraction_trust_proxy"`
}

// ProxyConfig holds proxy-specific configuration
type ProxyConfig struct {
	LoadBalancer      string        `yaml:"load_balancer"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	StreamBufferSize  int           `yaml:"stream_buffer_size"`
}

// DiscoveryConfig holds service discovery configuration
type DiscoveryConfig struct {
	Type            string                `yaml:"type"` // Only "static" is implemented
	Static          StaticDiscoveryConfig `yaml:"static"`
	RefreshInterval time.Duration         `yaml:"refresh_interval"`
}

// StaticDiscoveryConfig holds static endpoint configuration
type StaticDiscoveryConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig holds configuration for an Ollama endpoint
type EndpointConfig struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	HealthCheckURL string        `yaml:"health_check_url"`
	ModelURL       string        `yaml:"model_url"`
	Priority       int           `yaml:"priority"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}
