package configtypes

import (
	"net"
	"strconv"
)

// Log is a configuration for logging.
type Log struct {
	// Level is a log level. Possible values: trace, debug, info, warn, error, fatal, none.
	Level string `mapstructure:"level" json:"level" toml:"level" yaml:"level"`
	// File is a path to log file. If not set logs go to STDOUT.
	File string `mapstructure:"file" json:"file" toml:"file" yaml:"file"`
}

// HTTPServer is a configuration for the internal HTTP server exposing
// health, metrics and diagnostics endpoints.
type HTTPServer struct {
	Address string `mapstructure:"address" json:"address" toml:"address" yaml:"address"`
	Port    int    `mapstructure:"port" json:"port" toml:"port" yaml:"port"`
}

// Addr returns the host:port string to bind the HTTP server to.
func (s HTTPServer) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Cloud is a configuration for the FanSync cloud endpoints.
type Cloud struct {
	// APIEndpoint is an HTTP URL used for credential login.
	APIEndpoint string `mapstructure:"api_endpoint" json:"api_endpoint" toml:"api_endpoint" yaml:"api_endpoint"`
	// WSEndpoint is a WebSocket URL of the realtime control plane.
	WSEndpoint string `mapstructure:"ws_endpoint" json:"ws_endpoint" toml:"ws_endpoint" yaml:"ws_endpoint"`
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify" toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// HTTPTimeout bounds the login HTTP request. Must be between 5s and 120s.
	HTTPTimeout Duration `mapstructure:"http_timeout" json:"http_timeout" toml:"http_timeout" yaml:"http_timeout"`
	// WSTimeout bounds the WebSocket handshake, login wait and each
	// individual command. Must be between 5s and 120s.
	WSTimeout Duration `mapstructure:"ws_timeout" json:"ws_timeout" toml:"ws_timeout" yaml:"ws_timeout"`
}

// Auth holds cloud account credentials. Usually set over environment.
type Auth struct {
	Email    string `mapstructure:"email" json:"email" toml:"email" yaml:"email"`
	Password string `mapstructure:"password" json:"-" toml:"-" yaml:"-"`
	// RefreshMargin is a remaining token lifetime below which a new token
	// is obtained before opening a connection.
	RefreshMargin Duration `mapstructure:"refresh_margin" json:"refresh_margin" toml:"refresh_margin" yaml:"refresh_margin"`
}

// CircuitBreaker gates connection attempts after repeated failures.
type CircuitBreaker struct {
	// FailureThreshold is a number of consecutive transport failures after
	// which new connection attempts are rejected until cool-down elapses.
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold" toml:"failure_threshold" yaml:"failure_threshold"`
	// CoolDown is a time to wait in open state before a half-open probe.
	CoolDown Duration `mapstructure:"cool_down" json:"cool_down" toml:"cool_down" yaml:"cool_down"`
}

// Reconnect configures backoff between connection attempts.
type Reconnect struct {
	BaseDelay Duration `mapstructure:"base_delay" json:"base_delay" toml:"base_delay" yaml:"base_delay"`
	MaxDelay  Duration `mapstructure:"max_delay" json:"max_delay" toml:"max_delay" yaml:"max_delay"`
	// FirstConnectBudget caps total elapsed time of the interactive first
	// connect path. Background reconnects are not bounded by it.
	FirstConnectBudget Duration `mapstructure:"first_connect_budget" json:"first_connect_budget" toml:"first_connect_budget" yaml:"first_connect_budget"`
}

// Prometheus metrics endpoint configuration.
type Prometheus struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
}

// Health check endpoint configuration.
type Health struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
}

// Debug enables the diagnostics snapshot endpoint.
type Debug struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
}
