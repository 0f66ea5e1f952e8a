package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	minTimeout = 5 * time.Second
	maxTimeout = 120 * time.Second
)

// Validate validates config and returns an error on the first problem found.
func (c Config) Validate() error {
	if err := validateTimeout("cloud.http_timeout", c.Cloud.HTTPTimeout.ToDuration()); err != nil {
		return err
	}
	if err := validateTimeout("cloud.ws_timeout", c.Cloud.WSTimeout.ToDuration()); err != nil {
		return err
	}
	if err := validateEndpoint("cloud.api_endpoint", c.Cloud.APIEndpoint, "http", "https"); err != nil {
		return err
	}
	if err := validateEndpoint("cloud.ws_endpoint", c.Cloud.WSEndpoint, "ws", "wss"); err != nil {
		return err
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1, got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.CoolDown.ToDuration() <= 0 {
		return fmt.Errorf("circuit_breaker.cool_down must be positive, got %s", c.CircuitBreaker.CoolDown)
	}
	if c.Reconnect.BaseDelay.ToDuration() <= 0 {
		return fmt.Errorf("reconnect.base_delay must be positive, got %s", c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxDelay.ToDuration() < c.Reconnect.BaseDelay.ToDuration() {
		return fmt.Errorf("reconnect.max_delay must not be less than reconnect.base_delay")
	}
	if c.Reconnect.FirstConnectBudget.ToDuration() <= 0 {
		return fmt.Errorf("reconnect.first_connect_budget must be positive, got %s", c.Reconnect.FirstConnectBudget)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http_server.port out of range: %d", c.HTTP.Port)
	}
	return nil
}

// ValidateCredentials checks credentials needed to actually connect. Separate
// from Validate so commands like defaultconfig do not require an account.
func (c Config) ValidateCredentials() error {
	if c.Auth.Email == "" {
		return fmt.Errorf("auth.email required")
	}
	if c.Auth.Password == "" {
		return fmt.Errorf("auth.password required")
	}
	return nil
}

func validateTimeout(name string, d time.Duration) error {
	if d < minTimeout || d > maxTimeout {
		return fmt.Errorf("%s must be between %s and %s, got %s", name, minTimeout, maxTimeout, d)
	}
	return nil
}

func validateEndpoint(name, value string, schemes ...string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s scheme %q", name, u.Scheme)
}
