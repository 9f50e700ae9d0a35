package rest

import (
	"fmt"
	"net/http"
	"time"
)

// Config holds REST client configuration.
type Config struct {
	// Timeout bounds a single HTTP request, including reading the body.
	Timeout time.Duration

	// PageSize is the _pageSize of list requests. Zero lets the server decide.
	PageSize int

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:   30 * time.Second,
		PageSize:  100,
		UserAgent: "cfgport",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPClient == nil && c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("invalid page size: %d", c.PageSize)
	}
	return nil
}
