package couchdb

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// AuthType selects how requests authenticate against CouchDB.
type AuthType string

const (
	// AuthBasic sends HTTP basic credentials with every request.
	AuthBasic AuthType = "basic"

	// AuthCookie opens a session via /_session and sends the AuthSession cookie.
	AuthCookie AuthType = "cookie"
)

// Config holds the CouchDB store configuration.
type Config struct {
	// Host is the server base URL including scheme, e.g. "http://localhost".
	Host string

	// Port is the server port. Zero keeps the port of Host.
	Port int

	// Database holds the cache documents.
	Database string

	// Credentials; empty Username disables authentication.
	Username string
	Password string
	AuthType AuthType

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	// MaxConflictRetries bounds how often an overwrite re-reads the revision
	// after losing a race.
	MaxConflictRetries int

	// PageSize is the number of rows per _all_docs page.
	PageSize int

	Retry   RetryConfig
	Breaker BreakerConfig
}

// DefaultConfig returns a configuration for a local CouchDB.
func DefaultConfig() Config {
	return Config{
		Host:               "http://localhost",
		Port:               5984,
		Database:           "doccache",
		AuthType:           AuthBasic,
		Timeout:            30 * time.Second,
		MaxConflictRetries: 5,
		PageSize:           100,
		Retry:              DefaultRetryConfig(),
		Breaker:            DefaultBreakerConfig(),
	}
}

// BaseURL returns the server URL with the port applied.
func (c Config) BaseURL() (*url.URL, error) {
	u, err := url.Parse(c.Host)
	if err != nil {
		return nil, fmt.Errorf("parse couchdb host: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("couchdb host %q must use http or https", c.Host)
	}
	if c.Port > 0 {
		u.Host = u.Hostname() + ":" + strconv.Itoa(c.Port)
	}
	u.Path = ""
	return u, nil
}

func (c Config) validate() error {
	if c.Database == "" {
		return fmt.Errorf("couchdb database is required")
	}
	if c.Database[0] < 'a' || c.Database[0] > 'z' {
		return fmt.Errorf("couchdb database %q must start with a lowercase letter", c.Database)
	}
	switch c.AuthType {
	case "", AuthBasic, AuthCookie:
	default:
		return fmt.Errorf("unknown couchdb auth type %q", c.AuthType)
	}
	if c.AuthType == AuthCookie && c.Username == "" {
		return fmt.Errorf("cookie auth requires a username")
	}
	return nil
}
