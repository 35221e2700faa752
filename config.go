package fieldsync

import (
	"net/url"
	"os"
	"time"

	"github.com/hyperengineering/fieldsync/internal/store"
)

// Config configures the fieldsync client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	// If empty, derived from Collection.
	LocalPath string

	// Collection is the remote collection records sync with.
	// If empty, resolved using collection resolution (explicit > FIELDSYNC_COLLECTION env > "jobs").
	Collection string

	// RemoteURL is the base URL of the remote authority.
	// If empty, operates in offline-only mode.
	RemoteURL string

	// APIKey authenticates with the remote authority. Optional.
	APIKey string

	// ProbeInterval is how often connectivity to the remote authority is
	// checked. Zero disables the connectivity monitor.
	// Defaults to 15 seconds.
	ProbeInterval time.Duration

	// Debug enables debug-level logging.
	Debug bool

	// LogPath is the path of a rotated log file.
	// Defaults to stderr if empty.
	LogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Collection:    store.DefaultCollection,
		LocalPath:     store.DBPath(store.DefaultCollection),
		ProbeInterval: 15 * time.Second,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	FIELDSYNC_DB_PATH         → LocalPath
//	FIELDSYNC_COLLECTION      → Collection
//	FIELDSYNC_REMOTE_URL      → RemoteURL
//	FIELDSYNC_API_KEY         → APIKey
//	FIELDSYNC_PROBE_INTERVAL  → ProbeInterval (Go duration, e.g. "30s")
//	FIELDSYNC_DEBUG           → Debug (any non-empty value enables)
//	FIELDSYNC_LOG             → LogPath
func ConfigFromEnv() Config {
	cfg := Config{
		LocalPath:  os.Getenv("FIELDSYNC_DB_PATH"),
		Collection: os.Getenv(store.CollectionEnv),
		RemoteURL:  os.Getenv("FIELDSYNC_REMOTE_URL"),
		APIKey:     os.Getenv("FIELDSYNC_API_KEY"),
		Debug:      os.Getenv("FIELDSYNC_DEBUG") != "",
		LogPath:    os.Getenv("FIELDSYNC_LOG"),
	}
	if v := os.Getenv("FIELDSYNC_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProbeInterval = d
		}
	}
	return cfg
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}

	if c.Collection != "" {
		if err := store.ValidateCollection(c.Collection); err != nil {
			return &ValidationError{Field: "Collection", Message: err.Error()}
		}
	}

	if c.RemoteURL != "" {
		u, err := url.Parse(c.RemoteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "RemoteURL", Message: "must be an http or https URL"}
		}
	}

	if c.ProbeInterval < 0 {
		return &ValidationError{Field: "ProbeInterval", Message: "must be non-negative"}
	}

	return nil
}

// IsOffline returns true if no remote authority is configured.
func (c *Config) IsOffline() bool {
	return c.RemoteURL == ""
}

// WithDefaults fills in default values for unset fields.
// LocalPath is derived from the resolved Collection if not explicitly set.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Collection == "" {
		resolved, err := store.ResolveCollection("")
		if err == nil {
			c.Collection = resolved
		} else {
			c.Collection = defaults.Collection
		}
	}

	if c.LocalPath == "" {
		c.LocalPath = store.DBPath(c.Collection)
	}

	if c.ProbeInterval == 0 {
		c.ProbeInterval = defaults.ProbeInterval
	}

	return c
}
