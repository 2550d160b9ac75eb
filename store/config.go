package store

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for the Store.
type Config struct {
	// ResolveDepth is how many reference hops reads hydrate by default.
	// Zero hands references over as ID-only stubs. Negative values reset to
	// the default.
	// Default: 1
	ResolveDepth int

	// Concurrency bounds parallel store reads when materialising multi-entity results.
	// Default: 8
	Concurrency int

	// IDAttempts bounds the number of generated identifiers tried on Save
	// before giving up with ErrIDExhausted.
	// Default: 5
	IDAttempts int

	// Logger receives debug records for writes. Default: slog.Default()
	Logger *slog.Logger

	// Registerer receives the store metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// NewID generates identifiers for entities saved without one.
	// Default: uuid.NewString
	NewID func() string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResolveDepth: 1,
		Concurrency:  8,
		IDAttempts:   5,
		Logger:       slog.Default(),
		NewID:        uuid.NewString,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.ResolveDepth < 0 {
		c.ResolveDepth = 1
	}
	if c.Concurrency < 1 {
		c.Concurrency = 8
	}
	if c.Concurrency > 256 {
		c.Concurrency = 256
	}
	if c.IDAttempts < 1 {
		c.IDAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
}
