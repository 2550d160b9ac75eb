package cache

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// refreshRetryDelay is the base backoff between failed background refreshes.
const refreshRetryDelay = 100 * time.Millisecond

// Config sizes the cache services. StoreService only reads TTL.
type Config struct {
	// TTL is how long an entry is served.
	TTL time.Duration

	// Capacity bounds the in-memory entries; Shards splits them for
	// concurrent access.
	Capacity int
	Shards   int

	// EvictPercent of the entries is dropped when the memory cache is full.
	EvictPercent int

	// RefreshAfter reloads an entry in the background once it is older than
	// RefreshAfter plus a random share of RefreshJitter. Entries past their
	// TTL are refetched in the foreground. Zero only fetches on a miss.
	RefreshAfter  time.Duration
	RefreshJitter time.Duration

	// RememberMisses keeps keys whose fetch returned ErrNotFound, so they are
	// not fetched again until they expire.
	RememberMisses bool
}

// DefaultConfig returns the settings used when the caller has no opinion.
func DefaultConfig() Config {
	return Config{
		TTL:            10 * time.Minute,
		Capacity:       10000,
		Shards:         64,
		EvictPercent:   10,
		RememberMisses: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.Shards, validation.Required, validation.Min(1), validation.Max(c.Capacity)),
		validation.Field(&c.EvictPercent, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.RefreshAfter, validation.Min(time.Duration(0)), validation.Max(c.TTL).Exclusive()),
		validation.Field(&c.RefreshJitter,
			validation.Min(time.Duration(0)),
			validation.When(c.RefreshAfter > 0, validation.Max(c.TTL-c.RefreshAfter).Exclusive()),
		),
	)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

func (c Config) options() []sturdyc.Option {
	var opts []sturdyc.Option
	if c.RefreshAfter > 0 {
		opts = append(opts, sturdyc.WithEarlyRefreshes(c.RefreshAfter, c.RefreshAfter+c.RefreshJitter, c.TTL, refreshRetryDelay))
	}
	if c.RememberMisses {
		opts = append(opts, sturdyc.WithMissingRecordStorage())
	}
	return opts
}
