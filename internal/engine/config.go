// internal/engine/config.go
package engine

import (
	"time"

	"github.com/mergekit/mailmerge-backend/internal/model"
)

// Tuning defaults, matching the sender's original knobs.
const (
	DefaultWorkers     = 3
	MaxWorkers         = 10
	DefaultRetries     = 3
	DefaultBackoffBase = 5 * time.Second
)

// Config is the transport and personalization bundle for one run. It is
// captured by value when a run starts; editing the engine's config after
// that has no effect on the in-flight run.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string

	Subject         string
	BodyTemplate    string
	RecipientColumn string
	Mapping         model.PlaceholderMapping

	// Workers is the pool size, clamped to 1..MaxWorkers.
	Workers int
	// Retries is the total attempt budget per record: with Retries >= 1 a
	// record gets exactly Retries attempts, with Retries == 0 exactly one.
	Retries int
	// BackoffBase is the first inter-attempt delay; it doubles after every
	// failed attempt.
	BackoffBase time.Duration
	// ConnectTimeout bounds session establishment per attempt.
	ConnectTimeout time.Duration
}

// clone deep-copies the mapping so a captured config cannot be mutated
// through the caller's map.
func (c Config) clone() Config {
	out := c
	out.Mapping = c.Mapping.Clone()
	return out
}

// withDefaults fills in unset tuning knobs and clamps the worker count.
func (c Config) withDefaults() Config {
	out := c.clone()
	if out.Workers < 1 {
		out.Workers = DefaultWorkers
	}
	if out.Workers > MaxWorkers {
		out.Workers = MaxWorkers
	}
	if out.Retries < 0 {
		out.Retries = DefaultRetries
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = DefaultBackoffBase
	}
	return out
}
