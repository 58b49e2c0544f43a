// Package staleness classifies cache entries as fresh, stale, or missing at
// read time. Verdicts are derived on every read and never stored.
package staleness

import "time"

// Verdict is the freshness classification of one cache entry.
type Verdict string

const (
	// VerdictFresh means the entry exists, is within the maximum age, and no
	// source mutation postdates it.
	VerdictFresh Verdict = "fresh"
	// VerdictStale means the entry exists but is older than the maximum age
	// or predates the latest source mutation.
	VerdictStale Verdict = "stale"
	// VerdictMissing means no entry exists for the key.
	VerdictMissing Verdict = "missing"
)

// defaultMaxAge bounds entry age when no override is configured.
const defaultMaxAge = 24 * time.Hour

// IsStale reports whether the verdict calls for recomputation. Missing
// entries count as stale: both demand a refresh before the key is usable.
func (v Verdict) IsStale() bool {
	return v != VerdictFresh
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxAge sets the maximum tolerated entry age. Non-positive values are
// ignored.
func WithMaxAge(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.maxAge = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker evaluates entry timestamps against a maximum age and the latest
// relevant source mutation. It holds no per-entry state and is safe for
// concurrent use.
type Tracker struct {
	maxAge time.Duration
	now    func() time.Time
}

// New creates a Tracker with the given options.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		maxAge: defaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxAge returns the configured maximum entry age.
func (t *Tracker) MaxAge() time.Duration {
	return t.maxAge
}

// Evaluate classifies one cache entry. A zero calculatedAt means the entry
// does not exist. A zero sourceChanged means no source mutation is known,
// so only the age bound applies. An entry aged exactly maxAge is still
// fresh; an entry written in the same instant as the latest source mutation
// is still fresh.
func (t *Tracker) Evaluate(calculatedAt, sourceChanged time.Time) Verdict {
	if calculatedAt.IsZero() {
		return VerdictMissing
	}
	if t.now().Sub(calculatedAt) > t.maxAge {
		return VerdictStale
	}
	if !sourceChanged.IsZero() && sourceChanged.After(calculatedAt) {
		return VerdictStale
	}
	return VerdictFresh
}
