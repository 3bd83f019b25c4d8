// Package admission implements a sliding-window rate limiter keyed by
// (subject, action). It protects the shared extraction backend from a
// single client flooding it; it is advisory, not a security boundary.
package admission

import (
	"math"
	"sync"
	"time"
)

// sweepEvery is how many checks pass between opportunistic sweeps.
const sweepEvery = 64

// Quota bounds one action to MaxRequests per trailing Window.
type Quota struct {
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
}

// Result is the outcome of a CheckLimit call.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time     // when the oldest counted request leaves the window
	RetryAfter time.Duration // zero when allowed
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

type windowKey struct {
	subject string
	action  string
}

// Limiter is a sliding-window rate limiter. State is explicitly owned by
// the Limiter instance (no package globals), so callers decide whether
// schedulers share limiter state or get their own.
//
// The caller protocol is check-then-record: call CheckLimit, and only if
// it allowed the request call RecordRequest. The two calls are
// deliberately not atomic; under true parallelism two pipelines can both
// pass CheckLimit before either records, briefly overshooting the quota.
// That is accepted for an advisory client-side limiter and is covered by
// a test rather than papered over.
type Limiter struct {
	mu      sync.Mutex
	quotas  map[string]Quota
	windows map[windowKey][]time.Time
	now     func() time.Time
	checks  int
}

// NewLimiter creates a Limiter with per-action quotas. Actions absent
// from quotas are unlimited. A nil quotas map allows everything.
func NewLimiter(quotas map[string]Quota) *Limiter {
	return &Limiter{
		quotas:  quotas,
		windows: make(map[windowKey][]time.Time),
		now:     time.Now,
	}
}

// WithClock sets the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// CheckLimit reports whether a request for (subjectID, action) would be
// within quota right now. It purges expired entries but never records a
// request; repeated calls without RecordRequest return the same Remaining.
// It never fails: an unconfigured action is always allowed.
func (l *Limiter) CheckLimit(subjectID, action string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%sweepEvery == 0 {
		l.sweepLocked()
	}

	q, ok := l.quotas[action]
	if !ok || q.MaxRequests <= 0 || q.Window <= 0 {
		return Result{Allowed: true, Remaining: math.MaxInt}
	}

	now := l.now()
	key := windowKey{subject: subjectID, action: action}
	fresh := l.purgeLocked(key, now.Add(-q.Window))

	remaining := q.MaxRequests - len(fresh)
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   len(fresh) < q.MaxRequests,
		Remaining: remaining,
	}
	if len(fresh) > 0 {
		res.ResetAt = fresh[0].Add(q.Window)
	}
	if !res.Allowed {
		res.RetryAfter = res.ResetAt.Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res
}

// RecordRequest appends a request timestamp for (subjectID, action).
// Call it only after CheckLimit returned Allowed. Requests for
// unconfigured actions are not tracked.
func (l *Limiter) RecordRequest(subjectID, action string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.quotas[action]
	if !ok || q.MaxRequests <= 0 || q.Window <= 0 {
		return
	}

	key := windowKey{subject: subjectID, action: action}
	l.windows[key] = append(l.windows[key], l.now())
}

// Sweep drops entries older than twice the longest configured window and
// removes empty keys, bounding memory in long-lived processes. It also
// runs opportunistically every sweepEvery checks.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
}

// purgeLocked drops timestamps at or before cutoff and returns the
// surviving entries. Empty windows are deleted.
func (l *Limiter) purgeLocked(key windowKey, cutoff time.Time) []time.Time {
	entries := l.windows[key]
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i > 0 {
		entries = entries[i:]
		if len(entries) == 0 {
			delete(l.windows, key)
			return nil
		}
		l.windows[key] = entries
	}
	return entries
}

func (l *Limiter) sweepLocked() {
	var longest time.Duration
	for _, q := range l.quotas {
		if q.Window > longest {
			longest = q.Window
		}
	}
	if longest <= 0 {
		l.windows = make(map[windowKey][]time.Time)
		return
	}

	cutoff := l.now().Add(-2 * longest)
	for key := range l.windows {
		l.purgeLocked(key, cutoff)
	}
}
