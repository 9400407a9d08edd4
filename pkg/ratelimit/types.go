package ratelimit

import "time"

// Scope identifies the dimension a limit applies to. The same logical
// request may be checked against several scopes in sequence; the caller
// decides the order and short-circuits on the first denial.
type Scope string

const (
	ScopeUser     Scope = "user"
	ScopeProvider Scope = "provider"
	ScopeIP       Scope = "ip"
	ScopeGlobal   Scope = "global"
)

// Key identifies a single token bucket: the scope plus the identifier
// within it (a user id, a provider id, an IP address). The global scope
// conventionally uses an empty identifier.
type Key struct {
	Scope Scope
	ID    string
}

// ScopeLimit configures the bucket parameters for one scope.
//
// A bucket refills Limit tokens per Window, continuously, and holds at
// most Limit+Burst tokens. A full bucket therefore admits Limit+Burst
// instantaneous requests before the first denial.
type ScopeLimit struct {
	// Limit is the sustained number of requests per Window.
	Limit int64

	// Window is the period over which Limit applies.
	Window time.Duration

	// Burst is extra headroom above Limit for short spikes.
	Burst int64
}

// CheckResult contains the outcome of a single limit check.
type CheckResult struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool

	// Remaining is the whole number of tokens left after this check.
	Remaining int64

	// RetryAfter is how long until enough tokens accumulate for the
	// denied request. Zero when Allowed is true.
	RetryAfter time.Duration

	// Limit is the configured sustained limit for the checked scope.
	Limit int64
}
