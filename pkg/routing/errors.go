package routing

import (
	"errors"
	"fmt"
)

// ErrNoEligibleProviders is the sentinel matched by errors.Is for any
// NoEligibleProviderError.
var ErrNoEligibleProviders = errors.New("no eligible providers")

// ErrTelemetryUnavailable is returned by strategies whose ranking
// inputs are missing or stale. The router degrades to round-robin
// instead of surfacing it.
var ErrTelemetryUnavailable = errors.New("telemetry unavailable for strategy")

// NoEligibleProviderError reports that no registered candidate
// satisfied the request's requirements, with the per-candidate
// exclusion counts for diagnosis.
type NoEligibleProviderError struct {
	// Total is the number of registered candidates considered.
	Total int

	// Excluded maps exclusion reason to the number of candidates it
	// removed. A candidate appears under its first failing check only.
	Excluded map[string]int
}

func (e *NoEligibleProviderError) Error() string {
	return fmt.Sprintf("no eligible providers: %d candidates considered, excluded by %v",
		e.Total, e.Excluded)
}

// Is makes errors.Is(err, ErrNoEligibleProviders) match.
func (e *NoEligibleProviderError) Is(target error) bool {
	return target == ErrNoEligibleProviders
}
