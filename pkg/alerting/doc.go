// Package alerting evaluates operator-defined threshold rules against
// metrics aggregates and manages the alert lifecycle.
//
// A rule has at most one open alert at any time: firing ->
// acknowledged (external action) -> resolved, or firing -> resolved
// directly when the condition clears. Creation and resolution are
// atomic in the store, so manual and scheduled evaluations racing on
// the same rule cannot duplicate alerts. State transitions are
// published on a buffered pub/sub feed for external notification
// systems.
package alerting
