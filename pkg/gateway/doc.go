// Package gateway wires the dispatch components into one explicit
// context object: admission checks, provider selection, and outcome
// accounting for a request flow through a single Gateway constructed
// at process start.
package gateway
