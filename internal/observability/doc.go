// Package observability builds the zap logger and the Prometheus metrics
// shared by the verifier, the HTTP middleware and the CLI.
//
// Metrics are registered on a private registry per instance and exposed by
// Handler; a nil *Metrics disables recording.
package observability
