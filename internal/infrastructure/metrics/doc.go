// Package metrics records flow run, step, label and snapshot metrics as
// Prometheus collectors. Each Recorder owns the registry it was built with,
// so tests and multiple servers in one process do not collide.
package metrics
