// Package service implements discovery and provisioning for mpifleet.
//
// # Orchestrator
//
// Orchestrator runs scans (sweep, then inspect every host that answered) and
// installs. It owns the per-machine state machine; every status change goes
// through a check-and-set on the Registry, so two install requests for the
// same machine cannot both be accepted.
//
// # Registry
//
// Registry is the in-memory machine table keyed by id, with one mutex per
// machine. It only hands out copies.
//
// # Progress and Events
//
// ProgressReporter aggregates scan progress (completed/total probes) and
// coarse install phases. Every state change and progress update is an Event,
// published on the EventBus and, for scans, on the per-scan channel returned
// by StartScan.
package service
