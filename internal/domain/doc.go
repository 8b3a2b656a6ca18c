// Package domain defines the core types for mpifleet, the fleet discovery and
// provisioning orchestrator.
//
// # Core Types
//
// Machine is a host that answered the address sweep. It carries a status, the
// Specs gathered by inspection, and the reason for its last failure.
//
// MachineStatus is the provisioning state machine:
//
//	probing -> pending -> installing -> installed
//	   |                      |
//	   +------> error <-------+
//
// Probing is internal to inspection. Provisioning is only offered on pending
// machines, and installed/error end an install cycle.
//
// # Errors
//
// The error taxonomy (ErrProbeTimeout, ErrInspectionConnect, ErrInspectionParse,
// ErrInstallConnect, ErrInstallExec, ErrInvalidStateTransition) is shared by all
// packages. Typed errors (InspectionError, InstallError, TransitionError) add
// context and unwrap to those sentinels.
//
// # Design Principles
//
// - No infrastructure dependencies
// - Values are copied out of the registry, never shared
package domain
