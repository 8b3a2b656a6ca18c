// Package adapter implements the network-facing pieces of mpifleet.
//
// Nothing in this package keeps machine state; it reaches hosts and reports
// what it saw. The service package owns the registry and the state machine.
//
// # Remote Execution
//
// RemoteExecutor runs one shell command on a host and returns stdout, failing
// with an *ExecError of kind connect, timeout or non_zero_exit. SSHExecutor is
// the production implementation on golang.org/x/crypto/ssh.
//
// # Reachability
//
// Prober answers "did this address respond within the timeout". TCPProber
// connects to a short list of common ports; NmapProber runs an nmap ping scan.
//
// # Address Sweep
//
// Sweeper expands a base address into candidates (Candidates) and probes them
// on a fixed-size worker pool, reporting completed/total after every probe.
//
// # Inspection
//
// Inspector runs a versioned command bundle (hostname, nproc, free, df) and
// parses its four-line output strictly. Short output or a non-integer line is
// ErrInspectionParse; executor failures are ErrInspectionConnect.
package adapter
