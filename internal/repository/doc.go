// Package repository persists what the orchestrator learned, so a restarted
// server can show the fleet it last saw.
//
// The orchestrator never reads or writes storage itself. Recorder subscribes
// to orchestrator events and mirrors machine snapshots and finished scans into
// a MachineStore; on startup the stored machines are handed back through
// Orchestrator.Restore.
//
// The sqlite subpackage implements MachineStore on modernc.org/sqlite and
// migrates its schema on open.
package repository
