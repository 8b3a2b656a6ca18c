package repository

import (
	"context"
	"time"

	"mpifleet/internal/domain"
)

// ScanRecord is the persisted summary of one scan
type ScanRecord struct {
	ID         string
	State      string
	Completed  int
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// MachineStore persists machine snapshots and scan history
type MachineStore interface {
	// Machines
	SaveMachine(ctx context.Context, m domain.Machine) error
	DeleteMachine(ctx context.Context, id string) error
	ListMachines(ctx context.Context) ([]domain.Machine, error)

	// Scans
	SaveScan(ctx context.Context, scan ScanRecord) error
	ListScans(ctx context.Context, limit int) ([]ScanRecord, error)

	// Close releases resources
	Close() error
}
