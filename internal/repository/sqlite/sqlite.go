package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"mpifleet/internal/domain"
	"mpifleet/internal/repository"

	_ "modernc.org/sqlite"
)

var _ repository.MachineStore = (*Repository)(nil)

// Repository implements repository.MachineStore using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS machines (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL UNIQUE,
		hostname TEXT,
		status TEXT NOT NULL,
		specs JSON,
		last_error TEXT,
		generation INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_machines_status ON machines(status);
	CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// SaveMachine inserts or replaces a machine snapshot
func (r *Repository) SaveMachine(ctx context.Context, m domain.Machine) error {
	specs, err := marshalToNull(m.Specs)
	if err != nil {
		return fmt.Errorf("failed to marshal specs: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO machines (id, address, hostname, status, specs, last_error, generation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			hostname = excluded.hostname,
			status = excluded.status,
			specs = excluded.specs,
			last_error = excluded.last_error,
			generation = excluded.generation,
			updated_at = excluded.updated_at
	`, m.ID, m.Address, stringToNull(m.Hostname), string(m.Status), specs,
		stringToNull(m.LastError), int64(m.Generation), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save machine %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMachine removes a machine; deleting an unknown id is not an error
func (r *Repository) DeleteMachine(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete machine %s: %w", id, err)
	}
	return nil
}

// ListMachines returns all stored machines ordered by address
func (r *Repository) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, address, hostname, status, specs, last_error, generation, updated_at
		FROM machines
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	var machines []domain.Machine
	for rows.Next() {
		var (
			m                        domain.Machine
			status, updatedAt        string
			hostname, specs, lastErr sql.NullString
			generation               int64
		)
		if err := rows.Scan(&m.ID, &m.Address, &hostname, &status, &specs, &lastErr, &generation, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}

		m.Hostname = nullToString(hostname)
		m.Status = domain.MachineStatus(status)
		m.LastError = nullToString(lastErr)
		m.Generation = uint64(generation)
		if specs.Valid && specs.String != "" {
			m.Specs = &domain.Specs{}
			if err := unmarshalJSONField(specs, m.Specs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal specs for %s: %w", m.ID, err)
			}
		}
		if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("machine %s: %w", m.ID, err)
		}

		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating machines: %w", err)
	}

	slices.SortFunc(machines, func(a, b domain.Machine) int {
		return domain.CompareAddresses(a.Address, b.Address)
	})
	return machines, nil
}

// SaveScan inserts or updates a scan record
func (r *Repository) SaveScan(ctx context.Context, scan repository.ScanRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scans (id, state, completed, total, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			completed = excluded.completed,
			total = excluded.total,
			finished_at = excluded.finished_at
	`, scan.ID, scan.State, scan.Completed, scan.Total, formatTime(scan.StartedAt), timeToNull(scan.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save scan %s: %w", scan.ID, err)
	}
	return nil
}

// ListScans returns the most recent scans first. limit <= 0 returns all.
func (r *Repository) ListScans(ctx context.Context, limit int) ([]repository.ScanRecord, error) {
	query := `SELECT id, state, completed, total, started_at, finished_at FROM scans ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var scans []repository.ScanRecord
	for rows.Next() {
		var (
			s          repository.ScanRecord
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.State, &s.Completed, &s.Total, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scan record: %w", err)
		}
		if s.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.ID, err)
		}
		if s.FinishedAt, err = nullToTime(finishedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.ID, err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scans: %w", err)
	}
	return scans, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
