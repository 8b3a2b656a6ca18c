package service

import (
	"slices"
	"strings"
	"sync"
	"time"

	"mpifleet/internal/domain"
)

// ScanState is the state of the most recent scan
type ScanState string

const (
	ScanStateIdle      ScanState = "idle" // No scan has run yet
	ScanStateRunning   ScanState = "running"
	ScanStateComplete  ScanState = "complete"
	ScanStateCancelled ScanState = "cancelled"
)

// ScanProgress counts probed candidates for one scan
type ScanProgress struct {
	ID         string    `json:"id,omitempty"`
	State      ScanState `json:"state"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
	Percent    int       `json:"percent"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// InstallPhase is a coarse install step. Phases only move forward within
// one install cycle.
type InstallPhase string

const (
	InstallPhaseRequested InstallPhase = "requested"
	InstallPhaseRunning   InstallPhase = "running"
	InstallPhaseFinished  InstallPhase = "finished"
)

func (p InstallPhase) rank() int {
	switch p {
	case InstallPhaseRequested:
		return 1
	case InstallPhaseRunning:
		return 2
	case InstallPhaseFinished:
		return 3
	}
	return 0
}

// InstallProgress tracks one install cycle on one machine
type InstallProgress struct {
	MachineID string               `json:"machine_id"`
	CycleID   string               `json:"cycle_id"`
	Phase     InstallPhase         `json:"phase"`
	Outcome   domain.MachineStatus `json:"outcome,omitempty"` // Set once finished
	UpdatedAt time.Time            `json:"updated_at"`
}

// ProgressSnapshot is the combined view served by the API
type ProgressSnapshot struct {
	Scan     ScanProgress      `json:"scan"`
	Installs []InstallProgress `json:"installs"`
}

// ProgressReporter aggregates scan and install progress
type ProgressReporter struct {
	mu       sync.Mutex
	scan     ScanProgress
	installs map[string]InstallProgress
	now      func() time.Time
}

// NewProgressReporter creates an idle reporter
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		scan:     ScanProgress{State: ScanStateIdle},
		installs: make(map[string]InstallProgress),
		now:      time.Now,
	}
}

// Begin starts counting a new scan over total candidates
func (p *ProgressReporter) Begin(id string, total int) ScanProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scan = ScanProgress{
		ID:        id,
		State:     ScanStateRunning,
		Total:     total,
		StartedAt: p.now(),
	}
	return p.scan
}

// Advance records completed probes. Regressions, overshoot and updates
// outside a running scan are ignored and reported as false.
func (p *ProgressReporter) Advance(completed int) (ScanProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scan.State != ScanStateRunning || completed <= p.scan.Completed || completed > p.scan.Total {
		return p.scan, false
	}
	p.scan.Completed = completed
	p.scan.Percent = percent(completed, p.scan.Total)
	return p.scan, true
}

// Finish ends the running scan in state complete or cancelled
func (p *ProgressReporter) Finish(state ScanState) ScanProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scan.State != ScanStateRunning {
		return p.scan
	}
	p.scan.State = state
	p.scan.FinishedAt = p.now()
	if state == ScanStateComplete && p.scan.Total == 0 {
		p.scan.Percent = 100
	}
	return p.scan
}

// Scan returns the current scan progress
func (p *ProgressReporter) Scan() ScanProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scan
}

// InstallRequested starts a new install cycle for a machine, replacing any
// earlier cycle
func (p *ProgressReporter) InstallRequested(machineID, cycleID string) InstallProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip := InstallProgress{
		MachineID: machineID,
		CycleID:   cycleID,
		Phase:     InstallPhaseRequested,
		UpdatedAt: p.now(),
	}
	p.installs[machineID] = ip
	return ip
}

// InstallAdvance moves an install cycle forward. Updates for a stale cycle
// or a phase that is not later than the current one are ignored.
func (p *ProgressReporter) InstallAdvance(machineID, cycleID string, phase InstallPhase, outcome domain.MachineStatus) (InstallProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip, ok := p.installs[machineID]
	if !ok || ip.CycleID != cycleID || phase.rank() <= ip.Phase.rank() {
		return ip, false
	}
	ip.Phase = phase
	if phase == InstallPhaseFinished {
		ip.Outcome = outcome
	}
	ip.UpdatedAt = p.now()
	p.installs[machineID] = ip
	return ip, true
}

// Forget drops install progress for machines that no longer exist
func (p *ProgressReporter) Forget(machineID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.installs, machineID)
}

// Snapshot returns scan progress and every known install cycle
func (p *ProgressReporter) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	installs := make([]InstallProgress, 0, len(p.installs))
	for _, ip := range p.installs {
		installs = append(installs, ip)
	}
	slices.SortFunc(installs, func(a, b InstallProgress) int {
		return strings.Compare(a.MachineID, b.MachineID)
	})
	return ProgressSnapshot{Scan: p.scan, Installs: installs}
}

func percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}
