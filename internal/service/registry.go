package service

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"mpifleet/internal/domain"
)

// entry guards one machine. Status, specs, hostname and last error only
// change together under mu.
type entry struct {
	mu      sync.Mutex
	machine domain.Machine
}

// Registry is the in-memory machine table. Every method returns copies.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*entry
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		machines: make(map[string]*entry),
		now:      time.Now,
	}
}

// Discover records that address responded in discovery pass generation.
//
// A new address becomes a probing machine. A known machine is moved back to
// probing for re-inspection, keeping its previous specs until they are
// replaced. A machine that is installing keeps its status; inspect is false
// for it so the running install is not disturbed.
func (r *Registry) Discover(address string, generation uint64) (m domain.Machine, inspect bool) {
	id := domain.MachineID(address)

	r.mu.Lock()
	e, ok := r.machines[id]
	if !ok {
		e = &entry{machine: *domain.NewMachine(address)}
		e.machine.Generation = generation
		e.machine.UpdatedAt = r.now()
		r.machines[id] = e
		snapshot := e.machine.Clone()
		r.mu.Unlock()
		return snapshot, true
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.Generation = generation
	if e.machine.Status == domain.MachineStatusInstalling {
		return e.machine.Clone(), false
	}
	e.machine.Status = domain.MachineStatusProbing
	e.machine.LastError = ""
	e.machine.UpdatedAt = r.now()
	return e.machine.Clone(), true
}

// Get returns a snapshot of one machine
func (r *Registry) Get(id string) (domain.Machine, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.Machine{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Clone(), nil
}

// List returns snapshots of all machines ordered by address
func (r *Registry) List() []domain.Machine {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.machines))
	for _, e := range r.machines {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	machines := make([]domain.Machine, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		machines = append(machines, e.machine.Clone())
		e.mu.Unlock()
	}
	slices.SortFunc(machines, func(a, b domain.Machine) int {
		return domain.CompareAddresses(a.Address, b.Address)
	})
	return machines
}

// Len returns the number of machines
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}

// CompareAndSwap moves machine id from status from to status to in one step.
// If the current status is not from nothing changes and a *TransitionError
// is returned.
func (r *Registry) CompareAndSwap(id string, from, to domain.MachineStatus) (domain.Machine, error) {
	return r.update(id, to, func(cur domain.MachineStatus) bool { return cur == from }, func(m *domain.Machine) {
		if to != domain.MachineStatusError {
			m.LastError = ""
		}
	})
}

// Resolve ends a probing or installing step successfully. Hostname and specs
// are applied only when set; specs are copied in whole.
func (r *Registry) Resolve(id string, from, to domain.MachineStatus, hostname string, specs *domain.Specs) (domain.Machine, error) {
	return r.update(id, to, func(cur domain.MachineStatus) bool { return cur == from }, func(m *domain.Machine) {
		if hostname != "" {
			m.Hostname = hostname
		}
		if specs != nil {
			s := *specs
			m.Specs = &s
		}
		m.LastError = ""
	})
}

// Fail moves machine id from status from to error and records cause.
// Specs are left as they were.
func (r *Registry) Fail(id string, from domain.MachineStatus, cause error) (domain.Machine, error) {
	msg := "unknown error"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	return r.update(id, domain.MachineStatusError, func(cur domain.MachineStatus) bool { return cur == from }, func(m *domain.Machine) {
		m.LastError = msg
	})
}

// Reset returns an errored or installed machine to pending
func (r *Registry) Reset(id string) (domain.Machine, error) {
	return r.update(id, domain.MachineStatusPending, domain.MachineStatus.IsTerminal, func(m *domain.Machine) {
		m.LastError = ""
	})
}

// Prune removes machines last seen before generation and returns them.
// Installing machines are never removed.
func (r *Registry) Prune(generation uint64) []domain.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Machine
	for id, e := range r.machines {
		e.mu.Lock()
		stale := e.machine.Generation < generation && e.machine.Status != domain.MachineStatusInstalling
		if stale {
			removed = append(removed, e.machine.Clone())
			delete(r.machines, id)
		}
		e.mu.Unlock()
	}
	slices.SortFunc(removed, func(a, b domain.Machine) int {
		return domain.CompareAddresses(a.Address, b.Address)
	})
	return removed
}

// interruptedError is recorded on restored machines whose step never finished
const interruptedError = "interrupted before completion"

// Restore inserts a persisted machine, replacing any entry with the same id.
// A machine saved mid-probe or mid-install comes back as error since nothing
// is running for it anymore.
func (r *Registry) Restore(m domain.Machine) {
	m = m.Clone()
	if m.ID == "" {
		m.ID = domain.MachineID(m.Address)
	}
	if m.Status == domain.MachineStatusProbing || m.Status == domain.MachineStatusInstalling {
		m.Status = domain.MachineStatusError
		m.LastError = interruptedError
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m.ID] = &entry{machine: m}
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.machines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, id)
	}
	return e, nil
}

// update applies fn and sets status to when allowed(current) holds
func (r *Registry) update(id string, to domain.MachineStatus, allowed func(domain.MachineStatus) bool, fn func(*domain.Machine)) (domain.Machine, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.Machine{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !allowed(e.machine.Status) {
		return e.machine.Clone(), &domain.TransitionError{MachineID: id, From: e.machine.Status, To: to}
	}
	fn(&e.machine)
	e.machine.Status = to
	e.machine.UpdatedAt = r.now()
	return e.machine.Clone(), nil
}
