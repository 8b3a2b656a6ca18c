package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mpifleet/internal/adapter"
	"mpifleet/internal/domain"
)

// DefaultInstallCommand installs OpenMPI on Debian-family hosts without prompting
const DefaultInstallCommand = "sudo -n DEBIAN_FRONTEND=noninteractive apt-get install -y openmpi-bin"

// Config holds orchestrator settings
type Config struct {
	Sweep   adapter.SweepConfig
	Inspect adapter.InspectorConfig
	// InspectConcurrency bounds parallel inspections within a scan
	InspectConcurrency int
	InstallCommand     string
	InstallTimeout     time.Duration
	// InstallConcurrency bounds installs running at the same time
	InstallConcurrency int
	// EventBuffer is the buffer of the per-scan event channel
	EventBuffer int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Sweep:              adapter.DefaultSweepConfig(),
		Inspect:            adapter.DefaultInspectorConfig(),
		InspectConcurrency: 8,
		InstallCommand:     DefaultInstallCommand,
		InstallTimeout:     10 * time.Minute,
		InstallConcurrency: 8,
		EventBuffer:        64,
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.InspectConcurrency <= 0 {
		c.InspectConcurrency = defaults.InspectConcurrency
	}
	if c.InstallCommand == "" {
		c.InstallCommand = defaults.InstallCommand
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = defaults.InstallTimeout
	}
	if c.InstallConcurrency <= 0 {
		c.InstallConcurrency = defaults.InstallConcurrency
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaults.EventBuffer
	}
}

// Orchestrator drives discovery, inspection and installation and owns the
// per-machine state machine:
//
//	probing -> pending -> installing -> installed
//	   |                      |
//	   +-------> error <------+
//
// The registry is the only shared mutable state. Remote calls go through
// the RemoteExecutor and never run under a registry lock.
type Orchestrator struct {
	registry  *Registry
	progress  *ProgressReporter
	bus       *EventBus
	sweeper   *adapter.Sweeper
	inspector *adapter.Inspector
	exec      adapter.RemoteExecutor
	config    Config
	log       zerolog.Logger

	scanning   atomic.Bool
	generation atomic.Uint64
	installSem chan struct{}
	installs   sync.WaitGroup
}

// NewOrchestrator wires a prober and an executor into an orchestrator.
// A nil bus gets a private one.
func NewOrchestrator(prober adapter.Prober, exec adapter.RemoteExecutor, config Config, bus *EventBus, log zerolog.Logger) *Orchestrator {
	config.applyDefaults()
	if bus == nil {
		bus = NewEventBus()
	}
	return &Orchestrator{
		registry:   NewRegistry(),
		progress:   NewProgressReporter(),
		bus:        bus,
		sweeper:    adapter.NewSweeper(prober, config.Sweep, log),
		inspector:  adapter.NewInspector(exec, config.Inspect, log),
		exec:       exec,
		config:     config,
		log:        log.With().Str("component", "orchestrator").Logger(),
		installSem: make(chan struct{}, config.InstallConcurrency),
	}
}

// StartScan sweeps count addresses after base, then inspects every host
// that answered. Input errors and a scan already running are returned
// synchronously; everything else is reported on the returned channel,
// which is closed when the scan ends. The caller must drain it.
//
// Cancelling ctx stops dispatching probes and reports the scan cancelled.
// Hosts already found are still inspected so none is left probing. Only a
// complete scan removes machines that did not answer.
func (o *Orchestrator) StartScan(ctx context.Context, base string, count int) (<-chan Event, error) {
	candidates, err := adapter.Candidates(base, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidScanRange, err)
	}
	if !o.scanning.CompareAndSwap(false, true) {
		return nil, domain.ErrScanInProgress
	}

	gen := o.generation.Add(1)
	cycleID := uuid.NewString()
	events := make(chan Event, o.config.EventBuffer)

	go o.runScan(ctx, cycleID, gen, candidates, events)
	return events, nil
}

// Scan runs a scan to the end and returns its final progress.
// A cancelled scan also returns the context error.
func (o *Orchestrator) Scan(ctx context.Context, base string, count int) (ScanProgress, error) {
	events, err := o.StartScan(ctx, base, count)
	if err != nil {
		return ScanProgress{}, err
	}

	var final ScanProgress
	for ev := range events {
		if ev.Type == EventScanFinished && ev.Scan != nil {
			final = *ev.Scan
		}
	}
	if final.State == ScanStateCancelled {
		return final, ctx.Err()
	}
	return final, nil
}

func (o *Orchestrator) runScan(ctx context.Context, cycleID string, gen uint64, candidates []string, events chan<- Event) {
	// Cleared before the channel closes so a caller that has drained it can
	// start the next scan right away
	defer close(events)
	defer o.scanning.Store(false)

	log := o.log.With().Str("scan_id", cycleID).Logger()
	log.Info().Int("candidates", len(candidates)).Msg("Scan started")

	started := o.progress.Begin(cycleID, len(candidates))
	o.emit(events, Event{Type: EventScanStarted, CycleID: cycleID, Scan: &started})

	result := o.sweeper.Sweep(ctx, candidates, func(p adapter.SweepProgress) {
		if sp, ok := o.progress.Advance(p.Completed); ok {
			o.emit(events, Event{Type: EventScanProgress, CycleID: cycleID, Scan: &sp})
		}
	})

	ids := make(map[string]string, len(result.Reachable))
	for _, address := range result.Reachable {
		m, inspect := o.registry.Discover(address, gen)
		o.emit(events, machineEvent(EventMachineUpdated, cycleID, m))
		if inspect {
			ids[address] = m.ID
		}
	}

	// Inspections finish even if ctx is cancelled; each has its own timeout
	inspectCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(o.config.InspectConcurrency)
	for _, address := range result.Reachable {
		id, ok := ids[address]
		if !ok {
			continue
		}
		g.Go(func() error {
			o.inspectMachine(inspectCtx, events, cycleID, id, address)
			return nil
		})
	}
	_ = g.Wait()

	state := ScanStateComplete
	if result.Cancelled {
		state = ScanStateCancelled
	} else {
		for _, m := range o.registry.Prune(gen) {
			o.progress.Forget(m.ID)
			o.emit(events, machineEvent(EventMachineRemoved, cycleID, m))
		}
	}

	final := o.progress.Finish(state)
	o.emit(events, Event{Type: EventScanFinished, CycleID: cycleID, Scan: &final})

	log.Info().
		Str("state", string(final.State)).
		Int("probed", result.Probed).
		Int("reachable", len(result.Reachable)).
		Msg("Scan finished")
}

// inspectMachine resolves a probing machine to pending or error
func (o *Orchestrator) inspectMachine(ctx context.Context, events chan<- Event, cycleID, id, address string) {
	var (
		m   domain.Machine
		err error
	)
	inspection, inspectErr := o.inspector.Inspect(ctx, address)
	if inspectErr != nil {
		o.log.Warn().Err(inspectErr).Str("address", address).Msg("Inspection failed")
		m, err = o.registry.Fail(id, domain.MachineStatusProbing, inspectErr)
	} else {
		m, err = o.registry.Resolve(id, domain.MachineStatusProbing, domain.MachineStatusPending,
			inspection.Hostname, &inspection.Specs)
	}
	if err != nil {
		o.log.Warn().Err(err).Str("machine", id).Msg("Dropping inspection result")
		return
	}
	o.emit(events, machineEvent(EventMachineUpdated, cycleID, m))
}

// RequestInstall starts installing on a pending machine. The machine is
// installing when this returns; the install itself runs in the background,
// detached from ctx, and ends in installed or error. Any other status gives
// an ErrInvalidStateTransition and changes nothing.
func (o *Orchestrator) RequestInstall(ctx context.Context, id string) (domain.Machine, error) {
	m, err := o.registry.CompareAndSwap(id, domain.MachineStatusPending, domain.MachineStatusInstalling)
	if err != nil {
		return m, err
	}

	cycleID := uuid.NewString()
	ip := o.progress.InstallRequested(id, cycleID)
	o.emit(nil, machineEvent(EventMachineUpdated, cycleID, m))
	o.emit(nil, Event{Type: EventInstallProgress, CycleID: cycleID, Install: &ip})

	o.log.Info().Str("machine", id).Str("address", m.Address).Str("install_id", cycleID).Msg("Install requested")

	o.installs.Add(1)
	go o.runInstall(context.WithoutCancel(ctx), cycleID, m)
	return m, nil
}

func (o *Orchestrator) runInstall(ctx context.Context, cycleID string, m domain.Machine) {
	defer o.installs.Done()

	o.installSem <- struct{}{}
	defer func() { <-o.installSem }()

	o.advanceInstall(m.ID, cycleID, InstallPhaseRunning, "")

	log := o.log.With().Str("machine", m.ID).Str("install_id", cycleID).Logger()
	start := time.Now()

	_, execErr := o.exec.Execute(ctx, m.Address, o.config.InstallCommand, o.config.InstallTimeout)

	var (
		updated domain.Machine
		err     error
	)
	if execErr != nil {
		installErr := &domain.InstallError{Kind: installErrorKind(execErr), Address: m.Address, Err: execErr}
		log.Warn().Err(installErr).Dur("elapsed", time.Since(start)).Msg("Install failed")
		updated, err = o.registry.Fail(m.ID, domain.MachineStatusInstalling, installErr)
	} else {
		var (
			hostname string
			specs    *domain.Specs
		)
		if inspection, inspectErr := o.inspector.Inspect(ctx, m.Address); inspectErr != nil {
			log.Warn().Err(inspectErr).Msg("Post-install inspection failed, keeping previous specs")
		} else {
			hostname, specs = inspection.Hostname, &inspection.Specs
		}
		log.Info().Dur("elapsed", time.Since(start)).Msg("Install finished")
		updated, err = o.registry.Resolve(m.ID, domain.MachineStatusInstalling, domain.MachineStatusInstalled, hostname, specs)
	}
	if err != nil {
		log.Error().Err(err).Msg("Install result could not be recorded")
		return
	}

	o.emit(nil, machineEvent(EventMachineUpdated, cycleID, updated))
	o.advanceInstall(m.ID, cycleID, InstallPhaseFinished, updated.Status)
}

func (o *Orchestrator) advanceInstall(id, cycleID string, phase InstallPhase, outcome domain.MachineStatus) {
	if ip, ok := o.progress.InstallAdvance(id, cycleID, phase, outcome); ok {
		o.emit(nil, Event{Type: EventInstallProgress, CycleID: cycleID, Install: &ip})
	}
}

// installErrorKind maps executor failures: a command that ran and failed is
// an exec error, everything else means the host was not reached in time
func installErrorKind(err error) error {
	if adapter.ExecKindOf(err) == adapter.ExecKindNonZeroExit {
		return domain.ErrInstallExec
	}
	return domain.ErrInstallConnect
}

// ResetMachine returns an errored or installed machine to pending so it can
// be installed again. This is the only way out of error besides a new scan.
func (o *Orchestrator) ResetMachine(id string) (domain.Machine, error) {
	m, err := o.registry.Reset(id)
	if err != nil {
		return m, err
	}
	o.emit(nil, machineEvent(EventMachineUpdated, "", m))
	return m, nil
}

// Restore seeds the registry from persisted machines. The pass counter is
// raised to the newest restored generation so the next complete scan
// supersedes the snapshot.
func (o *Orchestrator) Restore(machines []domain.Machine) {
	for _, m := range machines {
		o.registry.Restore(m)
		for {
			cur := o.generation.Load()
			if m.Generation <= cur || o.generation.CompareAndSwap(cur, m.Generation) {
				break
			}
		}
	}
}

// ListMachines returns snapshots of all machines ordered by address
func (o *Orchestrator) ListMachines() []domain.Machine {
	return o.registry.List()
}

// Machine returns a snapshot of one machine
func (o *Orchestrator) Machine(id string) (domain.Machine, error) {
	return o.registry.Get(id)
}

// Progress returns scan and install progress
func (o *Orchestrator) Progress() ProgressSnapshot {
	return o.progress.Snapshot()
}

// Subscribe registers ch for every event. Slow subscribers miss events.
func (o *Orchestrator) Subscribe(ch chan<- Event) (unsubscribe func()) {
	return o.bus.Subscribe(ch)
}

// Scanning reports whether a scan is running
func (o *Orchestrator) Scanning() bool {
	return o.scanning.Load()
}

// Wait blocks until every accepted install has finished
func (o *Orchestrator) Wait() {
	o.installs.Wait()
}

// emit publishes on the bus and, for scan events, on the scan's channel
func (o *Orchestrator) emit(events chan<- Event, ev Event) {
	ev.Time = time.Now()
	o.bus.Publish(ev)
	if events != nil {
		events <- ev
	}
}

func machineEvent(t EventType, cycleID string, m domain.Machine) Event {
	return Event{Type: t, CycleID: cycleID, Machine: &m}
}
