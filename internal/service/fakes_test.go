package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mpifleet/internal/adapter"
	"mpifleet/internal/domain"
)

type fakeHost struct {
	hostname string
	os       string
	specs    domain.Specs
}

// fakeNetwork plays the reachable hosts for both the prober and the executor
type fakeNetwork struct {
	mu         sync.Mutex
	up         map[string]bool
	hosts      map[string]*fakeHost
	inspectOut map[string]string // raw bundle output overrides
	installErr map[string]error
	// installGate, when set, holds every install until closed
	installGate chan struct{}
	installs    atomic.Int32
	probeGate   chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		up:         make(map[string]bool),
		hosts:      make(map[string]*fakeHost),
		inspectOut: make(map[string]string),
		installErr: make(map[string]error),
	}
}

func (n *fakeNetwork) addHost(address, hostname string, cores, mem, disk int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.up[address] = true
	n.hosts[address] = &fakeHost{
		hostname: hostname,
		os:       "Linux 6.1.0",
		specs:    domain.Specs{CPUCores: cores, TotalMemoryGB: mem, DiskSpaceGB: disk},
	}
}

func (n *fakeNetwork) setUp(address string, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.up[address] = up
}

func (n *fakeNetwork) Probe(ctx context.Context, address string, _ time.Duration) bool {
	if n.probeGate != nil {
		<-n.probeGate
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.up[address]
}

func (n *fakeNetwork) Execute(ctx context.Context, address, command string, _ time.Duration) (string, error) {
	switch command {
	case adapter.DefaultInspectionBundle.Command:
		n.mu.Lock()
		defer n.mu.Unlock()
		if out, ok := n.inspectOut[address]; ok {
			return out, nil
		}
		h, ok := n.hosts[address]
		if !ok {
			return "", &adapter.ExecError{Kind: adapter.ExecKindConnect, Address: address, Err: fmt.Errorf("connection refused")}
		}
		return fmt.Sprintf("%s\n%d\n%d\n%d\n", h.hostname, h.specs.CPUCores, h.specs.TotalMemoryGB, h.specs.DiskSpaceGB), nil

	case adapter.DefaultOSCommand:
		n.mu.Lock()
		defer n.mu.Unlock()
		if h, ok := n.hosts[address]; ok {
			return h.os + "\n", nil
		}
		return "", &adapter.ExecError{Kind: adapter.ExecKindConnect, Address: address}

	case DefaultInstallCommand:
		n.installs.Add(1)
		if n.installGate != nil {
			select {
			case <-n.installGate:
			case <-ctx.Done():
				return "", &adapter.ExecError{Kind: adapter.ExecKindTimeout, Address: address, Err: ctx.Err()}
			}
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		if err := n.installErr[address]; err != nil {
			return "", err
		}
		// the package takes some disk
		if h, ok := n.hosts[address]; ok {
			h.specs.DiskSpaceGB -= 1
		}
		return "Setting up openmpi-bin ...\n", nil
	}
	return "", &adapter.ExecError{Kind: adapter.ExecKindNonZeroExit, Address: address, ExitStatus: 127}
}

func newTestOrchestrator(n *fakeNetwork) *Orchestrator {
	cfg := DefaultConfig()
	cfg.Sweep.Timeout = 50 * time.Millisecond
	cfg.InstallTimeout = 5 * time.Second
	return NewOrchestrator(n, n, cfg, nil, zerolog.Nop())
}
