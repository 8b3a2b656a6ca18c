package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// MachineStatus represents where a machine is in its provisioning lifecycle
type MachineStatus string

const (
	MachineStatusPending    MachineStatus = "pending"    // Inspected, ready to provision
	MachineStatusProbing    MachineStatus = "probing"    // Initial inspection in flight
	MachineStatusInstalling MachineStatus = "installing" // Install command running
	MachineStatusInstalled  MachineStatus = "installed"  // Install succeeded
	MachineStatusError      MachineStatus = "error"      // Inspection or install failed
)

// IsTerminal reports whether the status ends an install cycle
func (s MachineStatus) IsTerminal() bool {
	return s == MachineStatusInstalled || s == MachineStatusError
}

// Valid reports whether s is a known status
func (s MachineStatus) Valid() bool {
	switch s {
	case MachineStatusPending, MachineStatusProbing, MachineStatusInstalling,
		MachineStatusInstalled, MachineStatusError:
		return true
	}
	return false
}

// Specs is the hardware/software record gathered by inspection.
// It is always written as a whole.
type Specs struct {
	OS            string `json:"os"`
	CPUCores      int    `json:"cpu_cores"`
	TotalMemoryGB int    `json:"total_memory_gb"`
	DiskSpaceGB   int    `json:"disk_space_gb"`
}

// Machine is the unit of discovery and provisioning
type Machine struct {
	ID         string        `json:"id"`
	Address    string        `json:"address"`
	Hostname   string        `json:"hostname,omitempty"`
	Status     MachineStatus `json:"status"`
	Specs      *Specs        `json:"specs,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Generation uint64        `json:"generation"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewMachine creates a machine for a freshly responding address
func NewMachine(address string) *Machine {
	return &Machine{
		ID:        MachineID(address),
		Address:   address,
		Status:    MachineStatusProbing,
		UpdatedAt: time.Now(),
	}
}

// Clone returns a deep copy safe to hand to other goroutines
func (m *Machine) Clone() Machine {
	c := *m
	if m.Specs != nil {
		specs := *m.Specs
		c.Specs = &specs
	}
	return c
}

// Label returns the hostname if known, otherwise the address
func (m *Machine) Label() string {
	if m.Hostname != "" {
		return m.Hostname
	}
	return m.Address
}

// MachineID derives a stable identifier from an address (dots become dashes)
func MachineID(address string) string {
	return strings.ReplaceAll(address, ".", "-")
}

// ParseIPv4 validates a dotted-quad IPv4 address
func ParseIPv4(address string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("invalid address %q: only IPv4 supported", address)
	}
	return addr, nil
}

// CompareAddresses orders two dotted-quad addresses numerically.
// Unparseable addresses sort after valid ones, then lexically.
func CompareAddresses(a, b string) int {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return pa.Compare(pb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
