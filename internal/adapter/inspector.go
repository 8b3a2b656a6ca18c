package adapter

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mpifleet/internal/domain"
)

// InspectionBundle is a fixed remote command with a strictly defined output shape
type InspectionBundle struct {
	Version int
	Command string
	// Lines names the expected output lines, in order. Each known field
	// appears exactly once; see Validate.
	Lines []string
}

// DefaultInspectionBundle prints hostname, CPU cores, memory GB and root disk GB,
// one per line.
var DefaultInspectionBundle = InspectionBundle{
	Version: 1,
	Command: `sh -c 'hostname; nproc; free -g | awk "/^Mem:/ {print \$2}"; df -BG / | awk "NR>1 {print \$2}" | tr -d G'`,
	Lines:   []string{FieldHostname, FieldCPUCores, FieldTotalMemoryGB, FieldDiskSpaceGB},
}

// DefaultOSCommand reports kernel name and release for Specs.OS
const DefaultOSCommand = "uname -sr"

// unknownOS is recorded when the OS command fails
const unknownOS = "unknown"

// InspectorConfig holds configuration for the host inspector
type InspectorConfig struct {
	// Timeout for each remote command; distinct from the probe timeout
	Timeout   time.Duration
	Bundle    InspectionBundle
	OSCommand string
}

// DefaultInspectorConfig returns sensible defaults
func DefaultInspectorConfig() InspectorConfig {
	return InspectorConfig{
		Timeout:   10 * time.Second,
		Bundle:    DefaultInspectionBundle,
		OSCommand: DefaultOSCommand,
	}
}

// Inspection is the parsed result for one host
type Inspection struct {
	Hostname string
	Specs    domain.Specs
}

// Inspector gathers hardware facts from a host through a RemoteExecutor
type Inspector struct {
	exec   RemoteExecutor
	config InspectorConfig
	log    zerolog.Logger
}

// NewInspector creates a host inspector
func NewInspector(exec RemoteExecutor, config InspectorConfig, log zerolog.Logger) *Inspector {
	defaults := DefaultInspectorConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Bundle.Command == "" {
		config.Bundle = defaults.Bundle
	}
	if config.OSCommand == "" {
		config.OSCommand = defaults.OSCommand
	}
	return &Inspector{
		exec:   exec,
		config: config,
		log:    log.With().Str("component", "inspector").Logger(),
	}
}

// Inspect runs the inspection bundle on address and parses its output.
// Failures are *domain.InspectionError of kind ErrInspectionConnect or
// ErrInspectionParse.
func (i *Inspector) Inspect(ctx context.Context, address string) (*Inspection, error) {
	output, err := i.exec.Execute(ctx, address, i.config.Bundle.Command, i.config.Timeout)
	if err != nil {
		return nil, &domain.InspectionError{Kind: domain.ErrInspectionConnect, Address: address, Err: err}
	}

	inspection, err := i.config.Bundle.Parse(output)
	if err != nil {
		i.log.Debug().Str("address", address).Int("bundle_version", i.config.Bundle.Version).
			Str("output", output).Msg("Unparseable inspection output")
		return nil, &domain.InspectionError{Kind: domain.ErrInspectionParse, Address: address, Err: err}
	}

	inspection.Specs.OS = i.inspectOS(ctx, address)

	i.log.Debug().
		Str("address", address).
		Str("hostname", inspection.Hostname).
		Int("cpu_cores", inspection.Specs.CPUCores).
		Int("memory_gb", inspection.Specs.TotalMemoryGB).
		Int("disk_gb", inspection.Specs.DiskSpaceGB).
		Msg("Host inspected")

	return inspection, nil
}

// inspectOS is best effort; the four-line bundle is the validated contract
func (i *Inspector) inspectOS(ctx context.Context, address string) string {
	output, err := i.exec.Execute(ctx, address, i.config.OSCommand, i.config.Timeout)
	if err != nil {
		i.log.Debug().Err(err).Str("address", address).Msg("OS command failed")
		return unknownOS
	}
	name := strings.TrimSpace(output)
	if name == "" {
		return unknownOS
	}
	return name
}

// Field names a bundle may list in Lines
const (
	FieldHostname      = "hostname"
	FieldCPUCores      = "cpu_cores"
	FieldTotalMemoryGB = "total_memory_gb"
	FieldDiskSpaceGB   = "disk_space_gb"
)

var bundleFields = []string{FieldHostname, FieldCPUCores, FieldTotalMemoryGB, FieldDiskSpaceGB}

// Validate checks that Lines names every known field exactly once
func (b InspectionBundle) Validate() error {
	seen := make(map[string]bool, len(b.Lines))
	for _, name := range b.Lines {
		if !slices.Contains(bundleFields, name) {
			return fmt.Errorf("bundle v%d: unknown field %q", b.Version, name)
		}
		if seen[name] {
			return fmt.Errorf("bundle v%d: field %q listed twice", b.Version, name)
		}
		seen[name] = true
	}
	for _, name := range bundleFields {
		if !seen[name] {
			return fmt.Errorf("bundle v%d: missing field %q", b.Version, name)
		}
	}
	return nil
}

// Parse reads bundle output in the order given by Lines. The hostname is
// taken verbatim; every other field must be a non-negative integer. Blank
// lines are ignored; any other line count is an error. No field ever falls
// back to a default.
func (b InspectionBundle) Parse(output string) (*Inspection, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) != len(b.Lines) {
		return nil, fmt.Errorf("expected %d lines, got %d", len(b.Lines), len(lines))
	}

	inspection := &Inspection{}
	for idx, field := range b.Lines {
		line := lines[idx]
		if field == FieldHostname {
			inspection.Hostname = line
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %q is not an integer", idx+1, field, line)
		}
		if n < 0 {
			return nil, fmt.Errorf("line %d (%s): negative value %d", idx+1, field, n)
		}
		switch field {
		case FieldCPUCores:
			inspection.Specs.CPUCores = n
		case FieldTotalMemoryGB:
			inspection.Specs.TotalMemoryGB = n
		case FieldDiskSpaceGB:
			inspection.Specs.DiskSpaceGB = n
		}
	}
	return inspection, nil
}

// ParseInspection parses output of DefaultInspectionBundle
func ParseInspection(output string) (*Inspection, error) {
	return DefaultInspectionBundle.Parse(output)
}
