package adapter

import (
	"context"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"
)

// NmapProber checks reachability with an nmap ping scan (-sn) of one host.
// Run as root it uses ICMP and ARP; otherwise nmap falls back to TCP pings.
type NmapProber struct {
	binaryPath   string
	resolveNames bool
	privileged   bool
	log          zerolog.Logger
}

// NewNmapProber creates an nmap-backed prober
func NewNmapProber(log zerolog.Logger, opts ...NmapOption) *NmapProber {
	p := &NmapProber{
		log: log.With().Str("component", "nmap").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether the nmap binary can be run
func (p *NmapProber) Available(ctx context.Context) bool {
	opts := []nmap.Option{
		nmap.WithTargets("127.0.0.1"),
		nmap.WithListScan(),
	}
	if p.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(p.binaryPath))
	}
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return false
	}
	_, _, err = scanner.Run()
	return err == nil
}

// Probe runs a ping scan against address bounded by timeout
func (p *NmapProber) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(ctx, p.options(address, timeout)...)
	if err != nil {
		p.log.Warn().Err(err).Str("address", address).Msg("Failed to create scanner")
		return false
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		p.log.Debug().Err(err).Str("address", address).Msg("Ping scan failed")
		return false
	}
	if warnings != nil && len(*warnings) > 0 {
		p.log.Debug().Strs("warnings", *warnings).Str("address", address).Msg("Ping scan warnings")
	}

	return hostUp(result, address)
}

// options builds the nmap arguments for a single-host ping scan
func (p *NmapProber) options(address string, timeout time.Duration) []nmap.Option {
	opts := []nmap.Option{
		nmap.WithTargets(address),
		nmap.WithPingScan(),
		nmap.WithHostTimeout(timeout),
	}
	if !p.resolveNames {
		opts = append(opts, nmap.WithDisabledDNSResolution())
	}
	if p.privileged {
		opts = append(opts, nmap.WithPrivileged())
	}
	if p.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(p.binaryPath))
	}
	return opts
}

// hostUp reports whether the scan result lists address as up
func hostUp(result *nmap.Run, address string) bool {
	if result == nil {
		return false
	}
	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" && addr.Addr == address {
				return true
			}
		}
	}
	return false
}
