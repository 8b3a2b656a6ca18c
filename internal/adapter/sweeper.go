package adapter

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mpifleet/internal/domain"
)

// maxLastOctet is the highest host octet swept; .255 is the /24 broadcast
const maxLastOctet = 254

// SweepConfig holds configuration for the address sweeper
type SweepConfig struct {
	// Timeout for a single reachability probe
	Timeout time.Duration
	// MaxConcurrent is the size of the probe worker pool
	MaxConcurrent int
}

// DefaultSweepConfig returns defaults suited to a home or lab /24
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Timeout:       500 * time.Millisecond,
		MaxConcurrent: 64,
	}
}

// SweepProgress is reported after every probe, success or failure
type SweepProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// SweepResult is the outcome of one sweep
type SweepResult struct {
	// Reachable addresses in candidate order
	Reachable []string
	// Probed counts finished probes; less than Total only when cancelled
	Probed    int
	Total     int
	Cancelled bool
}

// Sweeper probes a bounded list of candidate addresses with a worker pool
type Sweeper struct {
	prober Prober
	config SweepConfig
	log    zerolog.Logger
}

// NewSweeper creates a sweeper using prober for reachability checks
func NewSweeper(prober Prober, config SweepConfig, log zerolog.Logger) *Sweeper {
	defaults := DefaultSweepConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	return &Sweeper{
		prober: prober,
		config: config,
		log:    log.With().Str("component", "sweeper").Logger(),
	}
}

// Sweep probes every candidate and returns the reachable subset.
//
// onProgress is called after each probe with a strictly increasing Completed
// count; calls are serialized, so it must not block for long. Cancelling ctx
// stops dispatching new probes. Probes already running finish on their own
// timeout.
func (s *Sweeper) Sweep(ctx context.Context, candidates []string, onProgress func(SweepProgress)) SweepResult {
	total := len(candidates)
	result := SweepResult{Total: total}
	if total == 0 {
		return result
	}

	workers := s.config.MaxConcurrent
	if workers > total {
		workers = total
	}

	// In-flight probes are not cut short by cancellation
	probeCtx := context.WithoutCancel(ctx)

	var (
		mu        sync.Mutex
		completed int
		reachable = make([]bool, total)
		wg        sync.WaitGroup
	)

	// Unbuffered so dispatch stops as soon as ctx is cancelled
	jobs := make(chan int)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				ok := s.prober.Probe(probeCtx, candidates[idx], s.config.Timeout)
				if !ok {
					s.log.Debug().Err(domain.ErrProbeTimeout).Str("address", candidates[idx]).Msg("Host not reachable")
				}

				mu.Lock()
				reachable[idx] = ok
				completed++
				if onProgress != nil {
					onProgress(SweepProgress{Completed: completed, Total: total})
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for idx := range candidates {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		select {
		case <-ctx.Done():
			result.Cancelled = true
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	result.Probed = completed
	for idx, ok := range reachable {
		if ok {
			result.Reachable = append(result.Reachable, candidates[idx])
		}
	}

	s.log.Info().
		Int("total", total).
		Int("probed", result.Probed).
		Int("reachable", len(result.Reachable)).
		Bool("cancelled", result.Cancelled).
		Msg("Sweep finished")

	return result
}

// Candidates expands a base address and a count into the addresses that
// follow it in the last octet: 192.168.1.100 and 3 give .101, .102, .103.
func Candidates(base string, count int) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("invalid sweep count %d", count)
	}
	addr, err := domain.ParseIPv4(base)
	if err != nil {
		return nil, err
	}

	octets := addr.As4()
	first := int(octets[3])
	// An empty sweep never touches the last octet, so any base is fine
	if count > 0 && first+count > maxLastOctet {
		return nil, fmt.Errorf("sweep of %d addresses after %s runs past .%d", count, base, maxLastOctet)
	}

	ips := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		next := octets
		next[3] = byte(first + i)
		ips = append(ips, netip.AddrFrom4(next).String())
	}
	return ips, nil
}

// LocalBaseAddress returns the first non-loopback IPv4 address of this host
// with the last octet zeroed, so a sweep covers the local /24.
func LocalBaseAddress() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	return baseFromAddrs(addrs)
}

func baseFromAddrs(addrs []net.Addr) (string, error) {
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		octets := ip.As4()
		octets[3] = 0
		return netip.AddrFrom4(octets).String(), nil
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
