package adapter

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// Prober checks whether an address responds within timeout.
// Errors and timeouts both mean "not reachable".
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) bool
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, address string, timeout time.Duration) bool

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	return f(ctx, address, timeout)
}

// DefaultProbePorts are tried by TCPProber; one open port marks a host alive
var DefaultProbePorts = []int{22, 80, 443, 445, 3389}

// TCPProber detects live hosts with TCP connects, which needs no raw socket
// privileges unlike ICMP. A refused connection still proves the host is up.
type TCPProber struct {
	Ports []int
}

// NewTCPProber creates a prober for the given ports (DefaultProbePorts if empty)
func NewTCPProber(ports []int) *TCPProber {
	if len(ports) == 0 {
		ports = DefaultProbePorts
	}
	return &TCPProber{Ports: ports}
}

// Probe dials all ports in parallel and returns on the first answer
func (p *TCPProber) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan bool, len(p.Ports))
	for _, port := range p.Ports {
		go func(port int) {
			results <- probePort(ctx, address, port)
		}(port)
	}

	for range p.Ports {
		if <-results {
			return true
		}
	}
	return false
}

// probePort attempts to connect to a TCP port
func probePort(ctx context.Context, ip string, port int) bool {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return isConnRefused(err)
	}
	conn.Close()
	return true
}

// isConnRefused reports whether the host answered with a reset
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
