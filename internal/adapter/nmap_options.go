package adapter

// NmapOption is a functional option for configuring NmapProber
type NmapOption func(*NmapProber)

// WithNmapBinary sets an explicit path to the nmap binary
func WithNmapBinary(path string) NmapOption {
	return func(p *NmapProber) {
		p.binaryPath = path
	}
}

// WithNameResolution enables reverse DNS during the ping scan.
// Off by default because it slows every probe down.
func WithNameResolution(enabled bool) NmapOption {
	return func(p *NmapProber) {
		p.resolveNames = enabled
	}
}

// WithPrivilegedScan tells nmap it may use raw sockets (--privileged)
func WithPrivilegedScan(enabled bool) NmapOption {
	return func(p *NmapProber) {
		p.privileged = enabled
	}
}
