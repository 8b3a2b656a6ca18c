// Package metrics exposes fleet state as Prometheus metrics. It is fed by
// orchestrator events only and never queries the orchestrator.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mpifleet/internal/domain"
	"mpifleet/internal/service"
)

const namespace = "mpifleet"

var statuses = []domain.MachineStatus{
	domain.MachineStatusProbing,
	domain.MachineStatusPending,
	domain.MachineStatusInstalling,
	domain.MachineStatusInstalled,
	domain.MachineStatusError,
}

// Metrics holds the collectors and the state needed to keep gauges exact
type Metrics struct {
	registry *prometheus.Registry

	machines        *prometheus.GaugeVec
	scans           *prometheus.CounterVec
	scanPercent     prometheus.Gauge
	hostsFound      prometheus.Counter
	installs        *prometheus.CounterVec
	installDuration prometheus.Histogram

	mu        sync.Mutex
	status    map[string]domain.MachineStatus // machine id -> last status
	requested map[string]time.Time            // install cycle id -> requested at
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		machines: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fleet",
				Name:      "machines",
				Help:      "Number of known machines by status",
			},
			[]string{"status"},
		),
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "total",
				Help:      "Finished scans by final state",
			},
			[]string{"state"},
		),
		scanPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "progress_percent",
			Help:      "Percent of candidates probed in the current or last scan",
		}),
		hostsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "machines_resolved_total",
			Help:      "Inspections that ended in pending or error",
		}),
		installs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "install",
				Name:      "total",
				Help:      "Finished installs by outcome",
			},
			[]string{"outcome"},
		),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "duration_seconds",
			Help:      "Time from install request to outcome",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~17min
		}),
		status:    make(map[string]domain.MachineStatus),
		requested: make(map[string]time.Time),
	}

	m.registry.MustRegister(
		m.machines,
		m.scans,
		m.scanPercent,
		m.hostsFound,
		m.installs,
		m.installDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range statuses {
		m.machines.WithLabelValues(string(s)).Set(0)
	}
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Seed counts machines restored at startup
func (m *Metrics) Seed(machines []domain.Machine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mc := range machines {
		m.status[mc.ID] = mc.Status
	}
	m.refreshMachines()
}

// Run observes events until ctx is done or events is closed
func (m *Metrics) Run(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Observe updates the collectors for one event
func (m *Metrics) Observe(ev service.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case service.EventScanStarted, service.EventScanProgress:
		if ev.Scan != nil {
			m.scanPercent.Set(float64(ev.Scan.Percent))
		}

	case service.EventScanFinished:
		if ev.Scan != nil {
			m.scanPercent.Set(float64(ev.Scan.Percent))
			m.scans.WithLabelValues(string(ev.Scan.State)).Inc()
		}

	case service.EventMachineUpdated:
		if ev.Machine == nil {
			return
		}
		prev := m.status[ev.Machine.ID]
		if prev == domain.MachineStatusProbing &&
			(ev.Machine.Status == domain.MachineStatusPending || ev.Machine.Status == domain.MachineStatusError) {
			m.hostsFound.Inc()
		}
		m.status[ev.Machine.ID] = ev.Machine.Status
		m.refreshMachines()

	case service.EventMachineRemoved:
		if ev.Machine == nil {
			return
		}
		delete(m.status, ev.Machine.ID)
		m.refreshMachines()

	case service.EventInstallProgress:
		if ev.Install == nil {
			return
		}
		m.observeInstall(*ev.Install)
	}
}

func (m *Metrics) observeInstall(ip service.InstallProgress) {
	switch ip.Phase {
	case service.InstallPhaseRequested:
		m.requested[ip.CycleID] = ip.UpdatedAt
	case service.InstallPhaseFinished:
		m.installs.WithLabelValues(string(ip.Outcome)).Inc()
		if at, ok := m.requested[ip.CycleID]; ok {
			m.installDuration.Observe(ip.UpdatedAt.Sub(at).Seconds())
			delete(m.requested, ip.CycleID)
		}
	}
}

// refreshMachines recomputes the status gauge; caller holds mu
func (m *Metrics) refreshMachines() {
	counts := make(map[domain.MachineStatus]int, len(statuses))
	for _, s := range m.status {
		counts[s]++
	}
	for _, s := range statuses {
		m.machines.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
