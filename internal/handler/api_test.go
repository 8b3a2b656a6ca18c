package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpifleet/internal/adapter"
	"mpifleet/internal/domain"
	"mpifleet/internal/service"
)

// stubFleet answers with canned values and records scan requests
type stubFleet struct {
	mu        sync.Mutex
	machines  []domain.Machine
	err       error
	scanBase  string
	scanCount int
}

func (f *stubFleet) StartScan(ctx context.Context, base string, count int) (<-chan service.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.scanBase, f.scanCount = base, count
	events := make(chan service.Event, 2)
	events <- service.Event{Type: service.EventScanStarted, CycleID: "scan-1", Scan: &service.ScanProgress{ID: "scan-1", State: service.ScanStateRunning, Total: count}}
	events <- service.Event{Type: service.EventScanFinished, CycleID: "scan-1", Scan: &service.ScanProgress{ID: "scan-1", State: service.ScanStateComplete, Total: count}}
	close(events)
	return events, nil
}

func (f *stubFleet) RequestInstall(ctx context.Context, id string) (domain.Machine, error) {
	if f.err != nil {
		return domain.Machine{}, f.err
	}
	return domain.Machine{ID: id, Status: domain.MachineStatusInstalling}, nil
}

func (f *stubFleet) ResetMachine(id string) (domain.Machine, error) {
	if f.err != nil {
		return domain.Machine{}, f.err
	}
	return domain.Machine{ID: id, Status: domain.MachineStatusPending}, nil
}

func (f *stubFleet) ListMachines() []domain.Machine { return f.machines }

func (f *stubFleet) Machine(id string) (domain.Machine, error) {
	for _, m := range f.machines {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Machine{}, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, id)
}

func (f *stubFleet) Progress() service.ProgressSnapshot {
	return service.ProgressSnapshot{Scan: service.ScanProgress{State: service.ScanStateIdle}, Installs: []service.InstallProgress{}}
}

func newTestServer(t *testing.T, fleet Fleet, options Options) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewAPI(t.Context(), fleet, options, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestListMachines(t *testing.T) {
	fleet := &stubFleet{machines: []domain.Machine{
		{ID: "10-0-0-2", Address: "10.0.0.2", Status: domain.MachineStatusPending},
		{ID: "10.0.0.3", Address: "10.0.0.3", Status: domain.MachineStatusError, LastError: "boom"},
	}}
	srv := newTestServer(t, fleet, Options{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/machines", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var list MachineList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "boom", list.Machines[1].LastError)
}

func TestListMachinesEmpty(t *testing.T) {
	srv := newTestServer(t, &stubFleet{machines: []domain.Machine{}}, Options{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/machines", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"machines":[],"count":0}`, string(body))
}

func TestGetMachine(t *testing.T) {
	fleet := &stubFleet{machines: []domain.Machine{{ID: "10-0-0-2", Address: "10.0.0.2", Status: domain.MachineStatusPending}}}
	srv := newTestServer(t, fleet, Options{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/machines/10-0-0-2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m domain.Machine
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, domain.MachineStatusPending, m.Status)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/machines/10-0-0-9", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Contains(t, er.Details, "10-0-0-9")
}

func TestErrorStatusMapping(t *testing.T) {
	transition := &domain.TransitionError{MachineID: "10-0-0-2", From: domain.MachineStatusProbing, To: domain.MachineStatusInstalling}

	tests := []struct {
		name   string
		method string
		path   string
		err    error
		want   int
	}{
		{"install wrong state", http.MethodPost, "/api/machines/10-0-0-2/install", transition, http.StatusConflict},
		{"install unknown", http.MethodPost, "/api/machines/x/install", fmt.Errorf("%w: x", domain.ErrMachineNotFound), http.StatusNotFound},
		{"reset wrong state", http.MethodPost, "/api/machines/10-0-0-2/reset", transition, http.StatusConflict},
		{"scan running", http.MethodPost, "/api/scan", domain.ErrScanInProgress, http.StatusConflict},
		{"scan bad range", http.MethodPost, "/api/scan", fmt.Errorf("%w: bad", domain.ErrInvalidScanRange), http.StatusBadRequest},
		{"unexpected", http.MethodPost, "/api/machines/10-0-0-2/reset", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubFleet{err: tt.err}, Options{DefaultBase: "10.0.0.1", DefaultCount: 3})
			resp, body := do(t, tt.method, srv.URL+tt.path, "")
			assert.Equal(t, tt.want, resp.StatusCode)

			var er ErrorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.NotEmpty(t, er.Error)
			assert.Equal(t, tt.err.Error(), er.Details)
		})
	}
}

func TestRequestInstallAccepted(t *testing.T) {
	srv := newTestServer(t, &stubFleet{}, Options{})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/machines/10-0-0-2/install", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var m domain.Machine
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, domain.MachineStatusInstalling, m.Status)
}

func TestStartScanDefaults(t *testing.T) {
	fleet := &stubFleet{}
	resolved := ""
	srv := newTestServer(t, fleet, Options{
		DefaultBase:  "auto",
		DefaultCount: 10,
		ResolveBase: func(base string) (string, error) {
			resolved = base
			return "192.168.1.0", nil
		},
	})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/scan", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var sp service.ScanProgress
	require.NoError(t, json.Unmarshal(body, &sp))
	assert.Equal(t, service.ScanStateRunning, sp.State)
	assert.Equal(t, "scan-1", sp.ID)

	assert.Equal(t, "auto", resolved)
	fleet.mu.Lock()
	defer fleet.mu.Unlock()
	assert.Equal(t, "192.168.1.0", fleet.scanBase)
	assert.Equal(t, 10, fleet.scanCount)
}

func TestStartScanBody(t *testing.T) {
	fleet := &stubFleet{}
	srv := newTestServer(t, fleet, Options{DefaultBase: "10.0.0.1", DefaultCount: 10})

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/scan", `{"base":"172.16.0.10","count":0}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	fleet.mu.Lock()
	defer fleet.mu.Unlock()
	assert.Equal(t, "172.16.0.10", fleet.scanBase)
	assert.Equal(t, 0, fleet.scanCount, "an explicit zero count is kept")
}

func TestStartScanBadInput(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, &stubFleet{}, Options{DefaultBase: "10.0.0.1"})
		resp, _ := do(t, http.MethodPost, srv.URL+"/api/scan", `{"count":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("base not resolvable", func(t *testing.T) {
		srv := newTestServer(t, &stubFleet{}, Options{
			DefaultBase: "auto",
			ResolveBase: func(string) (string, error) { return "", errors.New("no IPv4 interface") },
		})
		resp, body := do(t, http.MethodPost, srv.URL+"/api/scan", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "no IPv4 interface")
	})
}

func TestGetProgressAndHealth(t *testing.T) {
	srv := newTestServer(t, &stubFleet{}, Options{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/progress", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"scan":{"state":"idle","completed":0,"total":0,"percent":0},"installs":[]}`, string(body))

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubFleet{}, Options{})
	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/machines", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// lan answers probes and inspection for a fixed set of hosts
type lan struct {
	up map[string]string // address -> hostname
}

func (l *lan) Probe(ctx context.Context, address string, _ time.Duration) bool {
	_, ok := l.up[address]
	return ok
}

func (l *lan) Execute(ctx context.Context, address, command string, _ time.Duration) (string, error) {
	hostname, ok := l.up[address]
	if !ok {
		return "", &adapter.ExecError{Kind: adapter.ExecKindConnect, Address: address}
	}
	switch command {
	case adapter.DefaultInspectionBundle.Command:
		return hostname + "\n4\n16\n200\n", nil
	case adapter.DefaultOSCommand:
		return "Linux 6.1.0\n", nil
	}
	return "done\n", nil
}

func TestScanThenInstallOverHTTP(t *testing.T) {
	network := &lan{up: map[string]string{"10.0.0.2": "node-a", "10.0.0.3": "node-b"}}
	cfg := service.DefaultConfig()
	cfg.Sweep.Timeout = 50 * time.Millisecond
	orch := service.NewOrchestrator(network, network, cfg, nil, zerolog.Nop())
	srv := newTestServer(t, orch, Options{DefaultBase: "10.0.0.1", DefaultCount: 4})

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/scan", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return orch.Progress().Scan.State == service.ScanStateComplete
	}, 5*time.Second, 10*time.Millisecond)

	_, body := do(t, http.MethodGet, srv.URL+"/api/machines", "")
	var list MachineList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "node-a", list.Machines[0].Hostname)
	assert.Equal(t, domain.MachineStatusPending, list.Machines[0].Status)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/machines/10-0-0-2/install", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	orch.Wait()

	_, body = do(t, http.MethodGet, srv.URL+"/api/machines/10-0-0-2", "")
	var m domain.Machine
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, domain.MachineStatusInstalled, m.Status)

	// installed machines must be reset before another install
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/machines/10-0-0-2/install", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/machines/10-0-0-2/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
