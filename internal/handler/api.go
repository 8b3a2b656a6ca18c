package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"mpifleet/internal/domain"
	"mpifleet/internal/service"
)

// Fleet is the part of the orchestrator the API drives
type Fleet interface {
	StartScan(ctx context.Context, base string, count int) (<-chan service.Event, error)
	RequestInstall(ctx context.Context, id string) (domain.Machine, error)
	ResetMachine(id string) (domain.Machine, error)
	ListMachines() []domain.Machine
	Machine(id string) (domain.Machine, error)
	Progress() service.ProgressSnapshot
}

// Options fills in scan requests that leave fields out
type Options struct {
	DefaultBase  string
	DefaultCount int
	// ResolveBase turns the requested base into an address, e.g. for "auto".
	// Nil passes the base through.
	ResolveBase func(base string) (string, error)
}

// ScanRequest is the body of POST /api/scan. Both fields are optional.
type ScanRequest struct {
	Base  string `json:"base,omitempty"`
	Count *int   `json:"count,omitempty"`
}

// MachineList is the body of GET /api/machines
type MachineList struct {
	Machines []domain.Machine `json:"machines"`
	Count    int              `json:"count"`
}

// API serves the fleet over HTTP
type API struct {
	fleet   Fleet
	options Options
	// ctx outlives single requests; scans started over HTTP run under it
	ctx context.Context
	log zerolog.Logger
}

// NewAPI creates the API. Scans it starts are cancelled when ctx is done.
func NewAPI(ctx context.Context, fleet Fleet, options Options, log zerolog.Logger) *API {
	return &API{
		fleet:   fleet,
		options: options,
		ctx:     ctx,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Register adds the API routes to mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/machines", a.ListMachines)
	mux.HandleFunc("GET /api/machines/{id}", a.GetMachine)
	mux.HandleFunc("POST /api/machines/{id}/install", a.RequestInstall)
	mux.HandleFunc("POST /api/machines/{id}/reset", a.ResetMachine)
	mux.HandleFunc("POST /api/scan", a.StartScan)
	mux.HandleFunc("GET /api/progress", a.GetProgress)
	mux.HandleFunc("GET /healthz", a.Health)
}

// ListMachines handles GET /api/machines
func (a *API) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines := a.fleet.ListMachines()
	writeJSON(w, http.StatusOK, MachineList{Machines: machines, Count: len(machines)})
}

// GetMachine handles GET /api/machines/{id}
func (a *API) GetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := a.fleet.Machine(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, a.log, "Machine not available", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RequestInstall handles POST /api/machines/{id}/install. The install keeps
// running after the response; follow it on /api/progress or the event stream.
func (a *API) RequestInstall(w http.ResponseWriter, r *http.Request) {
	m, err := a.fleet.RequestInstall(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, a.log, "Install not started", err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

// ResetMachine handles POST /api/machines/{id}/reset
func (a *API) ResetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := a.fleet.ResetMachine(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, a.log, "Machine not reset", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// StartScan handles POST /api/scan and answers with the scan's initial
// progress once it has started
func (a *API) StartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	base := req.Base
	if base == "" {
		base = a.options.DefaultBase
	}
	if a.options.ResolveBase != nil {
		resolved, err := a.options.ResolveBase(base)
		if err != nil {
			writeError(w, "Cannot determine base address", err.Error(), http.StatusBadRequest)
			return
		}
		base = resolved
	}
	count := a.options.DefaultCount
	if req.Count != nil {
		count = *req.Count
	}

	events, err := a.fleet.StartScan(a.ctx, base, count)
	if err != nil {
		writeDomainError(w, a.log, "Scan not started", err)
		return
	}

	// The first event is always scan_started
	first, ok := <-events
	go func() {
		for range events {
		}
	}()

	if !ok || first.Scan == nil {
		writeError(w, "Scan ended before it started", "", http.StatusInternalServerError)
		return
	}
	a.log.Info().Str("scan_id", first.CycleID).Str("base", base).Int("count", count).Msg("Scan started over HTTP")
	writeJSON(w, http.StatusAccepted, first.Scan)
}

// GetProgress handles GET /api/progress
func (a *API) GetProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.fleet.Progress())
}

// Health handles GET /healthz
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
