package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpifleet/internal/service"
)

// writeTimeout bounds a single store write
const writeTimeout = 5 * time.Second

// RecordedEvents are the event types Record persists. Progress events are
// left out so they never queue ahead of machine changes.
var RecordedEvents = []service.EventType{
	service.EventMachineUpdated,
	service.EventMachineRemoved,
	service.EventScanStarted,
	service.EventScanFinished,
}

// Recorder mirrors orchestrator events into a MachineStore
type Recorder struct {
	store MachineStore
	log   zerolog.Logger
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store MachineStore, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log.With().Str("component", "recorder").Logger(),
	}
}

// Attach subscribes the recorder to every persisted event on bus without
// loss and records until ctx is done
func (r *Recorder) Attach(ctx context.Context, bus *service.EventBus, buffer int) (unsubscribe func()) {
	ch := make(chan service.Event, buffer)
	unsubscribe = bus.SubscribeLossless(ctx, ch, RecordedEvents...)
	go r.Run(ctx, ch)
	return unsubscribe
}

// Run consumes events until ctx is done or events is closed.
// Store failures are logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.Record(ctx, ev); err != nil {
				r.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to persist event")
			}
		}
	}
}

// Record applies one event to the store
func (r *Recorder) Record(ctx context.Context, ev service.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	switch ev.Type {
	case service.EventMachineUpdated:
		if ev.Machine != nil {
			return r.store.SaveMachine(ctx, *ev.Machine)
		}
	case service.EventMachineRemoved:
		if ev.Machine != nil {
			return r.store.DeleteMachine(ctx, ev.Machine.ID)
		}
	case service.EventScanStarted, service.EventScanFinished:
		if ev.Scan != nil {
			return r.store.SaveScan(ctx, ScanRecord{
				ID:         ev.Scan.ID,
				State:      string(ev.Scan.State),
				Completed:  ev.Scan.Completed,
				Total:      ev.Scan.Total,
				StartedAt:  ev.Scan.StartedAt,
				FinishedAt: ev.Scan.FinishedAt,
			})
		}
	}
	return nil
}
