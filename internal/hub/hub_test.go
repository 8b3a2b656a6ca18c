package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpifleet/internal/domain"
	"mpifleet/internal/service"
)

func TestHub_StreamsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(zerolog.Nop())
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	m := domain.Machine{ID: "10-0-0-1", Address: "10.0.0.1", Status: domain.MachineStatusPending}
	h.Broadcast(service.Event{Type: service.EventMachineUpdated, Machine: &m})

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: machine_updated", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "data: "))
	assert.Contains(t, lines[1], `"address":"10.0.0.1"`)
	assert.Contains(t, lines[1], `"status":"pending"`)
}

func TestHub_Forward(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(zerolog.Nop())
	events := make(chan service.Event, 1)
	go h.Forward(ctx, events)

	events <- service.Event{Type: service.EventScanStarted}
	require.Eventually(t, func() bool { return len(h.broadcast) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_ForwardStopsWhenEventsClosed(t *testing.T) {
	h := New(zerolog.Nop())
	events := make(chan service.Event, 1)
	events <- service.Event{Type: service.EventScanFinished}
	close(events)

	done := make(chan struct{})
	go func() {
		h.Forward(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward kept running after its channel closed")
	}
	require.Len(t, h.broadcast, 1, "only the real event is relayed")
	assert.Equal(t, service.EventScanFinished, (<-h.broadcast).Type)
}

func TestHub_ClientRemovedOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(zerolog.Nop())
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	reqCtx, reqCancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	reqCancel()
	resp.Body.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
