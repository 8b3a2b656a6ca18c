package adapter

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		count   int
		want    []string
		wantErr bool
	}{
		{
			name:  "three after .100",
			base:  "192.168.1.100",
			count: 3,
			want:  []string{"192.168.1.101", "192.168.1.102", "192.168.1.103"},
		},
		{
			name:  "default sweep of a /24 base",
			base:  "10.0.0.0",
			count: 10,
			want: []string{
				"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5",
				"10.0.0.6", "10.0.0.7", "10.0.0.8", "10.0.0.9", "10.0.0.10",
			},
		},
		{
			name:  "zero count",
			base:  "192.168.1.100",
			count: 0,
			want:  []string{},
		},
		{
			name:  "ends exactly at .254",
			base:  "192.168.1.250",
			count: 4,
			want:  []string{"192.168.1.251", "192.168.1.252", "192.168.1.253", "192.168.1.254"},
		},
		{
			name:  "zero count from .255",
			base:  "192.168.1.255",
			count: 0,
			want:  []string{},
		},
		{
			name:    "one after .255",
			base:    "192.168.1.255",
			count:   1,
			wantErr: true,
		},
		{
			name:    "runs into broadcast",
			base:    "192.168.1.250",
			count:   5,
			wantErr: true,
		},
		{
			name:    "negative count",
			base:    "192.168.1.1",
			count:   -1,
			wantErr: true,
		},
		{
			name:    "not an address",
			base:    "192.168.1",
			count:   3,
			wantErr: true,
		},
		{
			name:    "ipv6",
			base:    "fd00::1",
			count:   3,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Candidates(tt.base, tt.count)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSweep_ReachableSubsetInOrder(t *testing.T) {
	candidates, err := Candidates("192.168.1.100", 6)
	require.NoError(t, err)

	up := map[string]bool{"192.168.1.102": true, "192.168.1.105": true, "192.168.1.101": true}
	prober := ProberFunc(func(_ context.Context, address string, _ time.Duration) bool {
		// finish out of order
		if address == "192.168.1.101" {
			time.Sleep(20 * time.Millisecond)
		}
		return up[address]
	})

	s := NewSweeper(prober, SweepConfig{Timeout: 50 * time.Millisecond, MaxConcurrent: 3}, zerolog.Nop())
	result := s.Sweep(context.Background(), candidates, nil)

	assert.Equal(t, []string{"192.168.1.101", "192.168.1.102", "192.168.1.105"}, result.Reachable)
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 6, result.Probed)
	assert.False(t, result.Cancelled)
}

func TestSweep_ProgressIsMonotonic(t *testing.T) {
	candidates, err := Candidates("10.1.2.0", 40)
	require.NoError(t, err)

	prober := ProberFunc(func(_ context.Context, address string, _ time.Duration) bool {
		time.Sleep(time.Millisecond)
		return address[len(address)-1] == '7'
	})

	var progress []SweepProgress
	s := NewSweeper(prober, SweepConfig{MaxConcurrent: 8}, zerolog.Nop())
	result := s.Sweep(context.Background(), candidates, func(p SweepProgress) {
		progress = append(progress, p)
	})

	require.Len(t, progress, 40)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Completed, "progress step %d", i)
		assert.Equal(t, 40, p.Total)
	}
	assert.Len(t, result.Reachable, 4) // .7 .17 .27 .37
}

func TestSweep_RespectsConcurrencyLimit(t *testing.T) {
	candidates, err := Candidates("10.0.0.0", 30)
	require.NoError(t, err)

	var inFlight, peak atomic.Int32
	prober := ProberFunc(func(_ context.Context, _ string, _ time.Duration) bool {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return false
	})

	s := NewSweeper(prober, SweepConfig{MaxConcurrent: 4}, zerolog.Nop())
	result := s.Sweep(context.Background(), candidates, nil)

	assert.Equal(t, 30, result.Probed)
	assert.Empty(t, result.Reachable)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestSweep_PassesTimeoutToProber(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Duration
	prober := ProberFunc(func(_ context.Context, _ string, timeout time.Duration) bool {
		mu.Lock()
		seen = append(seen, timeout)
		mu.Unlock()
		return true
	})

	s := NewSweeper(prober, SweepConfig{Timeout: 123 * time.Millisecond}, zerolog.Nop())
	s.Sweep(context.Background(), []string{"10.0.0.1", "10.0.0.2"}, nil)

	assert.Equal(t, []time.Duration{123 * time.Millisecond, 123 * time.Millisecond}, seen)
}

func TestSweep_Cancelled(t *testing.T) {
	candidates, err := Candidates("192.168.1.0", 20)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probeCtxErr error
	prober := ProberFunc(func(pctx context.Context, address string, _ time.Duration) bool {
		if address == "192.168.1.1" {
			cancel()
			probeCtxErr = pctx.Err()
		}
		return true
	})

	var calls int
	s := NewSweeper(prober, SweepConfig{MaxConcurrent: 1}, zerolog.Nop())
	result := s.Sweep(ctx, candidates, func(SweepProgress) { calls++ })

	assert.True(t, result.Cancelled)
	assert.GreaterOrEqual(t, result.Probed, 1)
	assert.Less(t, result.Probed, result.Total)
	assert.Equal(t, result.Probed, calls)
	assert.Len(t, result.Reachable, result.Probed)
	assert.NoError(t, probeCtxErr, "in-flight probe keeps running after cancel")
}

func TestSweep_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var probed atomic.Int32
	prober := ProberFunc(func(context.Context, string, time.Duration) bool {
		probed.Add(1)
		return true
	})

	s := NewSweeper(prober, DefaultSweepConfig(), zerolog.Nop())
	result := s.Sweep(ctx, []string{"10.0.0.1", "10.0.0.2"}, nil)

	assert.True(t, result.Cancelled)
	assert.Zero(t, probed.Load())
	assert.Empty(t, result.Reachable)
}

func TestSweep_NoCandidates(t *testing.T) {
	s := NewSweeper(ProberFunc(func(context.Context, string, time.Duration) bool {
		t.Fatal("prober called with no candidates")
		return false
	}), DefaultSweepConfig(), zerolog.Nop())

	result := s.Sweep(context.Background(), nil, nil)
	assert.Equal(t, SweepResult{}, result)
}

func TestBaseFromAddrs(t *testing.T) {
	ipnet := func(cidr string) net.Addr {
		ip, n, err := net.ParseCIDR(cidr)
		require.NoError(t, err)
		n.IP = ip
		return n
	}

	t.Run("skips loopback, link-local and ipv6", func(t *testing.T) {
		base, err := baseFromAddrs([]net.Addr{
			ipnet("127.0.0.1/8"),
			ipnet("fe80::1/64"),
			ipnet("169.254.10.2/16"),
			ipnet("192.168.1.37/24"),
			ipnet("10.0.0.5/8"),
		})
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.0", base)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, err := baseFromAddrs([]net.Addr{ipnet("127.0.0.1/8"), ipnet("::1/128")})
		assert.Error(t, err)
	})
}
