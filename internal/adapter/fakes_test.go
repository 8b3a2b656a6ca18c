package adapter

import (
	"context"
	"sync"
	"time"
)

// fakeExecutor answers commands from a per-address, per-command table
type fakeExecutor struct {
	mu       sync.Mutex
	outputs  map[string]map[string]string
	errs     map[string]map[string]error
	calls    []string
	timeouts []time.Duration
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs: make(map[string]map[string]string),
		errs:    make(map[string]map[string]error),
	}
}

func (f *fakeExecutor) respond(address, command, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outputs[address] == nil {
		f.outputs[address] = make(map[string]string)
	}
	f.outputs[address][command] = output
}

func (f *fakeExecutor) fail(address, command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs[address] == nil {
		f.errs[address] = make(map[string]error)
	}
	f.errs[address][command] = err
}

func (f *fakeExecutor) Execute(ctx context.Context, address, command string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address+" "+command)
	f.timeouts = append(f.timeouts, timeout)
	if err := f.errs[address][command]; err != nil {
		return "", err
	}
	return f.outputs[address][command], nil
}
