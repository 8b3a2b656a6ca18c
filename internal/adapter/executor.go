package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RemoteExecutor runs a shell command on a host and returns its stdout
type RemoteExecutor interface {
	Execute(ctx context.Context, address, command string, timeout time.Duration) (string, error)
}

// ExecKind classifies a RemoteExecutor failure
type ExecKind string

const (
	ExecKindConnect     ExecKind = "connect"       // Dial, handshake or auth failed
	ExecKindTimeout     ExecKind = "timeout"       // Command did not finish in time
	ExecKindNonZeroExit ExecKind = "non_zero_exit" // Command ran and failed
)

// ExecError is returned by RemoteExecutor implementations
type ExecError struct {
	Kind       ExecKind
	Address    string
	ExitStatus int    // Set for ExecKindNonZeroExit
	Output     string // Whatever the command printed before failing
	Err        error
}

func (e *ExecError) Error() string {
	if e.Kind == ExecKindNonZeroExit {
		return fmt.Sprintf("%s: exit status %d", e.Address, e.ExitStatus)
	}
	return fmt.Sprintf("%s: %s: %v", e.Address, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ExecKindOf returns the kind of a RemoteExecutor error.
// Errors that are not ExecErrors are treated as connection failures.
func ExecKindOf(err error) ExecKind {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExecKindTimeout
	}
	return ExecKindConnect
}
