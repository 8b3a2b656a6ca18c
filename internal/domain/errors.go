package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below unwraps to exactly one of these so
// callers can branch with errors.Is.
var (
	ErrProbeTimeout           = errors.New("probe timeout")
	ErrInspectionConnect      = errors.New("inspection connect error")
	ErrInspectionParse        = errors.New("inspection parse error")
	ErrInstallConnect         = errors.New("install connect error")
	ErrInstallExec            = errors.New("install exec error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMachineNotFound        = errors.New("machine not found")
	ErrScanInProgress         = errors.New("scan already in progress")
	ErrInvalidScanRange       = errors.New("invalid scan range")
)

// InspectionError is a failed inspection of one host
type InspectionError struct {
	Kind    error // ErrInspectionConnect or ErrInspectionParse
	Address string
	Err     error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Address, e.Err)
}

func (e *InspectionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// InstallError is a failed install on one host
type InstallError struct {
	Kind    error // ErrInstallConnect or ErrInstallExec
	Address string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Address, e.Err)
}

func (e *InstallError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// TransitionError is returned when a request does not match the machine's current status
type TransitionError struct {
	MachineID string
	From      MachineStatus
	To        MachineStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: machine %s is %s, cannot move to %s",
		ErrInvalidStateTransition, e.MachineID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
