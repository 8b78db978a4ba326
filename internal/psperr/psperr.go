// Package psperr defines the error taxonomy shared across the emulator.
//
// Errors that can be reported to the guest are lowered into the ARM
// calling convention (R0 status) by the svc package; errors that
// prevent CCD construction are returned unwrapped from ccd.Create.
package psperr

import "github.com/pkg/errors"

// Kind is one of the six error taxonomies from the component design.
type Kind error

var (
	// ErrResourceExhaustion covers out-of-memory and out-of-mapping-slot
	// conditions (e.g. the ninth concurrent x86 mapping).
	ErrResourceExhaustion Kind = errors.New("psperr: resource exhaustion")
	// ErrExecutorFailure wraps an opaque failure surfaced by the
	// underlying ARM executor.
	ErrExecutorFailure Kind = errors.New("psperr: executor failure")
	// ErrMemoryAccess covers reads/writes to unmapped guest addresses
	// and attempts to register an overlapping memory region.
	ErrMemoryAccess Kind = errors.New("psperr: memory access")
	// ErrProxyTransport covers an unreachable proxy or a forwarded
	// syscall that the proxy itself failed.
	ErrProxyTransport Kind = errors.New("psperr: proxy transport")
	// ErrUnimplementedSyscall marks a null dispatcher slot.
	ErrUnimplementedSyscall Kind = errors.New("psperr: unimplemented syscall")
	// ErrConfigurationError covers an invalid mode or a missing
	// required image at CCD construction time.
	ErrConfigurationError Kind = errors.New("psperr: configuration error")
)

// GuestStatus is the value SVC status codes get lowered to in R0.
type GuestStatus uint32

const (
	// StatusOK is returned in R0 on syscall success.
	StatusOK GuestStatus = 0
	// StatusGeneralMemoryError is PSPSTATUS_GENERAL_MEMORY_ERROR: the
	// catch-all failure status for unimplemented or failed syscalls.
	StatusGeneralMemoryError GuestStatus = 0x9
)

// ToGuestStatus lowers an error into the status the guest sees in R0.
// Every taxonomy kind except success maps to StatusGeneralMemoryError;
// the PSP firmware does not distinguish failure causes at the ABI
// boundary.
func ToGuestStatus(err error) GuestStatus {
	if err == nil {
		return StatusOK
	}
	return StatusGeneralMemoryError
}

// Wrap adds caller context to err while preserving the underlying kind
// for errors.Is checks.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with format arguments.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
