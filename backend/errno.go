package backend

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Kind is the POSIX error kind vocabulary a backend reports failures
// with (spec.md §4.4's table). Backends never need to know the wire
// errno value; Errno derives it.
type Kind string

const (
	KindPerm     Kind = "EPERM"
	KindNoEnt    Kind = "ENOENT"
	KindIO       Kind = "EIO"
	KindBadFd    Kind = "EBADF"
	KindBusy     Kind = "EBUSY"
	KindExist    Kind = "EEXIST"
	KindNotDir   Kind = "ENOTDIR"
	KindIsDir    Kind = "EISDIR"
	KindInval    Kind = "EINVAL"
	KindNotEmpty Kind = "ENOTEMPTY"
	KindLoop     Kind = "ELOOP"
)

// errnoTable maps each Kind to its Linux errno value. Using the named
// golang.org/x/sys/unix constants, rather than the bare numbers in
// spec.md §4.4, keeps this table checkable against the kernel ABI
// instead of against transcribed literals.
var errnoTable = map[Kind]uintptr{
	KindPerm:     uintptr(unix.EPERM),
	KindNoEnt:    uintptr(unix.ENOENT),
	KindIO:       uintptr(unix.EIO),
	KindBadFd:    uintptr(unix.EBADF),
	KindBusy:     uintptr(unix.EBUSY),
	KindExist:    uintptr(unix.EEXIST),
	KindNotDir:   uintptr(unix.ENOTDIR),
	KindIsDir:    uintptr(unix.EISDIR),
	KindInval:    uintptr(unix.EINVAL),
	KindNotEmpty: uintptr(unix.ENOTEMPTY),
	KindLoop:     uintptr(unix.ELOOP),
}

// Error is the error type backend.FS implementations should return
// for any failed operation. Wrap gives every Error a call-site
// message via github.com/pkg/errors, while still letting the
// dispatcher recover the Kind through Cause.
type Error struct {
	Kind Kind
	err  error
}

// New creates a backend Error of the given kind, wrapping msg as its
// message (printf-style, as with fmt.Errorf).
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: pkgerrors.Errorf(format, args...)}
}

// Wrap annotates err with a backend error Kind and a call-site
// message, preserving err as the cause reachable through Unwrap.
func Wrap(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: pkgerrors.Wrapf(err, format, args...)}
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// IsKnown reports whether err (or something it wraps) is a backend
// Error with an explicit Kind. Callers use this to distinguish
// expected, already-classified failures from bugs that happen to
// surface as a plain error -- the latter are worth a log line, the
// former are just another day's ENOENT.
func IsKnown(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

// KindOf recovers the Kind of a backend error, unwrapping through any
// github.com/pkg/errors wrapping layers added above it (errors.Wrap
// is a stdlib-errors-compatible chain as of pkg/errors v0.9). Errors
// with no recoverable Kind are treated as KindIO, per spec.md §7
// ("Anything unmapped -> EIO").
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindIO
}

// Errno maps a backend error to its Linux errno, per spec.md §4.4's
// table. Errors of an unrecognized Kind, and non-backend errors, map
// to EIO.
func Errno(err error) uint32 {
	if err == nil {
		return 0
	}
	kind := KindOf(err)
	if n, ok := errnoTable[kind]; ok {
		return uint32(n)
	}
	return uint32(unix.EIO)
}
