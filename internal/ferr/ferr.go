// Package ferr defines the error taxonomy shared by every flytecfs
// component. Components raise a Kind, not a concrete type, so the
// façade can translate any error it sees into a filesystem errno
// without knowing which layer produced it.
package ferr

import "syscall"

// Kind identifies which taxonomy entry an Error belongs to.
type Kind int

const (
	// Transport kinds: recovered by flushing and failing the current op.
	Timeout Kind = iota
	Eof
	ShortWrite

	// Framing kinds: fatal to the current op.
	Malformed
	BadChecksum
	InvalidPayload

	// Protocol kinds: fatal to the current op; transport flushed.
	UnexpectedLine
	AddressMismatch
	MissingXon
	MissingXoff

	// Semantic kinds: translated directly to filesystem errnos.
	NotFound
	PermissionDenied
	AccessDenied
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Eof:
		return "eof"
	case ShortWrite:
		return "short write"
	case Malformed:
		return "malformed sentence"
	case BadChecksum:
		return "bad checksum"
	case InvalidPayload:
		return "invalid payload"
	case UnexpectedLine:
		return "unexpected line"
	case AddressMismatch:
		return "address mismatch"
	case MissingXon:
		return "missing xon"
	case MissingXoff:
		return "missing xoff"
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case AccessDenied:
		return "access denied"
	default:
		return "unknown"
	}
}

// Error is the concrete error value raised by every component. It
// carries a Kind for classification plus an optional message and
// wrapped cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e Error) Error() string {
	msg := e.msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e Error) Unwrap() error {
	return e.err
}

// New builds an Error of the given kind with a message.
func New(kind Kind, msg string) error {
	return Error{Kind: kind, msg: msg}
}

// Wrap builds an Error of the given kind wrapping a cause. Returns nil
// if cause is nil, matching the teacher's wrapErr helper.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return Error{Kind: kind, msg: msg, err: cause}
}

// Is reports whether err is an Error of the given kind.
func Is(err error, kind Kind) bool {
	var e Error
	for err != nil {
		if fe, ok := err.(Error); ok {
			e = fe
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return err != nil && e.Kind == kind
}

// Errno maps a Kind to the syscall.Errno the FUSE façade should return.
// Kinds with no direct filesystem meaning map to EIO.
func Errno(kind Kind) syscall.Errno {
	switch kind {
	case NotFound:
		return syscall.ENOENT
	case PermissionDenied:
		return syscall.EPERM
	case AccessDenied:
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

// ToErrno maps any error to the syscall.Errno the FUSE façade should
// return for it, walking Unwrap chains to find the first ferr.Error.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for {
		if fe, ok := err.(Error); ok {
			return Errno(fe.Kind)
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return syscall.EIO
		}
		next := u.Unwrap()
		if next == nil {
			return syscall.EIO
		}
		err = next
	}
}
