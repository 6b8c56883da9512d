package domain

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors forming the synchronization error taxonomy. Callers match
// them with errors.Is; every error returned by the core wraps one of them.
var (
	// ErrUnauthenticated: no or invalid session token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound: mutation target missing from the in-memory list.
	ErrNotFound = errors.New("tree not found")
	// ErrRemoteFailure: network or remote service error.
	ErrRemoteFailure = errors.New("remote service failure")
	// ErrStorageCorrupt: a persisted payload could not be decoded.
	ErrStorageCorrupt = errors.New("stored payload corrupt")
	// ErrStorageFailure: the local persistence store rejected a read or write.
	ErrStorageFailure = errors.New("local storage failure")
	// ErrInvalidArgument: caller supplied an unusable value.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed: the synchronizer has been disposed.
	ErrClosed = errors.New("synchronizer closed")
)

// ErrorKind is the discriminant of a Result.
type ErrorKind string

// Result kinds, one per sentinel.
const (
	KindNone            ErrorKind = ""
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindNotFound        ErrorKind = "not_found"
	KindRemoteFailure   ErrorKind = "remote_failure"
	KindStorageCorrupt  ErrorKind = "storage_corrupt"
	KindStorageFailure  ErrorKind = "storage_failure"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindClosed          ErrorKind = "closed"
	KindUnknown         ErrorKind = "unknown"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrNotFound, KindNotFound},
	{ErrRemoteFailure, KindRemoteFailure},
	{ErrStorageCorrupt, KindStorageCorrupt},
	{ErrStorageFailure, KindStorageFailure},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrClosed, KindClosed},
}

// Result is the discriminated outcome handed to presentation layers.
type Result struct {
	Success bool      `json:"success"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"error,omitempty"`
	Hint    string    `json:"hint,omitempty"`
}

// ResultOf converts an error returned by the core into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{
		Success: false,
		Kind:    KindOf(err),
		Message: err.Error(),
		Hint:    errors.FlattenHints(err),
	}
}

// KindOf classifies err against the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindBySentinel {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}

// NotFound returns an ErrNotFound wrapped with the missing id.
func NotFound(id TreeID) error {
	return errors.WithHint(
		errors.Wrapf(ErrNotFound, "tree %s", id),
		"refresh the tree list and try again",
	)
}

// Unauthenticated wraps ErrUnauthenticated with the attempted operation.
func Unauthenticated(op string) error {
	return errors.WithHint(
		errors.Wrapf(ErrUnauthenticated, "%s", op),
		"log in again to continue",
	)
}

// InvalidArgumentf formats an ErrInvalidArgument.
func InvalidArgumentf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// RemoteFailure marks err as a remote failure unless it already carries an
// authentication failure.
func RemoteFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrRemoteFailure) {
		return errors.Wrap(err, op)
	}
	return errors.WithHint(
		errors.Wrap(errors.Mark(err, ErrRemoteFailure), op),
		"check your connection and retry",
	)
}

// StorageFailure marks err as a local storage failure.
func StorageFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.Mark(err, ErrStorageFailure), op)
}
