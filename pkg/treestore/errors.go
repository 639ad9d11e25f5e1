package treestore

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures of tree operations. The set is closed: callers
// switch on it to decide whether manual cleanup is needed.
type Kind int

const (
	// KindSourceNotFound: the node to act on is absent. Nothing changed.
	KindSourceNotFound Kind = iota + 1
	// KindDestinationExists: the target name is taken. Nothing changed.
	KindDestinationExists
	// KindPartialRename: the destination was written but the source could not
	// be removed (or the write could not be verified) and was not rolled back.
	// Both names may now hold the same content.
	KindPartialRename
	// KindStoreUnavailable: a remote call failed.
	KindStoreUnavailable
	// KindTimeout: a remote call exceeded its deadline.
	KindTimeout
	// KindWriteFailure: a local file could not be written.
	KindWriteFailure
	// KindNoBackupAvailable: the backup directory holds no snapshot.
	KindNoBackupAvailable
	// KindCheckFailed: a duplicate check could not be completed, so the
	// insert was not attempted.
	KindCheckFailed
	// KindInvalidArgument: the request was rejected before touching the store.
	KindInvalidArgument
	// KindInvalidBackup: a snapshot file could not be decoded.
	KindInvalidBackup
)

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrSourceNotFound    = errors.New("treestore: source not found")
	ErrDestinationExists = errors.New("treestore: destination exists")
	ErrPartialRename     = errors.New("treestore: partial rename")
	ErrStoreUnavailable  = errors.New("treestore: store unavailable")
	ErrTimeout           = errors.New("treestore: timeout")
	ErrWriteFailure      = errors.New("treestore: write failure")
	ErrNoBackupAvailable = errors.New("treestore: no backup available")
	ErrCheckFailed       = errors.New("treestore: duplicate check failed")
	ErrInvalidArgument   = errors.New("treestore: invalid argument")
	ErrInvalidBackup     = errors.New("treestore: invalid backup")
)

var kindSentinels = map[Kind]error{
	KindSourceNotFound:    ErrSourceNotFound,
	KindDestinationExists: ErrDestinationExists,
	KindPartialRename:     ErrPartialRename,
	KindStoreUnavailable:  ErrStoreUnavailable,
	KindTimeout:           ErrTimeout,
	KindWriteFailure:      ErrWriteFailure,
	KindNoBackupAvailable: ErrNoBackupAvailable,
	KindCheckFailed:       ErrCheckFailed,
	KindInvalidArgument:   ErrInvalidArgument,
	KindInvalidBackup:     ErrInvalidBackup,
}

func (k Kind) String() string {
	switch k {
	case KindSourceNotFound:
		return "SourceNotFound"
	case KindDestinationExists:
		return "DestinationExists"
	case KindPartialRename:
		return "PartialRename"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindTimeout:
		return "Timeout"
	case KindWriteFailure:
		return "WriteFailure"
	case KindNoBackupAvailable:
		return "NoBackupAvailable"
	case KindCheckFailed:
		return "CheckFailed"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidBackup:
		return "InvalidBackup"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinel returns the errors.Is target for k.
func (k Kind) Sentinel() error {
	return kindSentinels[k]
}

// Error is the typed failure returned by the client and the tree operations.
type Error struct {
	// Op names the operation, e.g. "get", "rename", "restore".
	Op string
	// Kind classifies the failure.
	Kind Kind
	// Path is the node path or local file involved, if any.
	Path string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := "treestore: " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && target == s
}

// NewError builds an *Error.
func NewError(op string, kind Kind, path string, err error) *Error {
	return &Error{Op: op, Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind carried by err, or 0 when err is not a tree error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return 0
}

// storeError maps a transport failure to Timeout or StoreUnavailable. Errors
// that already carry a kind are returned unchanged.
func storeError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(op, KindTimeout, path, err)
	}
	return NewError(op, KindStoreUnavailable, path, err)
}
