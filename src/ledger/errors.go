package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected marks a definitive on-ledger failure: nothing landed.
	ErrRejected = errors.New("ledger: rejected")
	// ErrTimeout marks a call whose effect on the ledger is unknown.
	ErrTimeout = errors.New("ledger: outcome unknown")
)

// Error carries the ledger method, an optional program error code and any
// transaction signature obtained before the failure.
type Error struct {
	Method string
	Code   string
	Tx     string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := e.Method + ": " + e.Kind.Error()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Tx != "" {
		msg += " tx " + e.Tx
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Rejected wraps cause as a definitive rejection.
func Rejected(method, code string, cause error) error {
	return &Error{Method: method, Code: code, Kind: ErrRejected, Err: cause}
}

// Ambiguous wraps cause as an unknown outcome, keeping a partial tx.
func Ambiguous(method, tx string, cause error) error {
	return &Error{Method: method, Tx: tx, Kind: ErrTimeout, Err: cause}
}

type Class int

const (
	ClassNone Class = iota
	ClassRejected
	ClassAmbiguous
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassRejected:
		return "rejected"
	}
	return "ambiguous"
}

// Classify sorts a ledger call error. Anything not positively known to be a
// rejection is ambiguous: the write may have landed.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrRejected):
		return ClassRejected
	}
	return ClassAmbiguous
}

// PartialTx extracts the transaction reference carried by err, if any.
func PartialTx(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Tx
	}
	return ""
}

func errorf(method string, kind error, format string, args ...interface{}) error {
	return &Error{Method: method, Kind: kind, Err: fmt.Errorf(format, args...)}
}
