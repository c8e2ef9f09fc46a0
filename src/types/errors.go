package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidPhase          = errors.New("operation not allowed in current phase")
	ErrAlreadyPending        = errors.New("quest has a transition in flight")
	ErrLedgerRejected        = errors.New("ledger rejected the operation")
	ErrLedgerTimeout         = errors.New("ledger outcome unconfirmed")
	ErrTallyMismatch         = errors.New("local tally diverges from ledger")
	ErrSettlementAlreadyDone = errors.New("settlement already done")

	ErrNotEligible   = errors.New("voter has no voting power")
	ErrNoAnswers     = errors.New("quest has no answers")
	ErrNotPending    = errors.New("quest has no transition in flight")
	ErrBettingClosed = errors.New("betting window closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// PendingError reports a ledger call whose outcome is unknown. The quest
// keeps its pending flag until ReconcilePending resolves it.
type PendingError struct {
	QuestKey uint64
	Op       Op
	Tx       string
	Err      error
}

func (e *PendingError) Error() string {
	if e.Tx != "" {
		return fmt.Sprintf("quest %d: %s unconfirmed (tx %s): %v", e.QuestKey, e.Op, e.Tx, e.Err)
	}
	return fmt.Sprintf("quest %d: %s unconfirmed: %v", e.QuestKey, e.Op, e.Err)
}

func (e *PendingError) Is(target error) bool { return target == ErrLedgerTimeout }

func (e *PendingError) Unwrap() error { return e.Err }

// TallyMismatchError lists the per-option power that differs between the
// local vote rows and the ledger.
type TallyMismatchError struct {
	QuestKey uint64
	Phase    Phase
	Local    map[string]uint64
	Ledger   map[string]uint64
}

func (e *TallyMismatchError) Error() string {
	return fmt.Sprintf("quest %d: %s tally mismatch: local %v ledger %v", e.QuestKey, e.Phase, e.Local, e.Ledger)
}

func (e *TallyMismatchError) Is(target error) bool { return target == ErrTallyMismatch }
