package domain

import (
	"fmt"
	"time"
)

// AttemptStatus tracks one contract invocation through its lifecycle.
type AttemptStatus string

const (
	AttemptBuilt     AttemptStatus = "built"
	AttemptSimulated AttemptStatus = "simulated"
	AttemptSigned    AttemptStatus = "signed"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptPending   AttemptStatus = "pending"
	AttemptSuccess   AttemptStatus = "success"
	AttemptFailed    AttemptStatus = "failed"
)

// attemptTransitions lists the legal next statuses. Terminal statuses
// have no entry. Simulation sits strictly between built and signed; an
// attempt that fails simulation can only go to failed.
var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptBuilt:     {AttemptSimulated, AttemptFailed},
	AttemptSimulated: {AttemptSigned, AttemptFailed},
	AttemptSigned:    {AttemptSubmitted, AttemptFailed},
	AttemptSubmitted: {AttemptSuccess, AttemptPending, AttemptFailed},
	AttemptPending:   {AttemptSuccess, AttemptFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s AttemptStatus) CanTransition(next AttemptStatus) bool {
	for _, t := range attemptTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the attempt can no longer change status.
// Pending is not terminal: a timed-out poll leaves the attempt pending
// because the transaction may still land.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSuccess || s == AttemptFailed
}

// TransactionAttempt records one invocation attempt against the ledger.
type TransactionAttempt struct {
	ID        string        `json:"id"`
	Function  string        `json:"function"`
	Status    AttemptStatus `json:"status"`
	Hash      string        `json:"hash,omitempty"`
	Err       string        `json:"error,omitempty"`
	Polls     int           `json:"polls"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt,omitzero"`
}

// NewAttempt starts an attempt for the named contract function.
func NewAttempt(id, function string) TransactionAttempt {
	return TransactionAttempt{
		ID:        id,
		Function:  function,
		Status:    AttemptBuilt,
		StartedAt: time.Now().UTC(),
	}
}

// Transition advances the attempt, rejecting illegal moves.
func (a *TransactionAttempt) Transition(next AttemptStatus) error {
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("attempt %s: illegal transition %s -> %s", a.ID, a.Status, next)
	}
	a.Status = next
	if next.Terminal() {
		a.EndedAt = time.Now().UTC()
	}
	return nil
}

// Fail marks the attempt failed and records the cause.
func (a *TransactionAttempt) Fail(err error) {
	a.Status = AttemptFailed
	if err != nil {
		a.Err = err.Error()
	}
	a.EndedAt = time.Now().UTC()
}
