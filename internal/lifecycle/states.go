package lifecycle

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
)

// State is one stage of the record lifecycle.
type State string

const (
	Initiated       State = "INITIATED"
	LinkedToRecord  State = "LINKED_TO_RECORD"
	SalesAssembly   State = "SALES_ASSEMBLY"
	BDMReview       State = "BDM_REVIEW"
	Breakdown       State = "BREAKDOWN"
	Routing         State = "ROUTING"
	ContentDraft    State = "CONTENT_DRAFT"
	LegalReview     State = "LEGAL_REVIEW"
	QualityReview   State = "QUALITY_REVIEW"
	Final           State = "FINAL"
	Approved        State = "APPROVED"
	SubmissionReady State = "SUBMISSION_READY"
	Submitted       State = "SUBMITTED"
)

// order is the fixed chain. Each state's only legal successor is the next element.
var order = []State{
	Initiated,
	LinkedToRecord,
	SalesAssembly,
	BDMReview,
	Breakdown,
	Routing,
	ContentDraft,
	LegalReview,
	QualityReview,
	Final,
	Approved,
	SubmissionReady,
	Submitted,
}

// transitions maps every state to its legal successors. Built once from order.
var transitions = func() map[State][]State {
	m := make(map[State][]State, len(order))
	for i, s := range order {
		if i+1 < len(order) {
			m[s] = []State{order[i+1]}
		} else {
			m[s] = nil
		}
	}
	return m
}()

// All returns the states in chain order.
func All() []State {
	out := make([]State, len(order))
	copy(out, order)
	return out
}

// Valid reports whether s is one of the enumerated states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no successor.
func (s State) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func (s State) String() string { return string(s) }

// CanTransition reports whether to is the configured successor of from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextValidStates returns the successor set of from. Empty for the terminal
// state and for values outside the table.
func NextValidStates(from State) []State {
	next := transitions[from]
	if len(next) == 0 {
		return nil
	}
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// Successor returns the single next state, if any.
func Successor(from State) (State, bool) {
	next := transitions[from]
	if len(next) == 0 {
		return "", false
	}
	return next[0], true
}

// ParseState validates a stage name coming from a caller.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown workflow state %q: %w", s, apperrors.ErrValidation)
	}
	return st, nil
}
