package state

import "fmt"

// Phase is the orchestrator lifecycle state. It is persisted under the
// legacy "state" key so documents written by earlier deployments load
// unchanged.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseAnalyzing Phase = "ANALYZING"
	PhaseOpening   Phase = "OPENING"
	PhaseHolding   Phase = "HOLDING"
	PhaseClosing   Phase = "CLOSING"
	PhaseWaiting   Phase = "WAITING"
	PhaseError     Phase = "ERROR"
	PhaseShutdown  Phase = "SHUTDOWN"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseAnalyzing, PhaseOpening, PhaseHolding,
		PhaseClosing, PhaseWaiting, PhaseError, PhaseShutdown:
		return true
	}
	return false
}

// transitions lists the permitted next phases. ERROR and SHUTDOWN are
// reachable from every phase and are not repeated here.
var transitions = map[Phase][]Phase{
	PhaseIdle:      {PhaseAnalyzing},
	PhaseAnalyzing: {PhaseOpening, PhaseIdle, PhaseWaiting},
	PhaseOpening:   {PhaseHolding},
	PhaseHolding:   {PhaseClosing},
	PhaseClosing:   {PhaseWaiting},
	PhaseWaiting:   {PhaseIdle, PhaseAnalyzing},
	// Recovery lands wherever reconciliation says the book actually is.
	PhaseError: {PhaseIdle, PhaseHolding, PhaseClosing, PhaseWaiting},
	// A restart after a clean shutdown resumes idle or holding.
	PhaseShutdown: {PhaseIdle, PhaseHolding},
}

func CanTransition(from, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if to == PhaseError || to == PhaseShutdown {
		return from != PhaseShutdown
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}
