package state

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	path := []Phase{
		PhaseIdle, PhaseAnalyzing, PhaseOpening, PhaseHolding,
		PhaseClosing, PhaseWaiting, PhaseIdle,
	}
	for i := 1; i < len(path); i++ {
		if !CanTransition(path[i-1], path[i]) {
			t.Fatalf("%s -> %s should be allowed", path[i-1], path[i])
		}
	}
}

func TestCanTransitionErrorAndShutdownFromAnywhere(t *testing.T) {
	all := []Phase{
		PhaseIdle, PhaseAnalyzing, PhaseOpening, PhaseHolding,
		PhaseClosing, PhaseWaiting, PhaseError,
	}
	for _, from := range all {
		if !CanTransition(from, PhaseError) {
			t.Fatalf("%s -> ERROR should be allowed", from)
		}
		if !CanTransition(from, PhaseShutdown) {
			t.Fatalf("%s -> SHUTDOWN should be allowed", from)
		}
	}
	if CanTransition(PhaseShutdown, PhaseError) {
		t.Fatal("SHUTDOWN -> ERROR should be rejected")
	}
}

func TestCanTransitionRecoveryTargets(t *testing.T) {
	for _, to := range []Phase{PhaseIdle, PhaseHolding, PhaseClosing, PhaseWaiting} {
		if !CanTransition(PhaseError, to) {
			t.Fatalf("ERROR -> %s should be allowed", to)
		}
	}
	if CanTransition(PhaseError, PhaseOpening) {
		t.Fatal("ERROR -> OPENING should be rejected")
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	bad := [][2]Phase{
		{PhaseIdle, PhaseOpening},
		{PhaseIdle, PhaseHolding},
		{PhaseAnalyzing, PhaseHolding},
		{PhaseOpening, PhaseClosing},
		{PhaseHolding, PhaseIdle},
		{PhaseWaiting, PhaseHolding},
	}
	for _, pair := range bad {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be rejected", pair[0], pair[1])
		}
	}
}

func TestCanTransitionWaitingStartsNextCycle(t *testing.T) {
	if !CanTransition(PhaseWaiting, PhaseAnalyzing) {
		t.Fatal("WAITING -> ANALYZING should be allowed after cooldown")
	}
	if !CanTransition(PhaseWaiting, PhaseIdle) {
		t.Fatal("WAITING -> IDLE should be allowed")
	}
}

func TestCanTransitionSamePhase(t *testing.T) {
	if !CanTransition(PhaseHolding, PhaseHolding) {
		t.Fatal("same-phase transition should be allowed")
	}
}

func TestCanTransitionInvalidPhase(t *testing.T) {
	if CanTransition(Phase("BOGUS"), PhaseIdle) {
		t.Fatal("unknown source phase should be rejected")
	}
	if CanTransition(PhaseIdle, Phase("BOGUS")) {
		t.Fatal("unknown target phase should be rejected")
	}
}

func TestShutdownResume(t *testing.T) {
	if !CanTransition(PhaseShutdown, PhaseIdle) {
		t.Fatal("SHUTDOWN -> IDLE should be allowed on restart")
	}
	if !CanTransition(PhaseShutdown, PhaseHolding) {
		t.Fatal("SHUTDOWN -> HOLDING should be allowed on restart")
	}
	if CanTransition(PhaseShutdown, PhaseOpening) {
		t.Fatal("SHUTDOWN -> OPENING should be rejected")
	}
}
