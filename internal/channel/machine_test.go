package channel

import (
	"testing"
	"time"
)

// emptyPoll runs Begin followed by one empty fetch and returns the final state.
func emptyPoll(t *testing.T, s State, p Params) State {
	t.Helper()
	s, eff := Step(s, Begin{}, p)
	if eff.Kind != Fetch {
		t.Fatalf("Begin effect = %v, want fetch", eff.Kind)
	}
	s, eff = Step(s, Fetched{}, p)
	if eff.Kind != Idle {
		t.Fatalf("empty fetch effect = %v, want idle", eff.Kind)
	}
	return s
}

func TestStepResyncAfterEmptyStreak(t *testing.T) {
	s := State{Offset: Offset{LastProcessedID: 500}}
	for i := 0; i < DefaultResyncAfterEmpty; i++ {
		s = emptyPoll(t, s, Params{})
	}
	if s.EmptyPollStreak != 10 || s.LastProcessedID != 500 {
		t.Fatalf("after 10 empty polls: %+v", s.Offset)
	}

	s, eff := Step(s, Begin{}, Params{})
	if s.Mode != Resyncing {
		t.Fatalf("mode = %v, want resyncing", s.Mode)
	}
	if eff.Kind != Fetch || eff.Offset != 0 {
		t.Fatalf("effect = %+v, want fetch from 0", eff)
	}
	if s.LastProcessedID != 0 || s.EmptyPollStreak != 0 {
		t.Fatalf("offset not reset: %+v", s.Offset)
	}

	s, eff = Step(s, Fetched{}, Params{})
	if s.Mode != Active || eff.Kind != Idle || s.EmptyPollStreak != 0 {
		t.Fatalf("after resync fetch: mode=%v effect=%v streak=%d", s.Mode, eff.Kind, s.EmptyPollStreak)
	}
}

func TestStepNoResyncBeforeThreshold(t *testing.T) {
	s := State{Offset: Offset{LastProcessedID: 500}}
	for i := 0; i < DefaultResyncAfterEmpty-1; i++ {
		s = emptyPoll(t, s, Params{})
	}
	_, eff := Step(s, Begin{}, Params{})
	if eff.Offset != 500 {
		t.Fatalf("fetch offset = %d, want 500", eff.Offset)
	}
}

func TestStepAdvancesOnlyAfterDispatch(t *testing.T) {
	s, _ := Step(State{}, Begin{}, Params{})
	s, eff := Step(s, Fetched{Count: 3, MaxID: 9}, Params{})
	if eff.Kind != Dispatch {
		t.Fatalf("effect = %v, want dispatch", eff.Kind)
	}
	if s.LastProcessedID != 0 {
		t.Fatalf("offset advanced before dispatch: %d", s.LastProcessedID)
	}
	s, eff = Step(s, Dispatched{MaxID: 9}, Params{})
	if s.LastProcessedID != 10 {
		t.Fatalf("offset = %d, want 10", s.LastProcessedID)
	}
	if eff.Kind != Fetch || eff.Offset != 10 {
		t.Fatalf("drain effect = %+v, want fetch from 10", eff)
	}
	// End of drain does not count as an empty poll.
	s, eff = Step(s, Fetched{}, Params{})
	if eff.Kind != Idle || s.EmptyPollStreak != 0 {
		t.Fatalf("after drain: effect=%v streak=%d", eff.Kind, s.EmptyPollStreak)
	}
}

func TestStepNonEmptyResetsStreak(t *testing.T) {
	s := State{Offset: Offset{LastProcessedID: 3, EmptyPollStreak: 7}}
	s, _ = Step(s, Begin{}, Params{})
	s, _ = Step(s, Fetched{Count: 1, MaxID: 3}, Params{})
	s, _ = Step(s, Dispatched{MaxID: 3}, Params{})
	if s.EmptyPollStreak != 0 || s.LastProcessedID != 4 {
		t.Fatalf("offset = %+v", s.Offset)
	}
}

func TestStepFastResyncOncePerPoll(t *testing.T) {
	p := Params{ResyncPause: 250 * time.Millisecond}
	s := State{Offset: Offset{LastProcessedID: 1001, EmptyPollStreak: 2}}

	s, _ = Step(s, Begin{}, p)
	s, eff := Step(s, Fetched{}, p)
	if eff.Kind != Fetch || eff.Offset != 0 || eff.Delay != 250*time.Millisecond {
		t.Fatalf("effect = %+v, want fetch from 0 after pause", eff)
	}
	if s.Mode != Resyncing || s.LastProcessedID != 0 || s.EmptyPollStreak != 0 {
		t.Fatalf("state = %+v", s)
	}

	// The re-fetch yields an old message; dispatching moves the offset forward again.
	s, eff = Step(s, Fetched{Count: 1, MaxID: 1200}, p)
	if eff.Kind != Dispatch {
		t.Fatalf("effect = %v, want dispatch", eff.Kind)
	}
	s, _ = Step(s, Dispatched{MaxID: 1200}, p)
	s, eff = Step(s, Fetched{}, p)
	if eff.Kind != Idle {
		t.Fatalf("second empty fetch in the same poll must not resync again: %+v", eff)
	}
	if s.LastProcessedID != 1201 {
		t.Fatalf("offset = %d, want 1201", s.LastProcessedID)
	}
}

func TestStepStaleOffsetBoundary(t *testing.T) {
	s := State{Offset: Offset{LastProcessedID: 1000}}
	s, _ = Step(s, Begin{}, Params{})
	s, eff := Step(s, Fetched{}, Params{})
	if eff.Kind != Idle || s.EmptyPollStreak != 1 {
		t.Fatalf("offset 1000 is not stale: effect=%v streak=%d", eff.Kind, s.EmptyPollStreak)
	}
}

func TestStepDrainBounded(t *testing.T) {
	p := Params{MaxBatches: 2}
	s, _ := Step(State{}, Begin{}, p)
	var eff Effect
	for i := int64(1); i <= 2; i++ {
		s, _ = Step(s, Fetched{Count: 1, MaxID: i}, p)
		s, eff = Step(s, Dispatched{MaxID: i}, p)
	}
	if eff.Kind != Idle {
		t.Fatalf("effect after %d batches = %v, want idle", p.MaxBatches, eff.Kind)
	}
	if s.LastProcessedID != 3 {
		t.Fatalf("offset = %d, want 3", s.LastProcessedID)
	}
}

func TestStepOffsetNeverMovesBackwardOnDispatch(t *testing.T) {
	s := State{Offset: Offset{LastProcessedID: 50}}
	s, _ = Step(s, Dispatched{MaxID: 10}, Params{})
	if s.LastProcessedID != 50 {
		t.Fatalf("offset = %d, want 50", s.LastProcessedID)
	}
}
