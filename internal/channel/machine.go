// Package channel implements the command channel: a pure Active/Resyncing
// state machine over the poll offset, and a Poller that drives it against a
// transport.Client.
package channel

import "time"

type Mode uint8

const (
	Active Mode = iota
	Resyncing
)

func (m Mode) String() string {
	switch m {
	case Active:
		return "active"
	case Resyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// Offset is the acknowledgement boundary. LastProcessedID is the next id to
// fetch (highest dispatched id + 1); it only goes down on resync.
type Offset struct {
	LastProcessedID int64
	EmptyPollStreak int
}

// State is the full machine state. The poll-scoped fields are reset by Begin.
type State struct {
	Mode Mode
	Offset

	fastResyncUsed bool
	dispatched     bool
	batches        int
}

// Params tunes the machine. Zero fields take the defaults.
type Params struct {
	// ResyncAfterEmpty consecutive empty polls force a resync at the next Begin.
	ResyncAfterEmpty int
	// StaleOffset: an empty fetch while LastProcessedID exceeds it forces a
	// one-shot resync within the same poll.
	StaleOffset int64
	// ResyncPause is waited before the fast-path re-fetch.
	ResyncPause time.Duration
	// MaxBatches bounds how many non-empty batches one poll drains.
	MaxBatches int
}

const (
	DefaultResyncAfterEmpty       = 10
	DefaultStaleOffset      int64 = 1000
	DefaultResyncPause            = time.Second
	DefaultMaxBatches             = 4
)

func (p Params) withDefaults() Params {
	if p.ResyncAfterEmpty <= 0 {
		p.ResyncAfterEmpty = DefaultResyncAfterEmpty
	}
	if p.StaleOffset <= 0 {
		p.StaleOffset = DefaultStaleOffset
	}
	if p.ResyncPause < 0 {
		p.ResyncPause = 0
	} else if p.ResyncPause == 0 {
		p.ResyncPause = DefaultResyncPause
	}
	if p.MaxBatches <= 0 {
		p.MaxBatches = DefaultMaxBatches
	}
	return p
}

// Event is one input to Step: Begin, Fetched or Dispatched.
type Event interface{ event() }

// Begin starts a poll.
type Begin struct{}

// Fetched reports the result of a fetch. MaxID is meaningful only when Count > 0.
type Fetched struct {
	Count int
	MaxID int64
}

// Dispatched reports that every command of the last fetched batch was handled.
type Dispatched struct {
	MaxID int64
}

func (Begin) event()      {}
func (Fetched) event()    {}
func (Dispatched) event() {}

type EffectKind uint8

const (
	// Idle ends the poll.
	Idle EffectKind = iota
	// Fetch asks the driver to wait Delay and fetch from Offset.
	Fetch
	// Dispatch asks the driver to handle the batch it just fetched, in ascending id order.
	Dispatch
)

func (k EffectKind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Fetch:
		return "fetch"
	case Dispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

type Effect struct {
	Kind   EffectKind
	Offset int64
	Delay  time.Duration
}

// Step is the transition function. It performs no I/O.
func Step(s State, ev Event, p Params) (State, Effect) {
	p = p.withDefaults()

	switch e := ev.(type) {
	case Begin:
		s.fastResyncUsed = false
		s.dispatched = false
		s.batches = 0
		if s.EmptyPollStreak >= p.ResyncAfterEmpty {
			return resync(s), Effect{Kind: Fetch, Offset: 0}
		}
		s.Mode = Active
		return s, Effect{Kind: Fetch, Offset: s.LastProcessedID}

	case Fetched:
		if e.Count > 0 {
			s.Mode = Active
			return s, Effect{Kind: Dispatch}
		}
		if s.Mode == Resyncing {
			// The resync fetch itself came back empty; nothing more to do.
			s.Mode = Active
			return s, Effect{Kind: Idle}
		}
		if s.dispatched {
			// End of a drain; the poll was not empty.
			return s, Effect{Kind: Idle}
		}
		if s.LastProcessedID > p.StaleOffset && !s.fastResyncUsed {
			s = resync(s)
			s.fastResyncUsed = true
			return s, Effect{Kind: Fetch, Offset: 0, Delay: p.ResyncPause}
		}
		s.EmptyPollStreak++
		return s, Effect{Kind: Idle}

	case Dispatched:
		if next := e.MaxID + 1; next > s.LastProcessedID {
			s.LastProcessedID = next
		}
		s.EmptyPollStreak = 0
		s.Mode = Active
		s.dispatched = true
		s.batches++
		if s.batches >= p.MaxBatches {
			return s, Effect{Kind: Idle}
		}
		return s, Effect{Kind: Fetch, Offset: s.LastProcessedID}
	}
	return s, Effect{Kind: Idle}
}

func resync(s State) State {
	s.Mode = Resyncing
	s.LastProcessedID = 0
	s.EmptyPollStreak = 0
	return s
}
