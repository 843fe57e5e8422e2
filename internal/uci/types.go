package uci

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateSearching
	StateSuspended
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateSearching:
		return "searching"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the line-level exchange a Session drives. Satisfied by
// *transport.Proc; tests substitute scripted fakes.
type Transport interface {
	WriteLine(text string) error
	ReadLine(timeout time.Duration) (string, error)
	IsAlive() bool
	Pid() int
	Terminate()
}

// ParameterSet describes the bounds and options for one search. Depth and
// MoveTime are optional bounds: zero means unbounded, not zero. When both
// are unbounded the session issues "go infinite" rather than a bounded
// command with literal zeros, which many engines would read as "stop
// immediately".
type ParameterSet struct {
	Threads  int
	Depth    int
	MoveTime time.Duration
	MultiPV  int
	Options  map[string]string
}

// Unbounded reports whether the set carries no depth or time bound.
func (p ParameterSet) Unbounded() bool {
	return p.Depth <= 0 && p.MoveTime <= 0
}

// EngineOptions merges the structural fields into the engine option map
// the session sends during setup. Explicit entries in Options win over
// the structural fields. MultiPV is deliberately absent: StartSearch
// applies it per search.
func (p ParameterSet) EngineOptions() map[string]string {
	opts := make(map[string]string, len(p.Options)+1)

	if p.Threads > 0 {
		opts["Threads"] = fmt.Sprintf("%d", p.Threads)
	}

	for k, v := range p.Options {
		opts[k] = v
	}

	return opts
}

// Score is an engine evaluation: centipawns or mate distance, never both.
// After session normalization, positive always favors White.
type Score struct {
	Centipawns int
	MateIn     int
	IsMate     bool
}

func (s Score) String() string {
	if s.IsMate {
		return fmt.Sprintf("mate %d", s.MateIn)
	}

	return fmt.Sprintf("cp %d", s.Centipawns)
}

// AnalysisLine is one ranked candidate continuation from a search. Index 1
// is the principal line. NPS, HashFull and Nodes are -1 until the engine
// reports them.
type AnalysisLine struct {
	Index    int
	Depth    int
	SelDepth int
	Score    Score
	PV       []string
	SAN      string
	Nodes    int64
	NPS      int64
	HashFull int
}
