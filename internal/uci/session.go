package uci

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pawnsight/uciflow/internal/errors"
	"github.com/pawnsight/uciflow/internal/notation"
)

const (
	// pollInterval is the read granularity while waiting for a specific
	// acknowledgment line. Short enough to stay responsive to deadlines,
	// long enough not to spin.
	pollInterval = 100 * time.Millisecond

	// readyTimeout bounds the isready/readyok confirmation round-trip.
	readyTimeout = 5 * time.Second
)

// Session drives one engine process through the handshake/search
// lifecycle and parses its responses. It is owned by exactly one worker
// goroutine at a time; ownership may be transferred between services
// during handoff but never shared.
type Session struct {
	log *slog.Logger
	tr  Transport

	state      State
	lastFEN    string
	lastParams ParameterSet

	// generation increments on every effective position change. Results
	// read after a change belong to the new generation; the drain on
	// position set plus the caller-side admission gate discard stragglers
	// from the superseded search.
	generation uint64

	// blackToMove tracks the side to move of lastFEN so scores can be
	// normalized to White's perspective.
	blackToMove bool

	// sanLimit caps how many PV moves are rendered in SAN per line.
	sanLimit int

	engineName    string
	engineOptions []string
}

// NewSession wraps an already-spawned transport. The session starts
// Uninitialized; call Initialize before anything else.
func NewSession(log *slog.Logger, tr Transport) *Session {
	return &Session{
		log:      log.With("component", "session"),
		tr:       tr,
		state:    StateUninitialized,
		sanLimit: 12,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Generation returns the current search generation counter.
func (s *Session) Generation() uint64 { return s.generation }

// Pid returns the underlying engine process identifier.
func (s *Session) Pid() int { return s.tr.Pid() }

// LastPosition returns the most recently applied position FEN.
func (s *Session) LastPosition() string { return s.lastFEN }

// EngineName returns the identity the engine announced during the
// handshake, or empty if it never sent one.
func (s *Session) EngineName() string { return s.engineName }

// EngineOptionLines returns the raw "option name ..." lines collected
// during the handshake, for callers that discover engine capabilities.
func (s *Session) EngineOptionLines() []string { return s.engineOptions }

// SetSANLimit changes how many PV moves are rendered in SAN per line.
func (s *Session) SetSANLimit(n int) {
	if n > 0 {
		s.sanLimit = n
	}
}

// Initialize performs the protocol handshake: sends "uci", consumes the
// engine's identity and option announcements, and waits for "uciok"
// within timeout. Transitions Uninitialized -> Handshaking -> Ready.
// On timeout the session is terminated and *errors.InitTimeoutError is
// returned; the path argument only labels that error.
func (s *Session) Initialize(path string, timeout time.Duration) error {
	if s.state != StateUninitialized {
		return fmt.Errorf("%w: initialize in %s", errors.ErrSessionState, s.state)
	}

	s.state = StateHandshaking

	if err := s.tr.WriteLine("uci"); err != nil {
		return s.crashed(err)
	}

	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.state = StateTerminated
			s.tr.Terminate()

			return &errors.InitTimeoutError{Path: path, Timeout: timeout.String()}
		}

		line, err := s.tr.ReadLine(min(pollInterval, remaining))

		switch {
		case stderrors.Is(err, errors.ErrReadTimeout):
			continue

		case err != nil:
			return s.crashed(err)
		}

		switch {
		case line == "uciok":
			s.state = StateReady
			s.log.Info("Handshake complete", "engine", s.engineName, "pid", s.tr.Pid())

			return nil

		case strings.HasPrefix(line, "id name "):
			s.engineName = strings.TrimPrefix(line, "id name ")

		case strings.HasPrefix(line, "option name "):
			s.engineOptions = append(s.engineOptions, line)
		}
	}
}

// ApplyOptions sends one setoption command per entry (in sorted name
// order, for a deterministic wire trace) and then confirms with a single
// isready/readyok round-trip. Valid only in Ready state, before a search
// starts.
func (s *Session) ApplyOptions(opts map[string]string) error {
	if s.state != StateReady {
		return fmt.Errorf("%w: apply options in %s", errors.ErrSessionState, s.state)
	}

	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := s.tr.WriteLine(setOptionCommand(name, opts[name])); err != nil {
			return s.crashed(err)
		}
	}

	return s.awaitReady()
}

// awaitReady performs one isready/readyok round-trip, discarding
// unrelated lines in between.
func (s *Session) awaitReady() error {
	if err := s.tr.WriteLine("isready"); err != nil {
		return s.crashed(err)
	}

	deadline := time.Now().Add(readyTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: waiting for readyok", errors.ErrReadTimeout)
		}

		line, err := s.tr.ReadLine(min(pollInterval, remaining))

		switch {
		case stderrors.Is(err, errors.ErrReadTimeout):
			continue

		case err != nil:
			return s.crashed(err)
		}

		if line == "readyok" {
			return nil
		}
	}
}

// SetPosition applies a new position. Valid in Ready or Searching; while
// Searching the active search is stopped first. Applying the position
// already in effect is a no-op that neither re-sends the command nor
// bumps the generation (and leaves a running search running).
func (s *Session) SetPosition(fen string) error {
	if s.state != StateReady && s.state != StateSearching {
		return fmt.Errorf("%w: set position in %s", errors.ErrSessionState, s.state)
	}

	if fen == s.lastFEN {
		return nil
	}

	if s.state == StateSearching {
		if err := s.StopSearch(); err != nil {
			return err
		}
	}

	// Lines still buffered belong to the superseded search.
	s.drain()

	if err := s.tr.WriteLine(positionCommand(fen)); err != nil {
		return s.crashed(err)
	}

	s.lastFEN = fen
	s.blackToMove = notation.BlackToMove(fen)
	s.generation++

	s.log.Debug("Position applied", "generation", s.generation)

	return nil
}

// StartSearch issues the search command built from p. Transitions
// Ready -> Searching. A requested MultiPV is re-applied as an option
// before every search start: the line count cannot change mid-search,
// and after a handoff the engine may still carry the other service's
// value.
func (s *Session) StartSearch(p ParameterSet) error {
	if s.state != StateReady {
		return fmt.Errorf("%w: start search in %s", errors.ErrSessionState, s.state)
	}

	if p.MultiPV >= 1 {
		if err := s.tr.WriteLine(setOptionCommand("MultiPV", strconv.Itoa(p.MultiPV))); err != nil {
			return s.crashed(err)
		}
	}

	if err := s.tr.WriteLine(goCommand(p)); err != nil {
		return s.crashed(err)
	}

	s.lastParams = p
	s.state = StateSearching

	return nil
}

// StopSearch sends the stop command without waiting for the terminal
// bestmove line; ReadUpdates keeps consuming lines so the transport
// buffer never desyncs. No-op when no search is active.
func (s *Session) StopSearch() error {
	if s.state != StateSearching {
		return nil
	}

	if err := s.tr.WriteLine("stop"); err != nil {
		return s.crashed(err)
	}

	s.state = StateReady

	return nil
}

// ReadUpdates waits up to wait for engine output, then drains everything
// buffered without further blocking. Info lines are grouped by MultiPV
// index keeping only the newest per index, normalized to White's
// perspective, and annotated with a SAN rendering of the PV. The bool
// result reports whether a bestmove notice was consumed; a bestmove
// means the engine considers the current search finished, and the
// session drops back to Ready.
//
// Returns *errors.EngineCrashedError if the process has exited.
func (s *Session) ReadUpdates(wait time.Duration) ([]AnalysisLine, bool, error) {
	if s.state == StateTerminated || s.state == StateUninitialized {
		return nil, false, fmt.Errorf("%w: read updates in %s", errors.ErrSessionState, s.state)
	}

	latest := make(map[int]AnalysisLine)
	sawBestMove := false
	timeout := wait

	for {
		line, err := s.tr.ReadLine(timeout)

		switch {
		case stderrors.Is(err, errors.ErrReadTimeout):
			return s.collect(latest), sawBestMove, nil

		case err != nil:
			return s.collect(latest), sawBestMove, s.crashed(err)
		}

		// After the first line, drain without blocking.
		timeout = 0

		if strings.HasPrefix(line, "bestmove") {
			sawBestMove = true

			if s.state == StateSearching {
				s.state = StateReady
			}

			continue
		}

		if parsed, ok := parseInfoLine(line); ok {
			latest[parsed.Index] = parsed
		}
	}
}

// collect orders the per-index map by index and applies perspective
// normalization and SAN conversion.
func (s *Session) collect(latest map[int]AnalysisLine) []AnalysisLine {
	if len(latest) == 0 {
		return nil
	}

	lines := make([]AnalysisLine, 0, len(latest))
	for _, l := range latest {
		lines = append(lines, l)
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].Index < lines[j].Index })

	for i := range lines {
		if s.blackToMove {
			lines[i].Score.Centipawns = -lines[i].Score.Centipawns
			lines[i].Score.MateIn = -lines[i].Score.MateIn
		}

		lines[i].SAN = notation.PVToSAN(s.lastFEN, lines[i].PV, s.sanLimit)
	}

	return lines
}

// Suspend stops any active search but leaves the process alive and the
// negotiated state intact, so another service can take the session over.
// Transitions Searching/Ready -> Suspended.
func (s *Session) Suspend() error {
	switch s.state {
	case StateSearching:
		if err := s.StopSearch(); err != nil {
			return err
		}
	case StateReady:
	default:
		return fmt.Errorf("%w: suspend in %s", errors.ErrSessionState, s.state)
	}

	s.state = StateSuspended
	s.log.Debug("Session suspended", "pid", s.tr.Pid())

	return nil
}

// Resume re-activates a suspended session with a new position and
// parameters. Returns *errors.SuspendedProcessDiedError if the process
// died while suspended; the caller must build a fresh session instead.
func (s *Session) Resume(fen string, p ParameterSet) error {
	if s.state != StateSuspended {
		return fmt.Errorf("%w: resume in %s", errors.ErrSessionState, s.state)
	}

	if !s.tr.IsAlive() {
		s.state = StateTerminated

		return &errors.SuspendedProcessDiedError{Pid: s.tr.Pid()}
	}

	s.state = StateReady
	s.drain()

	if err := s.awaitReady(); err != nil {
		return err
	}

	if err := s.SetPosition(fen); err != nil {
		return err
	}

	if err := s.StartSearch(p); err != nil {
		return err
	}

	s.log.Debug("Session resumed", "pid", s.tr.Pid())

	return nil
}

// Quit sends the quit command and terminates the transport. Idempotent;
// the session is Terminated afterwards.
func (s *Session) Quit() {
	if s.state == StateTerminated {
		return
	}

	// Best effort; the grace period in Terminate covers a deaf engine.
	_ = s.tr.WriteLine("quit")

	s.tr.Terminate()
	s.state = StateTerminated

	s.log.Debug("Session terminated")
}

// drain discards whatever lines are buffered right now.
func (s *Session) drain() {
	for {
		if _, err := s.tr.ReadLine(0); err != nil {
			return
		}
	}
}

// crashed marks the session terminated and wraps err as an engine crash.
func (s *Session) crashed(err error) error {
	pid := s.tr.Pid()
	s.state = StateTerminated
	s.tr.Terminate()

	s.log.Error("Engine crashed", "pid", pid, "error", err)

	return &errors.EngineCrashedError{Pid: pid, Err: err}
}
