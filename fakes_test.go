package uciflow

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pawnsight/uciflow/internal/errors"
	"github.com/pawnsight/uciflow/internal/uci"
)

// fakeEvent is one scripted ReadUpdates outcome.
type fakeEvent struct {
	lines []AnalysisLine
	best  bool
	err   error

	// delay is slept before the event is returned, to script elapsed
	// time deterministically.
	delay time.Duration
}

// fakeSession implements engineSession with the real state machine's
// transitions but scripted output. Output arrives either via push/crash
// (streaming services) or from onSearch, which scripts the batches each
// started search produces (batch service).
type fakeSession struct {
	mu sync.Mutex

	state   uci.State
	pid     int
	alive   bool
	lastFEN string

	positions []string
	searches  []ParameterSet
	options   []map[string]string

	suspends   int
	resumes    int
	quitCalled bool

	// failPosition makes SetPosition fail for specific FENs.
	failPosition map[string]error

	onSearch func(fen string, p ParameterSet) []fakeEvent
	queued   []fakeEvent

	events chan fakeEvent
}

func newFakeSession(pid int) *fakeSession {
	return &fakeSession{
		state:  uci.StateReady,
		pid:    pid,
		alive:  true,
		events: make(chan fakeEvent, 64),
	}
}

// fakeFactory builds sessions on demand and remembers them.
type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	prepare  func(*fakeSession)
	spawnErr error
}

func (f *fakeFactory) new(_ *slog.Logger, _ string, _ *Options, _ ParameterSet) (engineSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.spawnErr != nil {
		return nil, f.spawnErr
	}

	s := newFakeSession(1000 + len(f.sessions))
	if f.prepare != nil {
		f.prepare(s)
	}

	f.sessions = append(f.sessions, s)

	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sessions[i]
}

func (s *fakeSession) Initialize(_ string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = uci.StateReady

	return nil
}

func (s *fakeSession) ApplyOptions(opts map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.options = append(s.options, opts)

	return nil
}

func (s *fakeSession) SetPosition(fen string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != uci.StateReady && s.state != uci.StateSearching {
		return fmt.Errorf("%w: set position in %s", errors.ErrSessionState, s.state)
	}

	if err, ok := s.failPosition[fen]; ok {
		return err
	}

	if fen == s.lastFEN {
		return nil
	}

	if s.state == uci.StateSearching {
		s.state = uci.StateReady
	}

	s.lastFEN = fen
	s.positions = append(s.positions, fen)

	return nil
}

func (s *fakeSession) StartSearch(p ParameterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != uci.StateReady {
		return fmt.Errorf("%w: start search in %s", errors.ErrSessionState, s.state)
	}

	s.state = uci.StateSearching
	s.searches = append(s.searches, p)

	if s.onSearch != nil {
		s.queued = append(s.queued, s.onSearch(s.lastFEN, p)...)
	}

	return nil
}

func (s *fakeSession) StopSearch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == uci.StateSearching {
		s.state = uci.StateReady
	}

	return nil
}

func (s *fakeSession) ReadUpdates(wait time.Duration) ([]AnalysisLine, bool, error) {
	s.mu.Lock()

	if len(s.queued) > 0 {
		ev := s.queued[0]
		s.queued = s.queued[1:]

		if ev.best && s.state == uci.StateSearching {
			s.state = uci.StateReady
		}

		s.mu.Unlock()

		if ev.delay > 0 {
			time.Sleep(ev.delay)
		}

		return ev.lines, ev.best, ev.err
	}

	s.mu.Unlock()

	if wait <= 0 {
		wait = time.Millisecond
	}

	select {
	case ev := <-s.events:
		if ev.err != nil {
			s.mu.Lock()
			s.state = uci.StateTerminated
			s.alive = false
			s.mu.Unlock()

			return nil, false, ev.err
		}

		if ev.best {
			s.mu.Lock()
			if s.state == uci.StateSearching {
				s.state = uci.StateReady
			}
			s.mu.Unlock()
		}

		return ev.lines, ev.best, nil

	case <-time.After(wait):
		return nil, false, nil
	}
}

func (s *fakeSession) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case uci.StateSearching, uci.StateReady:
	default:
		return fmt.Errorf("%w: suspend in %s", errors.ErrSessionState, s.state)
	}

	s.state = uci.StateSuspended
	s.suspends++

	return nil
}

func (s *fakeSession) Resume(fen string, _ ParameterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != uci.StateSuspended {
		return fmt.Errorf("%w: resume in %s", errors.ErrSessionState, s.state)
	}

	if !s.alive {
		s.state = uci.StateTerminated

		return &SuspendedProcessDiedError{Pid: s.pid}
	}

	s.state = uci.StateSearching
	s.lastFEN = fen
	s.resumes++

	return nil
}

func (s *fakeSession) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quitCalled = true
	s.alive = false
	s.state = uci.StateTerminated
}

func (s *fakeSession) State() uci.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *fakeSession) Pid() int { return s.pid }

func (s *fakeSession) LastPosition() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastFEN
}

func (s *fakeSession) SetSANLimit(int) {}

// push feeds one batch of lines to the next ReadUpdates call.
func (s *fakeSession) push(lines ...AnalysisLine) {
	s.events <- fakeEvent{lines: lines}
}

// crash makes the next ReadUpdates fail as an engine crash.
func (s *fakeSession) crash() {
	s.events <- fakeEvent{err: &EngineCrashedError{Pid: s.pid, Err: stderrors.New("exit status 2")}}
}

// kill marks the process dead without surfacing a read error, as when
// the engine dies while the session is suspended.
func (s *fakeSession) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alive = false
}

func (s *fakeSession) positionHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.positions...)
}

func (s *fakeSession) searchHistory() []ParameterSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ParameterSet(nil), s.searches...)
}

func (s *fakeSession) wasQuit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.quitCalled
}

func (s *fakeSession) counts() (suspends, resumes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.suspends, s.resumes
}
