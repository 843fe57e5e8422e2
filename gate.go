package uciflow

import (
	"sort"
	"time"

	"github.com/pawnsight/uciflow/internal/uci"
)

// searchGate discards updates from the window right after a search
// starts, when lines from a just-superseded search may still be draining
// from the transport buffer. The search counts as established once
// either a line reports depth >= 1, or at least `batches` update batches
// have arrived and `delay` has elapsed since start.
type searchGate struct {
	started     time.Time
	delay       time.Duration
	minBatches  int
	seen        int
	established bool
}

func newSearchGate(now time.Time, delay time.Duration, batches int) *searchGate {
	return &searchGate{started: now, delay: delay, minBatches: batches}
}

// admit reports whether this batch of lines may be forwarded. Once it
// returns true it returns true forever.
func (g *searchGate) admit(lines []uci.AnalysisLine, now time.Time) bool {
	if g.established {
		return true
	}

	g.seen++

	for _, l := range lines {
		if l.Depth >= 1 {
			g.established = true

			return true
		}
	}

	if g.seen >= g.minBatches && now.Sub(g.started) >= g.delay {
		g.established = true

		return true
	}

	return false
}

// lineThrottle rate-limits forwarded updates per line index: at most one
// delivery per interval per index, and when deliveries are held back
// only the most recent pending update survives. This bounds downstream
// work independent of how fast the engine emits lines.
type lineThrottle struct {
	interval time.Duration
	lastSent map[int]time.Time
	pending  map[int]uci.AnalysisLine
}

func newLineThrottle(interval time.Duration) *lineThrottle {
	return &lineThrottle{
		interval: interval,
		lastSent: make(map[int]time.Time),
		pending:  make(map[int]uci.AnalysisLine),
	}
}

// offer records line as the newest pending update for its index.
func (t *lineThrottle) offer(line uci.AnalysisLine) {
	t.pending[line.Index] = line
}

// due returns the pending updates whose interval has elapsed, marking
// them sent. Indices still inside their interval keep their pending
// update for a later call.
func (t *lineThrottle) due(now time.Time) []uci.AnalysisLine {
	var out []uci.AnalysisLine

	for idx, line := range t.pending {
		if last, ok := t.lastSent[idx]; ok && now.Sub(last) < t.interval {
			continue
		}

		out = append(out, line)
		t.lastSent[idx] = now
		delete(t.pending, idx)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out
}

// reset drops all pending updates and delivery history, for use when a
// new search begins.
func (t *lineThrottle) reset() {
	t.lastSent = make(map[int]time.Time)
	t.pending = make(map[int]uci.AnalysisLine)
}
