package uci

import (
	"strconv"
	"strings"
)

// goCommand builds the search-start command for p. Bounds whose value is
// the unbounded sentinel (zero) are omitted; if every bound is unbounded
// the explicit infinite form is used instead. Sending "go depth 0" or
// "go movetime 0" is not an option: engines treat literal zeros as "stop
// immediately", not "no limit".
func goCommand(p ParameterSet) string {
	if p.Unbounded() {
		return "go infinite"
	}

	parts := []string{"go"}

	if p.Depth > 0 {
		parts = append(parts, "depth", strconv.Itoa(p.Depth))
	}

	if p.MoveTime > 0 {
		parts = append(parts, "movetime", strconv.FormatInt(p.MoveTime.Milliseconds(), 10))
	}

	return strings.Join(parts, " ")
}

// positionCommand builds the position-set command for a FEN string.
func positionCommand(fen string) string {
	return "position fen " + fen
}

// setOptionCommand builds one option-set command.
func setOptionCommand(name, value string) string {
	return "setoption name " + name + " value " + value
}
