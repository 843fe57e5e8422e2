package uci

import (
	"strconv"
	"strings"
)

// parseInfoLine extracts an AnalysisLine from one "info ..." response
// line. Returns false for lines that are not search info (bestmove,
// readyok, "info string" chatter) or carry none of depth/score/pv.
// Individually malformed fields are skipped rather than failing the
// whole line; engines emit all kinds of extra tokens and forward
// compatibility matters more than strictness here.
func parseInfoLine(line string) (AnalysisLine, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 || tokens[0] != "info" {
		return AnalysisLine{}, false
	}

	result := AnalysisLine{
		Index:    1,
		Nodes:    -1,
		NPS:      -1,
		HashFull: -1,
	}

	seen := false

	for i := 1; i < len(tokens); i++ {
		switch tokens[i] {
		case "string":
			// Free-text diagnostic, not search info.
			return AnalysisLine{}, false

		case "depth":
			if v, ok := intAt(tokens, i+1); ok {
				result.Depth = v
				seen = true
			}

			i++

		case "seldepth":
			if v, ok := intAt(tokens, i+1); ok {
				result.SelDepth = v
			}

			i++

		case "multipv":
			if v, ok := intAt(tokens, i+1); ok && v >= 1 {
				result.Index = v
			}

			i++

		case "score":
			if i+2 < len(tokens) {
				if v, ok := intAt(tokens, i+2); ok {
					switch tokens[i+1] {
					case "cp":
						result.Score = Score{Centipawns: v}
						seen = true
					case "mate":
						result.Score = Score{MateIn: v, IsMate: true}
						seen = true
					}
				}
			}

			i += 2

		case "nodes":
			if v, ok := int64At(tokens, i+1); ok {
				result.Nodes = v
			}

			i++

		case "nps":
			if v, ok := int64At(tokens, i+1); ok {
				result.NPS = v
			}

			i++

		case "hashfull":
			if v, ok := intAt(tokens, i+1); ok {
				result.HashFull = v
			}

			i++

		case "pv":
			if i+1 < len(tokens) {
				result.PV = append([]string(nil), tokens[i+1:]...)
				seen = true
			}

			// pv is always the final field.
			i = len(tokens)

		default:
			// Unknown token (time, tbhits, currmove, ...): skip it. Its
			// value, if any, is skipped on the next iteration the same way.
		}
	}

	if !seen {
		return AnalysisLine{}, false
	}

	return result, true
}

func intAt(tokens []string, i int) (int, bool) {
	if i >= len(tokens) {
		return 0, false
	}

	v, err := strconv.Atoi(tokens[i])
	if err != nil {
		return 0, false
	}

	return v, true
}

func int64At(tokens []string, i int) (int64, bool) {
	if i >= len(tokens) {
		return 0, false
	}

	v, err := strconv.ParseInt(tokens[i], 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
