// Package uci implements the protocol session for one engine process:
// handshake, option negotiation, position updates, search control, and
// response parsing. It covers only the command/response subset needed to
// drive analysis, not the full protocol.
package uci
