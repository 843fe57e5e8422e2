// Package transport owns the engine subprocess and its line-oriented
// stdin/stdout exchange. Reads are timeout-bounded and buffered so a
// caller polling for lines never blocks indefinitely and never desyncs
// on partial reads.
package transport
