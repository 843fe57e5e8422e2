// Package errors defines the typed errors and sentinels shared across the
// module. The root package re-exports these so callers never import this
// package directly.
package errors
