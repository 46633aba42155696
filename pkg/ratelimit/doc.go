// Package ratelimit implements a process-local fixed-window rate limiter.
//
// The limiter is advisory, not a security boundary: state lives in process
// memory with no cross-instance coordination, which is acceptable for
// protecting the telemetry endpoints from accidental client floods.
package ratelimit
