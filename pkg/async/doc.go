// Package async provides a safe wrapper for fire-and-forget goroutines.
// Best-effort side writes (durable rollup forwarding) run through SafeGo so
// a sink failure or panic never reaches the primary write path.
package async
