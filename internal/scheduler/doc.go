// Package scheduler drives job execution from a single coordinating loop.
//
// The loop owns the job registry: it sleeps until the earliest next-fire-time
// across all registered jobs, dispatches everything due as independent
// goroutines, recomputes each dispatched job's following fire time and goes
// back to sleep. Adding or removing a job wakes the loop early so the sleep
// deadline is never stale.
//
// # Lifecycle
//
// Start launches the loop; Stop cancels it, then waits for in-flight
// executions to drain within the configured grace period before forcing
// their contexts closed. A job whose schedule becomes unreachable is disabled
// with a logged error; it never crashes the loop.
//
// # Run once
//
// RunOnce executes a job immediately, bypassing the loop entirely. It works
// whether or not the daemon loop is running and reports the execution error
// synchronously to the caller.
package scheduler
