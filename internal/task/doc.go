// Package task dispatches and executes queued raster processing tasks.
//
// The Scheduler polls the shared queue, applies the concurrency cap and the
// dataset eligibility gate, claims the head task and hands it to the
// Processor. The Processor runs the stages of a task type against the remote
// store and the raster tools, and reports failures as *Error values with a
// Kind that tells callers whether a retry could help.
package task
