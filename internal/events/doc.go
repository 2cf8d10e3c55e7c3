// Package events carries in-process notifications between the submission
// surface and the scheduler.
//
// A service emits a TaskEvent after a task is committed to the queue; the
// scheduler registers a handler that wakes its poll loop. Events are a latency
// optimization only: the queue table stays the source of truth and the
// scheduler still polls on a timer.
package events
