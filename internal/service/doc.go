// Package service contains the application use cases that sit between the
// HTTP surfaces and the stores: moving datasets between statuses and
// submitting processing tasks to the queue.
//
// Services receive their stores through constructor injection, open
// transactions where an operation spans several stores, and translate store
// errors into the sentinels below so the API layer can map them to status codes.
package service
