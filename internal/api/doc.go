// Package api handles the HTTP surfaces of the pipeline: chunked dataset
// uploads and processing requests. It translates HTTP concerns into calls on
// the upload assembler and the task service, and maps their errors onto
// status codes without leaking internal detail.
package api
