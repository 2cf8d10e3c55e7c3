// Package pipeline assembles the processing components from configuration.
// The HTTP server and the standalone processor share it so both run the same
// scheduler against the same stores.
package pipeline
