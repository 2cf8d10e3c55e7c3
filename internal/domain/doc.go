// Package domain defines the core entities of the raster pipeline: datasets and their
// lifecycle status, queued processing tasks with their options, and the derived product
// records written after successful processing.
package domain
