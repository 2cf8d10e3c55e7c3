// Package upload reassembles chunked raster uploads into archived datasets.
//
// Chunks of one upload share an upload ID and must arrive in order. The
// first chunk creates the staging file and the dataset row; the last one
// moves the file to its permanent storage name, hashes it, reads its WGS84
// bounds and finalizes the dataset.
package upload
