package postgres

import (
	"fmt"
	"regexp"
)

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*_$`)

// DefaultTablePrefix names the production table set.
const DefaultTablePrefix = "v1_"

// Tables holds the fully qualified names of one environment's table set.
type Tables struct {
	Prefix         string
	Datasets       string
	Queue          string
	QueuePositions string
	Cogs           string
	Thumbnails     string
	GeoTiffInfo    string
	Labels         string
}

// NewTables derives table names from prefix. The prefix is interpolated into
// SQL, so only lowercase identifiers ending in an underscore are accepted.
func NewTables(prefix string) (Tables, error) {
	if !prefixPattern.MatchString(prefix) {
		return Tables{}, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return Tables{
		Prefix:         prefix,
		Datasets:       prefix + "datasets",
		Queue:          prefix + "queue",
		QueuePositions: prefix + "queue_positions",
		Cogs:           prefix + "cogs",
		Thumbnails:     prefix + "thumbnails",
		GeoTiffInfo:    prefix + "geotiff_info",
		Labels:         prefix + "labels",
	}, nil
}

// MustTables is NewTables for prefixes known to be valid at compile time.
func MustTables(prefix string) Tables {
	t, err := NewTables(prefix)
	if err != nil {
		// ALLOW-PANIC: programmer error with a constant prefix
		panic(err)
	}
	return t
}
