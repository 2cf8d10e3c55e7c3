// Package gdaltest provides a scripted stand-in for the GDAL command line tools.
package gdaltest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
)

// Call records one invocation.
type Call struct {
	Name  string
	Args  []string
	Stdin string
}

// Handler produces the standard output of a tool invocation.
type Handler func(args []string, stdin string) ([]byte, error)

// Runner dispatches invocations to handlers keyed by executable base name.
// Invocations without a handler fail.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

// NewRunner returns a Runner with no handlers.
func NewRunner() *Runner {
	return &Runner{handlers: map[string]Handler{}}
}

// Handle registers h for the named tool.
func (r *Runner) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Run implements gdal.Runner.
func (r *Runner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var in string
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		in = string(b)
	}

	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Args: append([]string(nil), args...), Stdin: in})
	h, ok := r.handlers[filepath.Base(name)]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("gdaltest: no handler for %s", name)
	}
	return h(args, in)
}

// Calls returns every recorded invocation of name, or all when name is empty.
func (r *Runner) Calls(name string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if name == "" || filepath.Base(c.Name) == name {
			out = append(out, c)
		}
	}
	return out
}

// Raster describes the gdalinfo report produced by InfoJSON.
type Raster struct {
	Width, Height int
	Bands         int
	Overviews     int
	Compression   string
	// Extent is left, bottom, right, top in WGS84. A nil extent means no CRS.
	Extent *[4]float64
}

// InfoJSON renders a `gdalinfo -json` report for r.
func InfoJSON(r Raster) []byte {
	bands := make([]map[string]any, r.Bands)
	for i := range bands {
		ovr := make([]map[string]any, r.Overviews)
		for j := range ovr {
			ovr[j] = map[string]any{"size": []int{r.Width >> (j + 1), r.Height >> (j + 1)}}
		}
		bands[i] = map[string]any{"band": i + 1, "block": []int{512, 512}, "overviews": ovr}
	}

	report := map[string]any{
		"driverShortName": "GTiff",
		"size":            []int{r.Width, r.Height},
		"bands":           bands,
		"metadata": map[string]any{
			"IMAGE_STRUCTURE": map[string]string{"COMPRESSION": r.Compression},
		},
	}
	if r.Extent != nil {
		l, b, rt, t := r.Extent[0], r.Extent[1], r.Extent[2], r.Extent[3]
		report["coordinateSystem"] = map[string]any{"wkt": `PROJCRS["WGS 84 / UTM zone 32N"]`}
		report["geoTransform"] = []float64{l, (rt - l) / float64(r.Width), 0, t, 0, -(t - b) / float64(r.Height)}
		report["wgs84Extent"] = map[string]any{
			"type":        "Polygon",
			"coordinates": [][][2]float64{{{l, t}, {l, b}, {rt, b}, {rt, t}, {l, t}}},
		}
	}

	out, err := json.Marshal(report)
	if err != nil {
		// ALLOW-PANIC: the report is built from plain values
		panic(err)
	}
	return out
}
