package gdal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/spf13/afero"
)

// ErrSegmentationDisabled is returned when no segmentation command is configured.
var ErrSegmentationDisabled = errors.New("segmentation command not configured")

type featureCollection struct {
	Features []struct {
		Geometry json.RawMessage `json:"geometry"`
	} `json:"features"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Segment runs the segmentation engine on src and returns the detected
// polygons in pixel coordinates. The engine writes a GeoJSON
// FeatureCollection to out.
func (t *Tools) Segment(ctx context.Context, src, out string) (domain.MultiPolygon, error) {
	fields := strings.Fields(t.paths.Segmentation)
	if len(fields) == 0 {
		return nil, ErrSegmentationDisabled
	}
	for i, f := range fields {
		f = strings.ReplaceAll(f, "{input}", src)
		fields[i] = strings.ReplaceAll(f, "{output}", out)
	}

	if _, err := t.runner.Run(ctx, nil, fields[0], fields[1:]...); err != nil {
		return nil, err
	}

	raw, err := afero.ReadFile(t.fs, out)
	if err != nil {
		return nil, fmt.Errorf("failed to read segmentation output: %w", err)
	}
	return ParseFeatureCollection(raw)
}

// ParseFeatureCollection collects every Polygon and MultiPolygon geometry of a
// GeoJSON FeatureCollection. Other geometry types are ignored.
func ParseFeatureCollection(raw []byte) (domain.MultiPolygon, error) {
	var fc featureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("invalid feature collection: %w", err)
	}

	result := domain.MultiPolygon{}
	for _, f := range fc.Features {
		if len(f.Geometry) == 0 || string(f.Geometry) == "null" {
			continue
		}
		var g geometry
		if err := json.Unmarshal(f.Geometry, &g); err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		switch g.Type {
		case "Polygon":
			var p domain.Polygon
			if err := json.Unmarshal(g.Coordinates, &p); err != nil {
				return nil, fmt.Errorf("invalid polygon: %w", err)
			}
			result = append(result, p)
		case "MultiPolygon":
			var mp domain.MultiPolygon
			if err := json.Unmarshal(g.Coordinates, &mp); err != nil {
				return nil, fmt.Errorf("invalid multipolygon: %w", err)
			}
			result = append(result, mp...)
		}
	}
	return result, nil
}

// ToWGS84 maps pixel/line coordinates of src to longitude/latitude using the
// raster's geotransform and CRS.
func (t *Tools) ToWGS84(ctx context.Context, src string, mp domain.MultiPolygon) (domain.MultiPolygon, error) {
	var in bytes.Buffer
	n := 0
	for _, poly := range mp {
		for _, ring := range poly {
			for _, p := range ring {
				fmt.Fprintf(&in, "%s %s\n",
					strconv.FormatFloat(p[0], 'f', -1, 64),
					strconv.FormatFloat(p[1], 'f', -1, 64))
				n++
			}
		}
	}
	if n == 0 {
		return domain.MultiPolygon{}, nil
	}

	out, err := t.runner.Run(ctx, &in, t.paths.Gdaltransform, "-t_srs", "EPSG:4326", "-output_xy", src)
	if err != nil {
		return nil, err
	}

	points := make([][2]float64, 0, n)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("unexpected gdaltransform output %q", scanner.Text())
		}
		points = append(points, [2]float64{x, y})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(points) != n {
		return nil, fmt.Errorf("gdaltransform returned %d points, expected %d", len(points), n)
	}

	result := make(domain.MultiPolygon, len(mp))
	i := 0
	for pi, poly := range mp {
		result[pi] = make(domain.Polygon, len(poly))
		for ri, ring := range poly {
			result[pi][ri] = make(domain.Ring, len(ring))
			for k := range ring {
				result[pi][ri][k] = points[i]
				i++
			}
		}
	}
	return result, nil
}
