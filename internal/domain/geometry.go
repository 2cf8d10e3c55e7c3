package domain

import "encoding/json"

// Ring is a closed sequence of (x, y) positions.
type Ring [][2]float64

// Polygon is an outer ring followed by optional holes.
type Polygon []Ring

// MultiPolygon is a set of polygons.
type MultiPolygon []Polygon

type geoJSONGeometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// MarshalGeoJSON encodes the multipolygon as a GeoJSON geometry object.
func (m MultiPolygon) MarshalGeoJSON() (json.RawMessage, error) {
	coords := m
	if coords == nil {
		coords = MultiPolygon{}
	}
	return json.Marshal(geoJSONGeometry{Type: "MultiPolygon", Coordinates: coords})
}

// MarshalGeoJSON encodes the polygon as a GeoJSON geometry object.
func (p Polygon) MarshalGeoJSON() (json.RawMessage, error) {
	coords := p
	if coords == nil {
		coords = Polygon{}
	}
	return json.Marshal(geoJSONGeometry{Type: "Polygon", Coordinates: coords})
}

// BoxPolygon returns the closed rectangle covering b.
func BoxPolygon(b BoundingBox) Polygon {
	return Polygon{Ring{
		{b.Left, b.Bottom},
		{b.Right, b.Bottom},
		{b.Right, b.Top},
		{b.Left, b.Top},
		{b.Left, b.Bottom},
	}}
}
