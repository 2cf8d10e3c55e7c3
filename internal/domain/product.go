package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CogRecord describes a cloud-optimized raster derived from a dataset.
type CogRecord struct {
	DatasetID    int64     `json:"dataset_id"`
	CogFolder    string    `json:"cog_folder"`
	CogName      string    `json:"cog_name"`
	CogURL       string    `json:"cog_url"`
	CogSize      int64     `json:"cog_size"`
	Runtime      float64   `json:"runtime"`
	UserID       uuid.UUID `json:"user_id"`
	Compression  string    `json:"compression"`
	Overviews    int       `json:"overviews"`
	TilingScheme string    `json:"tiling_scheme"`
	Resolution   float64   `json:"resolution"`
	Blocksize    int       `json:"blocksize"`
	CreatedAt    time.Time `json:"created_at"`
}

// ThumbnailRecord describes the preview image of a dataset.
type ThumbnailRecord struct {
	DatasetID     int64     `json:"dataset_id"`
	ThumbnailPath string    `json:"thumbnail_path"`
	UserID        uuid.UUID `json:"user_id"`
	Runtime       float64   `json:"runtime"`
	CreatedAt     time.Time `json:"created_at"`
}

// GeoTiffInfo is the structural description of a stored raster.
type GeoTiffInfo struct {
	DatasetID     int64  `json:"dataset_id"`
	Driver        string `json:"driver"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	BandCount     int    `json:"band_count"`
	BlockWidth    int    `json:"block_width"`
	BlockHeight   int    `json:"block_height"`
	OverviewCount int    `json:"overview_count"`
	CRS           string `json:"crs"`
	Compression   string `json:"compression"`
}

// Label sources and types written by the segmentation stage.
const (
	LabelSourceModelPrediction = "model_prediction"
	LabelTypeSegmentation      = "segmentation"
	LabelQualityModel          = 3
)

// Label is a vector annotation attached to a dataset. Label and AOI hold
// GeoJSON geometries in WGS84.
type Label struct {
	ID           int64           `json:"id"`
	DatasetID    int64           `json:"dataset_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Label        json.RawMessage `json:"label"`
	AOI          json.RawMessage `json:"aoi"`
	LabelSource  string          `json:"label_source"`
	LabelType    string          `json:"label_type"`
	LabelQuality int             `json:"label_quality"`
	CreatedAt    time.Time       `json:"created_at"`
}
