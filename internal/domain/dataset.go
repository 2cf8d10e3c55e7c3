package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DatasetStatus represents the lifecycle state of a dataset
type DatasetStatus string

// Possible dataset status values
const (
	DatasetStatusPending             DatasetStatus = "pending"
	DatasetStatusUploading           DatasetStatus = "uploading"
	DatasetStatusUploaded            DatasetStatus = "uploaded"
	DatasetStatusConverting          DatasetStatus = "converting"
	DatasetStatusCogProcessing       DatasetStatus = "cog_processing"
	DatasetStatusThumbnailProcessing DatasetStatus = "thumbnail_processing"
	DatasetStatusProcessing          DatasetStatus = "processing"
	DatasetStatusProcessed           DatasetStatus = "processed"
	DatasetStatusErrored             DatasetStatus = "errored"
	DatasetStatusAudited             DatasetStatus = "audited"
	DatasetStatusAuditFailed         DatasetStatus = "audit_failed"
)

// ParseDatasetStatus converts a string into a DatasetStatus.
func ParseDatasetStatus(s string) (DatasetStatus, error) {
	status := DatasetStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDatasetStatus, s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s DatasetStatus) Valid() bool {
	switch s {
	case DatasetStatusPending, DatasetStatusUploading, DatasetStatusUploaded,
		DatasetStatusConverting, DatasetStatusCogProcessing, DatasetStatusThumbnailProcessing,
		DatasetStatusProcessing, DatasetStatusProcessed, DatasetStatusErrored,
		DatasetStatusAudited, DatasetStatusAuditFailed:
		return true
	default:
		return false
	}
}

// Eligible reports whether a task for a dataset in this status may be dispatched.
func (s DatasetStatus) Eligible() bool {
	return s == DatasetStatusUploaded || s == DatasetStatusProcessed
}

// Active reports whether the status is a non-terminal stage from which
// a dataset may still move to errored.
func (s DatasetStatus) Active() bool {
	switch s {
	case DatasetStatusProcessed, DatasetStatusErrored, DatasetStatusAudited, DatasetStatusAuditFailed:
		return false
	default:
		return s.Valid()
	}
}

// String returns the raw status value.
func (s DatasetStatus) String() string { return string(s) }

// BoundingBox is a geographic extent in WGS84 (EPSG:4326) degrees.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
}

// Validate checks that the box lies inside WGS84 ranges and is not inverted.
func (b BoundingBox) Validate() error {
	if b.Left < -180 || b.Right > 180 || b.Bottom < -90 || b.Top > 90 {
		return fmt.Errorf("%w: %v outside WGS84 range", ErrInvalidBoundingBox, b.Tuple())
	}
	if b.Left > b.Right || b.Bottom > b.Top {
		return fmt.Errorf("%w: %v is inverted", ErrInvalidBoundingBox, b.Tuple())
	}
	return nil
}

// Tuple returns the box as (left, bottom, right, top).
func (b BoundingBox) Tuple() [4]float64 {
	return [4]float64{b.Left, b.Bottom, b.Right, b.Top}
}

// Dataset is a user-submitted raster under management.
//
// FileName, SHA256 and BBox stay empty until the last upload chunk has been
// received and the raster has been read successfully.
type Dataset struct {
	ID        int64         `json:"id"`
	UploadID  string        `json:"upload_id"`
	FileName  string        `json:"file_name"`
	FileAlias string        `json:"file_alias"`
	FileSize  int64         `json:"file_size"`
	CopyTime  float64       `json:"copy_time"`
	SHA256    string        `json:"sha256,omitempty"`
	BBox      *BoundingBox  `json:"bbox,omitempty"`
	Status    DatasetStatus `json:"status"`
	UserID    uuid.UUID     `json:"user_id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewUploadingDataset creates the record written when the first chunk of an
// upload arrives.
func NewUploadingDataset(uploadID, fileAlias string, userID uuid.UUID) (*Dataset, error) {
	now := time.Now().UTC()
	d := &Dataset{
		UploadID:  uploadID,
		FileAlias: fileAlias,
		Status:    DatasetStatusUploading,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks if the Dataset has valid data.
func (d *Dataset) Validate() error {
	if d.UploadID == "" {
		return fmt.Errorf("%w: upload ID cannot be empty", ErrValidation)
	}
	if d.UserID == uuid.Nil {
		return fmt.Errorf("%w: user ID cannot be empty", ErrValidation)
	}
	if d.FileAlias == "" {
		return fmt.Errorf("%w: file alias cannot be empty", ErrValidation)
	}
	if !d.Status.Valid() {
		return ErrInvalidDatasetStatus
	}
	if d.BBox != nil {
		if err := d.BBox.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FileStem returns the storage file name without directory and extension.
// Remote paths of derived products are namespaced by it.
func (d *Dataset) FileStem() string {
	return FileStem(d.FileName)
}

// FileStem strips directory and extension from a file name.
func FileStem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
