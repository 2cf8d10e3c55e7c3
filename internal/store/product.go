package store

import (
	"context"

	"github.com/orthoflow/orthoflow/internal/domain"
)

// ProductStore persists records of derived products. Each upsert replaces the
// previous record for the same dataset.
type ProductStore interface {
	UpsertCog(ctx context.Context, rec *domain.CogRecord) error
	UpsertThumbnail(ctx context.Context, rec *domain.ThumbnailRecord) error
	UpsertGeoTiffInfo(ctx context.Context, info *domain.GeoTiffInfo) error
}

// LabelStore persists vector labels.
type LabelStore interface {
	// Insert stores a new label and fills in its ID.
	Insert(ctx context.Context, label *domain.Label) error
}
