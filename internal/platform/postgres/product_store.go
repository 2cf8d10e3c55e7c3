package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
)

// PostgresProductStore implements store.ProductStore. Every record is keyed
// by dataset and replaced on conflict.
type PostgresProductStore struct {
	db     store.DBTX
	tables Tables
	logger *slog.Logger
}

// NewPostgresProductStore creates a product store on db for the given table set.
func NewPostgresProductStore(db store.DBTX, tables Tables, logger *slog.Logger) *PostgresProductStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProductStore{
		db:     db,
		tables: tables,
		logger: logger.With(slog.String("component", "product_store")),
	}
}

// Ensure PostgresProductStore implements store.ProductStore interface
var _ store.ProductStore = (*PostgresProductStore)(nil)

// UpsertCog implements store.ProductStore.UpsertCog
func (s *PostgresProductStore) UpsertCog(ctx context.Context, c *domain.CogRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dataset_id, cog_folder, cog_name, cog_url, cog_size, runtime, user_id,
			compression, overviews, tiling_scheme, resolution, blocksize, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dataset_id) DO UPDATE SET
			cog_folder = EXCLUDED.cog_folder, cog_name = EXCLUDED.cog_name, cog_url = EXCLUDED.cog_url,
			cog_size = EXCLUDED.cog_size, runtime = EXCLUDED.runtime, user_id = EXCLUDED.user_id,
			compression = EXCLUDED.compression, overviews = EXCLUDED.overviews,
			tiling_scheme = EXCLUDED.tiling_scheme, resolution = EXCLUDED.resolution,
			blocksize = EXCLUDED.blocksize`, s.tables.Cogs)

	_, err := s.db.ExecContext(ctx, query,
		c.DatasetID, c.CogFolder, c.CogName, c.CogURL, c.CogSize, c.Runtime, c.UserID,
		c.Compression, c.Overviews, c.TilingScheme, c.Resolution, c.Blocksize, time.Now().UTC())
	return s.result(ctx, "cog", c.DatasetID, err)
}

// UpsertThumbnail implements store.ProductStore.UpsertThumbnail
func (s *PostgresProductStore) UpsertThumbnail(ctx context.Context, t *domain.ThumbnailRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dataset_id, thumbnail_path, user_id, runtime, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id) DO UPDATE SET
			thumbnail_path = EXCLUDED.thumbnail_path, user_id = EXCLUDED.user_id,
			runtime = EXCLUDED.runtime`, s.tables.Thumbnails)

	_, err := s.db.ExecContext(ctx, query,
		t.DatasetID, t.ThumbnailPath, t.UserID, t.Runtime, time.Now().UTC())
	return s.result(ctx, "thumbnail", t.DatasetID, err)
}

// UpsertGeoTiffInfo implements store.ProductStore.UpsertGeoTiffInfo
func (s *PostgresProductStore) UpsertGeoTiffInfo(ctx context.Context, i *domain.GeoTiffInfo) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dataset_id, driver, width, height, band_count, block_width, block_height,
			overview_count, crs, compression)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dataset_id) DO UPDATE SET
			driver = EXCLUDED.driver, width = EXCLUDED.width, height = EXCLUDED.height,
			band_count = EXCLUDED.band_count, block_width = EXCLUDED.block_width,
			block_height = EXCLUDED.block_height, overview_count = EXCLUDED.overview_count,
			crs = EXCLUDED.crs, compression = EXCLUDED.compression`, s.tables.GeoTiffInfo)

	_, err := s.db.ExecContext(ctx, query,
		i.DatasetID, i.Driver, i.Width, i.Height, i.BandCount, i.BlockWidth, i.BlockHeight,
		i.OverviewCount, i.CRS, i.Compression)
	return s.result(ctx, "geotiff info", i.DatasetID, err)
}

func (s *PostgresProductStore) result(ctx context.Context, entity string, datasetID int64, err error) error {
	if err == nil {
		return nil
	}
	s.logger.ErrorContext(ctx, "failed to upsert product record",
		slog.String("entity", entity),
		slog.Int64("dataset_id", datasetID),
		slog.String("error", err.Error()))
	return store.NewStoreError(entity, "upsert", "write failed", MapError(err))
}

// PostgresLabelStore implements store.LabelStore.
type PostgresLabelStore struct {
	db     store.DBTX
	tables Tables
}

// NewPostgresLabelStore creates a label store on db for the given table set.
func NewPostgresLabelStore(db store.DBTX, tables Tables) *PostgresLabelStore {
	return &PostgresLabelStore{db: db, tables: tables}
}

// Ensure PostgresLabelStore implements store.LabelStore interface
var _ store.LabelStore = (*PostgresLabelStore)(nil)

// Insert implements store.LabelStore.Insert
func (s *PostgresLabelStore) Insert(ctx context.Context, l *domain.Label) error {
	if len(l.Label) == 0 || len(l.AOI) == 0 {
		return fmt.Errorf("%w: label and aoi geometries are required", store.ErrInvalidEntity)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (dataset_id, user_id, label, aoi, label_source, label_type, label_quality, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`, s.tables.Labels)

	err := s.db.QueryRowContext(ctx, query,
		l.DatasetID, l.UserID, []byte(l.Label), []byte(l.AOI),
		l.LabelSource, l.LabelType, l.LabelQuality, time.Now().UTC(),
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return store.NewStoreError("label", "insert", "write failed", MapError(err))
	}
	return nil
}
