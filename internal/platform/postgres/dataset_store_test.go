package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var datasetColumnNames = []string{
	"id", "upload_id", "file_name", "file_alias", "file_size", "copy_time", "sha256",
	"bbox_left", "bbox_bottom", "bbox_right", "bbox_top", "status", "user_id", "created_at", "updated_at",
}

func newDatasetStore(t *testing.T) (*PostgresDatasetStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresDatasetStore(db, MustTables("v1_"), nil), mock
}

func TestPostgresDatasetStore_CreateUploading(t *testing.T) {
	t.Parallel()

	s, mock := newDatasetStore(t)
	userID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO v1_datasets .* ON CONFLICT \(upload_id\) DO UPDATE`).
		WithArgs("up-1", "ortho.tif", domain.DatasetStatusUploading, userID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(datasetColumnNames).AddRow(
			int64(11), "up-1", nil, "ortho.tif", int64(0), 0.0, nil,
			nil, nil, nil, nil, "uploading", userID.String(), now, now))

	d, err := domain.NewUploadingDataset("up-1", "ortho.tif", userID)
	require.NoError(t, err)

	created, err := s.CreateUploading(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(11), created.ID)
	assert.Equal(t, domain.DatasetStatusUploading, created.Status)
	assert.Empty(t, created.FileName)
	assert.Nil(t, created.BBox)
	assert.Equal(t, userID, created.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDatasetStore_CreateUploadingInvalid(t *testing.T) {
	t.Parallel()

	s, mock := newDatasetStore(t)
	_, err := s.CreateUploading(context.Background(), &domain.Dataset{UploadID: "x"})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDatasetStore_GetByID(t *testing.T) {
	t.Parallel()

	t.Run("found with bounds", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		userID := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(`SELECT .* FROM v1_datasets WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(datasetColumnNames).AddRow(
				int64(5), "up-5", "abc_ortho.tif", "ortho.tif", int64(1024), 3.5, "deadbeef",
				8.1, 47.9, 8.2, 48.0, "uploaded", userID.String(), now, now))

		d, err := s.GetByID(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, "abc_ortho.tif", d.FileName)
		assert.Equal(t, "deadbeef", d.SHA256)
		require.NotNil(t, d.BBox)
		assert.Equal(t, [4]float64{8.1, 47.9, 8.2, 48.0}, d.BBox.Tuple())
		assert.True(t, d.Status.Eligible())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		mock.ExpectQuery(`SELECT .* FROM v1_datasets WHERE id = \$1`).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(datasetColumnNames))

		_, err := s.GetByID(context.Background(), 404)
		assert.ErrorIs(t, err, store.ErrDatasetNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})
}

func TestPostgresDatasetStore_Finalize(t *testing.T) {
	t.Parallel()

	fin := store.DatasetFinalization{
		FileName: "b1c2_ortho.tif",
		FileSize: 3 * 1024,
		CopyTime: 12.5,
		SHA256:   "e3b0c44298fc1c149afbf4c8996fb924",
		BBox:     domain.BoundingBox{Left: 8.1, Bottom: 47.9, Right: 8.2, Top: 48.0},
	}

	t.Run("writes hash and bounds in one update", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		userID := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(`UPDATE v1_datasets SET file_name = \$1, file_size = \$2, copy_time = \$3, sha256 = \$4`).
			WithArgs(fin.FileName, fin.FileSize, fin.CopyTime, fin.SHA256,
				8.1, 47.9, 8.2, 48.0, domain.DatasetStatusUploaded, sqlmock.AnyArg(), int64(3)).
			WillReturnRows(sqlmock.NewRows(datasetColumnNames).AddRow(
				int64(3), "up-3", fin.FileName, "ortho.tif", fin.FileSize, fin.CopyTime, fin.SHA256,
				8.1, 47.9, 8.2, 48.0, "uploaded", userID.String(), now, now))

		d, err := s.Finalize(context.Background(), 3, fin)
		require.NoError(t, err)
		assert.Equal(t, domain.DatasetStatusUploaded, d.Status)
		assert.Equal(t, fin.SHA256, d.SHA256)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate file name", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		mock.ExpectQuery(`UPDATE v1_datasets`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "v1_datasets_file_name_key"})

		_, err := s.Finalize(context.Background(), 3, fin)
		assert.ErrorIs(t, err, store.ErrFileNameExists)
	})

	t.Run("rejects missing hash", func(t *testing.T) {
		t.Parallel()
		s, _ := newDatasetStore(t)
		bad := fin
		bad.SHA256 = ""
		_, err := s.Finalize(context.Background(), 3, bad)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("rejects inverted bounds", func(t *testing.T) {
		t.Parallel()
		s, _ := newDatasetStore(t)
		bad := fin
		bad.BBox = domain.BoundingBox{Left: 9, Bottom: 47.9, Right: 8, Top: 48}
		_, err := s.Finalize(context.Background(), 3, bad)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestPostgresDatasetStore_UpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("updates", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		mock.ExpectExec(`UPDATE v1_datasets SET status = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs(domain.DatasetStatusErrored, sqlmock.AnyArg(), int64(8)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.UpdateStatus(context.Background(), 8, domain.DatasetStatusErrored))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing dataset", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		mock.ExpectExec(`UPDATE v1_datasets`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.UpdateStatus(context.Background(), 8, domain.DatasetStatusErrored)
		assert.ErrorIs(t, err, store.ErrDatasetNotFound)
	})

	t.Run("driver error", func(t *testing.T) {
		t.Parallel()
		s, mock := newDatasetStore(t)
		mock.ExpectExec(`UPDATE v1_datasets`).WillReturnError(errors.New("connection reset"))

		err := s.UpdateStatus(context.Background(), 8, domain.DatasetStatusErrored)
		assert.Error(t, err)
		assert.False(t, store.IsNotFoundError(err))
	})
}
