package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique", &pgconn.PgError{Code: uniqueViolationCode}, store.ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: foreignKeyViolationCode}, store.ErrInvalidEntity},
		{"check", &pgconn.PgError{Code: checkViolationCode}, store.ErrInvalidEntity},
		{"not null", &pgconn.PgError{Code: notNullViolationCode}, store.ErrInvalidEntity},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolationCode}), store.ErrDuplicate},
		{"unmapped", plain, plain},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, MapError(tc.err), tc.want)
		})
	}

	assert.NoError(t, MapError(nil))
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	notFound := fmt.Errorf("%w: id 1", store.ErrTaskNotFound)

	assert.NoError(t, CheckRowsAffected(sqlmock.NewResult(0, 1), notFound))
	assert.ErrorIs(t, CheckRowsAffected(sqlmock.NewResult(0, 0), notFound), store.ErrTaskNotFound)
	assert.ErrorIs(t, CheckRowsAffected(sqlmock.NewResult(0, 0), nil), store.ErrNotFound)
	assert.Error(t, CheckRowsAffected(sqlmock.NewErrorResult(errors.New("unsupported")), notFound))
	assert.Error(t, CheckRowsAffected(nil, notFound))
}

func TestMapUniqueViolation(t *testing.T) {
	t.Parallel()

	err := MapUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}, store.ErrFileNameExists)
	assert.ErrorIs(t, err, store.ErrFileNameExists)
	assert.True(t, store.IsDuplicateError(err))

	err = MapUniqueViolation(sql.ErrNoRows, store.ErrFileNameExists)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
