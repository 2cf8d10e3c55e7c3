// Package postgres implements the store interfaces on PostgreSQL through
// database/sql and the pgx driver. Table names are derived from a prefix so
// several environments can share one database, and the schema is managed by
// embedded goose migrations.
package postgres
