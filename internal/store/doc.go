// Package store defines the persistence interfaces for datasets, the task
// queue and derived products. Implementations live in internal/platform/postgres.
package store
