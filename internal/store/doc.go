// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic: the pipeline and services depend on them,
// while internal/platform/postgres provides the production implementations.
package store
