// Package storage provides the GORM-backed queue storage for jobflow.
//
// GormStorage implements core.Storage on SQLite and PostgreSQL. On
// PostgreSQL, Dequeue locks rows with FOR UPDATE SKIP LOCKED so concurrent
// workers never claim the same job.
package storage
