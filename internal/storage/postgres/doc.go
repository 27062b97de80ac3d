//go:build postgres

// Package postgres implements the storage capability-set interfaces on top
// of PostgreSQL with pgvector: a networked, multi-writer-capable backend
// for deployments past the single-process scale the default sqlite backend
// targets. It is built behind the "postgres" Go build tag so the default
// build stays pure-Go/CGO-free (modernc.org/sqlite requires no C toolchain;
// lib/pq and pgvector-go do not either, but the tag keeps the default
// dependency surface minimal).
//
// Build with: go build -tags postgres ./...
package postgres
