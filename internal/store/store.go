// Package store persists tenant records as versioned JSON documents and
// reports every outcome through a Result, so "not found" is never an error
// and transport failures are never mistaken for absence.
package store

import (
	"context"
	"time"

	"github.com/calderhq/tiergate/internal/safedoc"
)

// Record is one persisted tenant document plus its concurrency metadata.
// An absent record has Document.Exists() == false and Version == 0.
type Record struct {
	safedoc.Document

	TenantID string
	Version  int64
}

// AbsentRecord returns the record representing "no matching row".
func AbsentRecord() Record {
	return Record{Document: safedoc.Absent()}
}

// Query narrows FindMany. Zero values mean "no constraint".
type Query struct {
	// ExpiresBefore matches records whose tier_expires_at is set and earlier
	// than the given instant.
	ExpiresBefore *time.Time

	// MinTier matches records whose stored tier is at least this value.
	MinTier int

	// Limit caps the number of returned records. 0 means no cap.
	Limit int
}

// TenantStore is the persistence contract the entitlement core consumes.
//
// ConditionalUpdate implements optimistic concurrency: with expectedVersion 0
// it inserts only if the record is absent; with expectedVersion > 0 it
// updates only if the stored version still matches. In both cases a condition
// miss is a successful result with an absent payload, which callers treat as
// a write conflict and retry against fresh state.
type TenantStore interface {
	FindOne(ctx context.Context, tenantID string) Result[Record]
	FindMany(ctx context.Context, q Query) Result[[]Record]
	Upsert(ctx context.Context, tenantID string, doc []byte) Result[Record]
	ConditionalUpdate(ctx context.Context, tenantID string, expectedVersion int64, doc []byte) Result[Record]
}

// Config configures the backing database.
type Config struct {
	// Dialect selects the driver. Only sqlite is supported.
	Dialect string `conf:"dialect" yaml:"dialect" json:"dialect"`

	// DSN is the database path or URI, e.g. file:tiergate.db or :memory:.
	DSN string `conf:"dsn" yaml:"dsn" json:"dsn"`
}
