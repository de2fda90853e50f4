/*
Package docstore defines the document database contract the sales and
reporting services are written against.

Three implementations exist:
  - internal/repository/mongodb: production, MongoDB sessions + WithTransaction
  - internal/repository/sqlite:  embedded, optimistic versioning on a single table
  - internal/repository/memory:  tests and local development

TRANSACTIONS:

	RunTransaction runs fn with a Tx. Inside one call to fn every Get must happen
	before the first Set or Update; the guard returned by Guard enforces it with
	ErrReadAfterWrite. When a concurrent writer touched a document that fn read,
	the store re-runs fn from scratch. Callers never retry by hand.
*/
package docstore

import "context"

// IDField is the key under which a document carries its identifier.
const IDField = "_id"

// Collection names shared by every store implementation.
const (
	CollectionProducts   = "products"
	CollectionMembers    = "members"
	CollectionSales      = "sales"
	CollectionPayments   = "payments"
	CollectionAggregates = "monthly_aggregates"
	CollectionOutbox     = "aggregate_outbox"
)

// Document is a schemaless record. Values are whatever the backing store
// decodes; read them through the coerce package.
type Document map[string]any

// ID returns the document identifier or "".
func (d Document) ID() string {
	if d == nil {
		return ""
	}
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Update describes a partial mutation: Inc adds numeric deltas atomically,
// Set overwrites individual fields.
type Update struct {
	Inc map[string]any
	Set map[string]any
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return len(u.Inc) == 0 && len(u.Set) == 0
}

// Store is the document database.
type Store interface {
	// Get returns ErrNotFound when the document is absent.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns every document of collection matching filter. An empty
	// filter matches all documents.
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// RunTransaction executes fn atomically. An error returned by fn aborts
	// the transaction and is returned unchanged. Exhausted conflict retries
	// return an error wrapping ErrAborted.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store inside one transaction attempt.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, doc Document) error
	Update(ctx context.Context, collection, id string, update Update) error
}
