package store

import (
	"context"

	"github.com/devrev/meshplane/internal/model"
)

// NodeStore holds the registry's membership state.
// Implementations must be safe for concurrent use.
type NodeStore interface {
	// Insert adds a record. It fails with a duplicate registration error if
	// the id is already present and leaves the existing record untouched.
	Insert(ctx context.Context, node *model.NodeRecord) error

	// Get returns the record for id or a not found error.
	Get(ctx context.Context, id string) (*model.NodeRecord, error)

	// List returns a snapshot of all records in no particular order.
	List(ctx context.Context) ([]*model.NodeRecord, error)

	// Delete removes id and reports whether it was present.
	Delete(ctx context.Context, id string) (bool, error)

	// Count returns the number of records.
	Count() int
}
