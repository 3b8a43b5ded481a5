package store

// DataStore is the interface for generation-phase writes. Both Store
// (direct SQLite) and BatchedStore (in-memory buffering for parallel
// decoration) implement it.
type DataStore interface {
	// Inserts return the assigned ID.
	InsertConstant(c *Constant) (int64, error)
	InsertLocation(loc *Location) (int64, error)
	InsertOutput(out *Output) (int64, error)

	// OutputByConstant returns the latest committed output for a constant,
	// used to skip rewriting unchanged files.
	OutputByConstant(name string) (*Output, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
