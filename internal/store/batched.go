package store

import "sync"

// BatchedStore buffers run inserts in memory using fake (negative) IDs.
// It implements DataStore so decoration workers can write to it without
// knowing whether they're hitting SQLite or an in-memory buffer.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// Read queries are passed through to the underlying Store, which is safe
// for concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	Constants []Constant
	Locations []Location
	Outputs   []Output

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertConstant(c *Constant) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	c.ID = fakeID
	b.Constants = append(b.Constants, *c)
	return fakeID, nil
}

func (b *BatchedStore) InsertLocation(loc *Location) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	loc.ID = fakeID
	b.Locations = append(b.Locations, *loc)
	return fakeID, nil
}

func (b *BatchedStore) InsertOutput(out *Output) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	out.ID = fakeID
	b.Outputs = append(b.Outputs, *out)
	return fakeID, nil
}

// OutputByConstant returns a buffered output for name if one exists,
// otherwise passes through to the underlying Store.
func (b *BatchedStore) OutputByConstant(name string) (*Output, error) {
	b.mu.Lock()
	for i := len(b.Outputs) - 1; i >= 0; i-- {
		if b.Outputs[i].Constant == name {
			out := b.Outputs[i]
			b.mu.Unlock()
			return &out, nil
		}
	}
	b.mu.Unlock()
	return b.store.OutputByConstant(name)
}

// Empty reports whether nothing has been buffered.
func (b *BatchedStore) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Constants) == 0 && len(b.Locations) == 0 && len(b.Outputs) == 0
}
