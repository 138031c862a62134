package ixdb

// Storage is an ordered key-value backend (Bolt, in-memory, etc.).
// Anything implementing this family of interfaces can back a DB.
type Storage interface {
	// BeginTx starts a new transaction. Writable transactions must be
	// serialized by the backend; read transactions see a snapshot.
	BeginTx(writable bool) (StorageTx, error)
	Close() error
}

type StorageTx interface {
	Writable() bool

	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for a nested bucket.
	// Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) StorageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	// For sub != "", it must also ensure the root bucket exists.
	CreateBucket(name, sub string) (StorageBucket, error)

	// DeleteBucket deletes a nested bucket (sub must be non-empty).
	DeleteBucket(name, sub string) error

	// BucketNames lists root buckets when name is empty, otherwise the
	// buckets nested in the given root, in ascending order.
	BucketNames(name string) ([]string, error)

	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64

	// Err returns the first failure of a method that has no error result
	// (Bucket, Get, Stats, cursor moves). Such a method reports nothing
	// found, so callers check Err before trusting an empty result.
	// Backends whose reads cannot fail return nil.
	Err() error
}

// StorageBucket is a sorted key-value collection. Slices returned by Get
// and by cursors are only valid until the transaction ends or the bucket
// is modified.
type StorageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() StorageCursor

	// Stats returns storage-specific bucket statistics.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() BucketStats
}

type BucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s BucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

type StorageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key that has the given prefix, or to the
	// last key before where such keys would be.
	SeekLast(prefix []byte) (key, value []byte)

	Next() (key, value []byte)
	Prev() (key, value []byte)
}
