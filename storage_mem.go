package ixdb

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
)

const memBucketSep = "\x00"

var errStorageClosed = errors.New("storage closed")

// memStorage keeps every bucket as an immutable sorted slice. A transaction
// snapshots the bucket map, and a write transaction copies a bucket the first
// time it modifies it, so readers never observe uncommitted changes.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

// NewMemStorage returns a transient in-memory Storage, mostly for tests.
func NewMemStorage() Storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (StorageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStorageClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, errStorageClosed
		}
		s.writer = true
	}
	tx := &memTx{
		writable: writable,
		base:     s,
		buckets:  maps.Clone(s.buckets),
	}
	if writable {
		tx.owned = make(map[string]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	owned    map[string]bool // buckets already copied by this tx
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) checkOpen() {
	if tx.closed {
		panic("ixdb: memory storage tx is closed")
	}
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

// mutable returns the tx-private copy of a bucket, copying it on first use.
func (tx *memTx) mutable(key string) (*memBucket, error) {
	if !tx.writable {
		return nil, ErrReadOnly
	}
	b := tx.buckets[key]
	if b == nil {
		return nil, ErrBucketNotFound
	}
	if !tx.owned[key] {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.buckets[key] = b
		tx.owned[key] = true
	}
	return b, nil
}

func (tx *memTx) Bucket(name, sub string) StorageBucket {
	tx.checkOpen()
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return nil
	}
	return memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(name, sub string) (StorageBucket, error) {
	tx.checkOpen()
	if !tx.writable {
		return nil, ErrReadOnly
	}
	// bbolt keeps nested buckets inside their root, so the root must exist too
	for _, key := range []string{memBucketKey(name, ""), memBucketKey(name, sub)} {
		if tx.buckets[key] == nil {
			tx.buckets[key] = &memBucket{}
			tx.owned[key] = true
		}
	}
	return memBucketHandle{tx: tx, key: memBucketKey(name, sub)}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	tx.checkOpen()
	if !tx.writable {
		return ErrReadOnly
	}
	key := memBucketKey(name, sub)
	if sub == "" || tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	delete(tx.owned, key)
	return nil
}

func (tx *memTx) BucketNames(name string) ([]string, error) {
	tx.checkOpen()
	var names []string
	if name == "" {
		for k := range tx.buckets {
			if root, ok := strings.CutSuffix(k, memBucketSep); ok {
				names = append(names, root)
			}
		}
	} else {
		prefix := memBucketKey(name, "")
		if tx.buckets[prefix] == nil {
			return nil, ErrBucketNotFound
		}
		for k := range tx.buckets {
			if sub, ok := strings.CutPrefix(k, prefix); ok && sub != "" {
				names = append(names, sub)
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return ErrReadOnly
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return errStorageClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 {
	var n int64
	for _, b := range tx.buckets {
		n += b.inuse()
	}
	return n
}

func (tx *memTx) Err() error { return nil }

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memBucket struct {
	items []memKV // sorted by key
}

type memKV struct {
	key   []byte
	value []byte
}

func (b *memBucket) find(key []byte) (int, bool) {
	return slices.BinarySearchFunc(b.items, key, func(kv memKV, k []byte) int {
		return bytes.Compare(kv.key, k)
	})
}

func (b *memBucket) inuse() int64 {
	var n int64
	for _, kv := range b.items {
		n += int64(len(kv.key) + len(kv.value))
	}
	return n
}

// memBucketHandle resolves its bucket on every call, so it keeps working
// after the tx has replaced the bucket with a private copy.
type memBucketHandle struct {
	tx  *memTx
	key string
}

func (h memBucketHandle) bucket() *memBucket {
	if b := h.tx.buckets[h.key]; b != nil {
		return b
	}
	return &memBucket{}
}

func (h memBucketHandle) Get(key []byte) []byte {
	b := h.bucket()
	if i, found := b.find(key); found {
		return b.items[i].value
	}
	return nil
}

func (h memBucketHandle) Put(key, value []byte) error {
	b, err := h.tx.mutable(h.key)
	if err != nil {
		return err
	}
	kv := memKV{key: slices.Clone(key), value: slices.Clone(value)}
	if kv.value == nil {
		kv.value = []byte{}
	}
	if i, found := b.find(key); found {
		b.items[i] = kv
	} else {
		b.items = slices.Insert(b.items, i, kv)
	}
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	b, err := h.tx.mutable(h.key)
	if err != nil {
		return err
	}
	if i, found := b.find(key); found {
		b.items = slices.Delete(b.items, i, i+1)
	}
	return nil
}

func (h memBucketHandle) Cursor() StorageCursor {
	return &memCursor{b: h.bucket(), pos: -1}
}

func (h memBucketHandle) Stats() BucketStats {
	b := h.bucket()
	inuse := b.inuse()
	return BucketStats{
		KeyN:      len(b.items),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

// memCursor iterates the bucket version current at creation.
type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i < 0 || i >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[i]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(0)
}

func (c *memCursor) Last() ([]byte, []byte) {
	return c.at(len(c.b.items) - 1)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.b.find(seek)
	return c.at(i)
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := clone(prefix)
	if len(limit) == 0 || !inc(limit) {
		return c.Last()
	}
	i, _ := c.b.find(limit)
	return c.at(i - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	if c.pos >= len(c.b.items) {
		return nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos <= 0 {
		c.pos = -1
		return nil, nil
	}
	return c.at(c.pos - 1)
}
