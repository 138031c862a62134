package ixdb

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

type Txish interface {
	DBTx() *Tx
}

// Tx is either the single write transaction of a DB or one of many read
// transactions. A Tx must be used from one goroutine at a time.
//
// Mutations of a write transaction are queued and applied in priority
// order before the next read and at commit, all within the same backend
// transaction.
type Tx struct {
	db        *DB
	stx       StorageTx
	writable  bool
	managed   bool
	internal  bool // schema preparation at open, not counted in metrics
	closed    bool
	committed bool

	// gen identifies the current state of stx; borrowed values compare
	// against it. Zero once closed.
	gen uint64

	// err makes the transaction unusable after a failed drain.
	err error

	queue   opQueue
	views   []*tableView
	applied [numTableKinds]int

	memo map[string]any

	startTime time.Time
	stack     string
}

// tableView holds the buckets of one table opened in a transaction.
type tableView struct {
	tbl     *Table
	data    StorageBucket
	indices []StorageBucket
	blobs   []StorageBucket
}

func (db *DB) newTx(stx StorageTx, writable, managed bool) *Tx {
	tx := &Tx{
		db:        db,
		stx:       stx,
		writable:  writable,
		managed:   managed,
		gen:       db.gen.Add(1),
		views:     make([]*tableView, len(db.schema.tables)),
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = string(debug.Stack())
		db.addTx(tx)
	}
	return tx
}

// DBTx implements Txish
func (tx *Tx) DBTx() *Tx {
	return tx
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Schema() *Schema {
	return tx.db.schema
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

func (tx *Tx) IsClosed() bool {
	return tx.closed
}

// Generation changes whenever previously read bytes may have become
// invalid. It is zero after the transaction ends.
func (tx *Tx) Generation() uint64 {
	return tx.gen
}

// Err returns the error that made the transaction unusable, if any.
func (tx *Tx) Err() error {
	return tx.err
}

func (tx *Tx) usable() error {
	if tx.closed {
		return ErrTxClosed
	}
	return tx.readErr()
}

// readErr picks up a read failure the backend could not return, making
// the transaction unusable.
func (tx *Tx) readErr() error {
	if tx.err == nil {
		if err := tx.stx.Err(); err != nil {
			tx.err = backendErr(err, "read")
		}
	}
	return tx.err
}

// checkRead returns the pending read failure, if any, instead of err:
// a failed read looks like a missing key.
func (tx *Tx) checkRead(err error) error {
	if rerr := tx.readErr(); rerr != nil {
		return rerr
	}
	return err
}

func (tx *Tx) writableCheck() error {
	if err := tx.usable(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrReadOnly
	}
	return nil
}

// flush applies queued operations so that subsequent reads see them.
func (tx *Tx) flush() error {
	if err := tx.usable(); err != nil {
		return err
	}
	if tx.queue.len() == 0 {
		return nil
	}
	err := tx.queue.drain(tx.stx, &tx.applied)
	tx.gen = tx.db.gen.Add(1)
	if err != nil {
		tx.err = err
		if tx.db.verbose {
			tx.db.logf("db: APPLY.FAILED %v", err)
		}
		return err
	}
	return nil
}

// view returns the buckets of tbl after applying pending operations.
func (tx *Tx) view(tbl *Table) (*tableView, error) {
	if err := tx.flush(); err != nil {
		return nil, err
	}
	return tx.cachedView(tbl)
}

func (tx *Tx) cachedView(tbl *Table) (*tableView, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	if tbl.schema != tx.db.schema {
		panic(fmt.Errorf("table %s belongs to a different schema", tbl.name))
	}
	if v := tx.views[tbl.pos]; v != nil {
		return v, nil
	}
	v := &tableView{
		tbl:     tbl,
		data:    tx.stx.Bucket(tbl.name, dataSub),
		indices: make([]StorageBucket, len(tbl.indices)),
		blobs:   make([]StorageBucket, len(tbl.blobs)),
	}
	if v.data == nil {
		return nil, tx.checkRead(tableErrf(tbl, "", nil, ErrSchemaMismatch, "missing data bucket"))
	}
	for i, idx := range tbl.indices {
		v.indices[i] = tx.stx.Bucket(tbl.name, idx.sub)
		if v.indices[i] == nil {
			return nil, tx.checkRead(tableErrf(tbl, idx.name, nil, ErrSchemaMismatch, "missing index bucket"))
		}
	}
	for i, blob := range tbl.blobs {
		v.blobs[i] = tx.stx.Bucket(tbl.name, blob.sub)
		if v.blobs[i] == nil {
			return nil, tx.checkRead(tableErrf(tbl, blob.name, nil, ErrSchemaMismatch, "missing blob bucket"))
		}
	}
	tx.views[tbl.pos] = v
	return v, nil
}

// Commit applies all pending operations and commits. If anything fails,
// nothing is persisted. Committing a read transaction just ends it.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		err := tx.readErr()
		tx.rollback()
		tx.finish(nil)
		return err
	}
	start := time.Now()
	err := tx.flush()
	if err != nil {
		tx.rollback()
		tx.finish(err)
		return err
	}
	size := tx.stx.Size()
	err = tx.stx.Commit()
	if err != nil {
		err = backendErr(err, "commit")
		tx.finish(err)
		return err
	}
	tx.committed = true
	if size > 0 {
		tx.db.lastSize.Store(size)
	}
	if !tx.internal {
		tx.db.metrics.commitDuration.Observe(time.Since(start).Seconds())
	}
	tx.finish(nil)
	return nil
}

// Abort discards everything the transaction did. Safe to call repeatedly.
func (tx *Tx) Abort() {
	if tx.closed {
		return
	}
	tx.rollback()
	tx.finish(errAborted)
}

// Close ends the transaction, aborting it unless it was committed.
func (tx *Tx) Close() {
	tx.Abort()
}

var errAborted = errors.New("aborted")

func (tx *Tx) rollback() {
	err := tx.stx.Rollback()
	if err != nil {
		tx.db.logger.Warn("ixdb: rollback failed", "err", err)
	}
}

func (tx *Tx) finish(err error) {
	tx.closed = true
	tx.gen = 0
	tx.queue.ops = nil
	tx.views = nil

	db := tx.db
	if trackTxns {
		db.removeTx(tx)
	}
	if tx.writable {
		if !tx.internal {
			db.metrics.countWrite(err, &tx.applied)
		}
		db.WriterCount.Add(-1)
		db.writeLock.Unlock()
	} else {
		db.ReaderCount.Add(-1)
	}
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) GetMemo(key string) (any, bool) {
	v, found := tx.memo[key]
	return v, found
}

// Memo caches the result of f for the lifetime of the transaction.
func (tx *Tx) Memo(key string, f func() (any, error)) (any, error) {
	v, found := tx.memo[key]
	if found {
		if e, ok := v.(error); ok {
			return nil, e
		}
		return v, nil
	}

	if tx.memo == nil {
		tx.memo = make(map[string]any)
	}

	v, err := f()
	if err != nil {
		tx.memo[key] = err
	} else {
		tx.memo[key] = v
	}
	return v, err
}

func Memo[T any](txish Txish, key string, f func() (T, error)) (T, error) {
	tx := txish.DBTx()
	v, err := tx.Memo(key, func() (any, error) {
		return f()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
