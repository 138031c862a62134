package ixdb

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const trackTxns = true

type DB struct {
	st      Storage
	schema  *Schema
	logf    func(format string, args ...any)
	logger  *slog.Logger
	verbose bool
	strict  bool

	tableStates []*tableState

	// writeLock is the writer slot, held from BeginWrite until the
	// transaction ends.
	writeLock sync.Mutex
	gen       atomic.Uint64

	lastSize           atomic.Int64
	ReaderCount        atomic.Int64
	WriterCount        atomic.Int64
	PendingWriterCount atomic.Int64
	ReadCount          atomic.Uint64
	WriteCount         atomic.Uint64

	metrics *dbMetrics

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	// Logf receives verbose per-operation logs. Defaults to log.Printf.
	Logf func(format string, args ...any)

	// Logger receives lifecycle events like reindexing. Defaults to slog.Default().
	Logger *slog.Logger

	Verbose   bool
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
	ReadOnly  bool
}

// Open opens a Bolt database file at path.
func Open(path string, schema *Schema, opt Options) (*DB, error) {
	st, err := OpenBolt(path, opt)
	if err != nil {
		return nil, err
	}
	db, err := OpenStorage(st, schema, opt)
	if err != nil {
		st.Close()
		return nil, err
	}
	return db, nil
}

// OpenStorage prepares st for schema: creates buckets of new tables,
// indices and blobs, fills new indices and drops removed ones.
func OpenStorage(st Storage, schema *Schema, opt Options) (*DB, error) {
	db := &DB{
		st:          st,
		schema:      schema,
		logf:        opt.Logf,
		logger:      opt.Logger,
		verbose:     opt.Verbose,
		tableStates: make([]*tableState, len(schema.tables)),
		strict:      opt.IsTesting,
		metrics:     newMetrics(),
	}
	if db.logf == nil {
		db.logf = log.Printf
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}
	db.metrics.bind(db)

	if opt.ReadOnly {
		err := db.loadSchema()
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	tx, err := db.BeginWrite()
	if err != nil {
		return nil, err
	}
	tx.internal = true
	defer tx.Close()

	now := time.Now()
	for i, tbl := range schema.tables {
		db.tableStates[i], err = prepareTable(db, tx.stx, tbl, now, true)
		if err != nil {
			return nil, err
		}
	}
	for _, ts := range db.tableStates {
		if err := ts.migrate(tx); err != nil {
			return nil, fmt.Errorf("reindexing %s: %w", ts.table.name, err)
		}
	}
	if err := tx.flush(); err != nil {
		return nil, err
	}
	for _, ts := range db.tableStates {
		if err := ts.save(tx.stx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) loadSchema() error {
	stx, err := db.st.BeginTx(false)
	if err != nil {
		return backendErr(err, "begin")
	}
	defer stx.Rollback()
	now := time.Now()
	for i, tbl := range db.schema.tables {
		db.tableStates[i], err = prepareTable(db, stx, tbl, now, false)
		if err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Schema() *Schema {
	return db.schema
}

func (db *DB) Storage() Storage {
	return db.st
}

// Size is the database size as of the last write commit.
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) Close() error {
	err := db.st.Close()
	if err != nil {
		return backendErr(err, "closing")
	}
	return nil
}

func (db *DB) BeginRead() (*Tx, error) {
	stx, err := db.st.BeginTx(false)
	if err != nil {
		return nil, backendErr(err, "begin read")
	}
	db.ReaderCount.Add(1)
	db.ReadCount.Add(1)
	return db.newTx(stx, false, false), nil
}

// BeginWrite waits for the writer slot and starts a write transaction.
func (db *DB) BeginWrite() (*Tx, error) {
	db.PendingWriterCount.Add(1)
	db.writeLock.Lock()
	db.PendingWriterCount.Add(-1)
	return db.beginWriteLocked()
}

// TryBeginWrite is BeginWrite that fails with ErrConflict instead of
// waiting when another write transaction is open.
func (db *DB) TryBeginWrite() (*Tx, error) {
	if !db.writeLock.TryLock() {
		db.metrics.conflicts.Inc()
		return nil, ErrConflict
	}
	return db.beginWriteLocked()
}

func (db *DB) beginWriteLocked() (*Tx, error) {
	stx, err := db.st.BeginTx(true)
	if err != nil {
		db.writeLock.Unlock()
		return nil, backendErr(err, "begin write")
	}
	db.WriterCount.Add(1)
	db.WriteCount.Add(1)
	return db.newTx(stx, true, false), nil
}

func (db *DB) Read(f func(tx *Tx)) {
	tx := must(db.BeginRead())
	defer tx.Close()
	f(tx)
}

func (db *DB) ReadErr(f func(tx *Tx) error) error {
	tx, err := db.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	return f(tx)
}

func (db *DB) Write(f func(tx *Tx)) {
	tx := must(db.BeginWrite())
	defer tx.Close()
	f(tx)
	err := tx.Commit()
	if err != nil {
		panic(fmt.Errorf("commit: %w", err))
	}
}

// Tx runs f in a transaction, committing a writable one if f succeeds.
// Panics inside f are returned as errors.
func (db *DB) Tx(writable bool, f func(tx *Tx) error) error {
	var tx *Tx
	var err error
	if writable {
		tx, err = db.BeginWrite()
	} else {
		tx, err = db.BeginRead()
	}
	if err != nil {
		return err
	}
	tx.managed = true
	defer tx.Close()

	err = safelyCall(f, tx)
	if err != nil {
		return err
	}
	if writable {
		return tx.Commit()
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		mode := "read"
		if tx.writable {
			mode = "write"
		}
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms\n", mode, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms:\n%s", mode, ms, tx.stack)
		}
	}

	return buf.String()
}

// IsSchemaMismatch reports whether err means the stored data does not fit
// the declared schema.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}
