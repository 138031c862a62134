// Package sqlitestore keeps an ixdb database in an SQLite file.
//
// All buckets share one WITHOUT ROWID table keyed by (root, sub, k). SQLite
// compares BLOBs with memcmp, so cursors see keys in the same order as with
// bbolt. Readers use a pool of deferred WAL transactions; the writer uses a
// separate single-connection pool whose transactions begin IMMEDIATE.
package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andreyvit/ixdb"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ixdb_buckets (
	root TEXT NOT NULL,
	sub  TEXT NOT NULL,
	PRIMARY KEY (root, sub)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS ixdb_kv (
	root TEXT NOT NULL,
	sub  TEXT NOT NULL,
	k    BLOB NOT NULL,
	v    BLOB NOT NULL,
	PRIMARY KEY (root, sub, k)
) WITHOUT ROWID;
`

type Store struct {
	readers *sql.DB
	writer  *sql.DB // nil when read-only
}

var _ ixdb.Storage = (*Store)(nil)

// Open opens or creates the SQLite file at path. Options.Timeout becomes the
// busy timeout; Options.ReadOnly opens the file read-only.
func Open(path string, opt ixdb.Options) (*Store, error) {
	timeout := 10 * time.Second
	if opt.Timeout != 0 {
		timeout = opt.Timeout
	}
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(timeout.Milliseconds()))
	if opt.ReadOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_journal_mode", "WAL")
		if opt.IsTesting {
			params.Set("_synchronous", "OFF")
		}
	}

	s := &Store{}
	var err error
	s.readers, err = sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	if !opt.ReadOnly {
		params.Set("_txlock", "immediate")
		s.writer, err = sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
		if err != nil {
			s.readers.Close()
			return nil, fmt.Errorf("sqlitestore: %w", err)
		}
		s.writer.SetMaxOpenConns(1)
		if _, err := s.writer.Exec(schemaSQL); err != nil {
			s.Close()
			return nil, fmt.Errorf("sqlitestore: creating tables in %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) BeginTx(writable bool) (ixdb.StorageTx, error) {
	pool := s.readers
	if writable {
		if s.writer == nil {
			return nil, ixdb.ErrReadOnly
		}
		pool = s.writer
	}
	stx, err := pool.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	tx := &sqliteTx{stx: stx, writable: writable}
	// a deferred transaction takes its snapshot at the first read
	var n int
	if err := stx.QueryRow("SELECT COUNT(*) FROM ixdb_buckets WHERE root = ''").Scan(&n); err != nil {
		stx.Rollback()
		return nil, err
	}
	return tx, nil
}

func (s *Store) Close() error {
	var errs []error
	if s.writer != nil {
		errs = append(errs, s.writer.Close())
	}
	errs = append(errs, s.readers.Close())
	return errors.Join(errs...)
}

type sqliteTx struct {
	stx      *sql.Tx
	writable bool
	err      error // first failure of a method that cannot return one
}

func (tx *sqliteTx) fail(err error) {
	if tx.err == nil && err != nil {
		tx.err = err
	}
}

func (tx *sqliteTx) Writable() bool { return tx.writable }

func (tx *sqliteTx) Err() error { return tx.err }

func (tx *sqliteTx) exists(name, sub string) (bool, error) {
	var n int
	err := tx.stx.QueryRow("SELECT COUNT(*) FROM ixdb_buckets WHERE root = ? AND sub = ?", name, sub).Scan(&n)
	return n > 0, err
}

func (tx *sqliteTx) Bucket(name, sub string) ixdb.StorageBucket {
	found, err := tx.exists(name, sub)
	if err != nil {
		tx.fail(err)
		return nil
	}
	if !found {
		return nil
	}
	return &bucket{tx: tx, root: name, sub: sub}
}

func (tx *sqliteTx) CreateBucket(name, sub string) (ixdb.StorageBucket, error) {
	if !tx.writable {
		return nil, ixdb.ErrReadOnly
	}
	for _, s := range []string{"", sub} {
		if _, err := tx.stx.Exec("INSERT OR IGNORE INTO ixdb_buckets (root, sub) VALUES (?, ?)", name, s); err != nil {
			return nil, err
		}
	}
	return &bucket{tx: tx, root: name, sub: sub}, nil
}

func (tx *sqliteTx) DeleteBucket(name, sub string) error {
	if !tx.writable {
		return ixdb.ErrReadOnly
	}
	if sub == "" {
		return ixdb.ErrBucketNotFound
	}
	res, err := tx.stx.Exec("DELETE FROM ixdb_buckets WHERE root = ? AND sub = ?", name, sub)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ixdb.ErrBucketNotFound
	}
	_, err = tx.stx.Exec("DELETE FROM ixdb_kv WHERE root = ? AND sub = ?", name, sub)
	return err
}

func (tx *sqliteTx) BucketNames(name string) ([]string, error) {
	q, args := "SELECT root FROM ixdb_buckets WHERE sub = '' ORDER BY root", []any(nil)
	if name != "" {
		found, err := tx.exists(name, "")
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ixdb.ErrBucketNotFound
		}
		q, args = "SELECT sub FROM ixdb_buckets WHERE root = ? AND sub <> '' ORDER BY sub", []any{name}
	}
	rows, err := tx.stx.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, rows.Err()
}

func (tx *sqliteTx) Commit() error {
	if tx.err != nil {
		tx.stx.Rollback()
		return tx.err
	}
	if !tx.writable {
		return ixdb.ErrReadOnly
	}
	return tx.stx.Commit()
}

func (tx *sqliteTx) Rollback() error {
	err := tx.stx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (tx *sqliteTx) Size() int64 {
	var pages, pageSize int64
	if err := tx.stx.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0
	}
	if err := tx.stx.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

type bucket struct {
	tx   *sqliteTx
	root string
	sub  string
}

func (b *bucket) Get(key []byte) []byte {
	var v []byte
	err := b.tx.stx.QueryRow("SELECT v FROM ixdb_kv WHERE root = ? AND sub = ? AND k = ?", b.root, b.sub, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		b.tx.fail(err)
		return nil
	}
	if v == nil {
		v = []byte{}
	}
	return v
}

func (b *bucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return ixdb.ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	_, err := b.tx.stx.Exec(`INSERT INTO ixdb_kv (root, sub, k, v) VALUES (?, ?, ?, ?)
		ON CONFLICT (root, sub, k) DO UPDATE SET v = excluded.v`, b.root, b.sub, key, value)
	return err
}

func (b *bucket) Delete(key []byte) error {
	if !b.tx.writable {
		return ixdb.ErrReadOnly
	}
	_, err := b.tx.stx.Exec("DELETE FROM ixdb_kv WHERE root = ? AND sub = ? AND k = ?", b.root, b.sub, key)
	return err
}

func (b *bucket) Cursor() ixdb.StorageCursor {
	return &cursor{b: b}
}

func (b *bucket) Stats() ixdb.BucketStats {
	var n int
	var size int64
	err := b.tx.stx.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(k) + LENGTH(v)), 0) FROM ixdb_kv WHERE root = ? AND sub = ?", b.root, b.sub).Scan(&n, &size)
	if err != nil {
		b.tx.fail(err)
	}
	return ixdb.BucketStats{KeyN: n, LeafInuse: size, LeafAlloc: size}
}

// cursor re-queries relative to its current key on every move, so it stays
// correct while the bucket is modified underneath it.
type cursor struct {
	b       *bucket
	key     []byte
	started bool
}

const kvWhere = "FROM ixdb_kv WHERE root = ? AND sub = ?"

func (c *cursor) one(cond, order string, args ...any) ([]byte, []byte) {
	c.started = true
	q := "SELECT k, v " + kvWhere + cond + " ORDER BY k " + order + " LIMIT 1"
	var k, v []byte
	err := c.b.tx.stx.QueryRow(q, append([]any{c.b.root, c.b.sub}, args...)...).Scan(&k, &v)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.b.tx.fail(err)
		}
		c.key = nil
		return nil, nil
	}
	if v == nil {
		v = []byte{}
	}
	c.key = k
	return k, v
}

func (c *cursor) First() ([]byte, []byte) { return c.one("", "ASC") }

func (c *cursor) Last() ([]byte, []byte) { return c.one("", "DESC") }

func (c *cursor) Seek(seek []byte) ([]byte, []byte) {
	return c.one(" AND k >= ?", "ASC", seek)
}

func (c *cursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := bytes.Clone(prefix)
	if len(limit) == 0 || !increment(limit) {
		return c.Last()
	}
	return c.one(" AND k < ?", "DESC", limit)
}

func (c *cursor) Next() ([]byte, []byte) {
	if !c.started {
		return c.First()
	}
	if c.key == nil {
		return nil, nil
	}
	return c.one(" AND k > ?", "ASC", c.key)
}

func (c *cursor) Prev() ([]byte, []byte) {
	if c.key == nil {
		return nil, nil
	}
	return c.one(" AND k < ?", "DESC", c.key)
}

func increment(data []byte) bool {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != 0xFF {
			data[i]++
			clear(data[i+1:])
			return true
		}
	}
	return false
}
