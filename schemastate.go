package ixdb

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

func (db *DB) tableState(tbl *Table) *tableState {
	return db.tableStates[tbl.pos]
}

// tableState is persisted under tableStateKey in the table's root bucket.
type tableState struct {
	KeySig      string                 `msgpack:"k"`
	LastOrdinal uint64                 `msgpack:"li"`
	Indices     map[string]*indexState `msgpack:"i"`
	Blobs       map[string]*blobState  `msgpack:"b"`
	LastSeen    time.Time              `msgpack:"t"`

	table       *Table                 `msgpack:"-"`
	indexStates []*indexState          `msgpack:"-"`
	blobStates  []*blobState           `msgpack:"-"`
	indexByOrd  map[uint64]*indexState `msgpack:"-"`
	blobByOrd   map[uint64]*blobState  `msgpack:"-"`
}

type indexState struct {
	Ordinal  uint64 `msgpack:"o"`
	Kind     string `msgpack:"kd"`
	ValueSig string `msgpack:"vs"`
	Built    bool   `msgpack:"f"`

	index *Index `msgpack:"-"`
}

type blobState struct {
	Ordinal  uint64 `msgpack:"o"`
	MaxChunk int    `msgpack:"mc"`

	blob *Blob `msgpack:"-"`
}

func (ts *tableState) indexOrdinal(idx *Index) uint64 {
	return ts.indexStates[idx.pos].Ordinal
}

func (ts *tableState) blobOrdinal(blob *Blob) uint64 {
	return ts.blobStates[blob.pos].Ordinal
}

// indexByOrdinal returns nil for ordinals of indices no longer in the schema.
func (ts *tableState) indexByOrdinal(ord uint64) *Index {
	is := ts.indexByOrd[ord]
	if is == nil {
		return nil
	}
	return is.index
}

func (ts *tableState) blobByOrdinal(ord uint64) *Blob {
	bs := ts.blobByOrd[ord]
	if bs == nil {
		return nil
	}
	return bs.blob
}

func (ts *tableState) hasPendingIndices() bool {
	for _, is := range ts.Indices {
		if !is.Built {
			return true
		}
	}
	return false
}

func loadTableState(stx StorageTx, name string) (*tableState, error) {
	rootB := stx.Bucket(name, "")
	if rootB == nil {
		return nil, failedRead(stx, "reading %s", name)
	}
	raw := rootB.Get(tableStateKey)
	if raw == nil {
		return nil, failedRead(stx, "reading %s state", name)
	}
	ts := new(tableState)
	err := decodeMsgpack(raw, reflect.ValueOf(ts))
	if err != nil {
		return nil, fmt.Errorf("%s: table state: %w", name, err)
	}
	return ts, nil
}

// prepareTable reconciles the stored state of tbl with its definition,
// creating buckets for new parts and dropping buckets of removed ones.
// With writable=false it only verifies that nothing needs to change.
func prepareTable(db *DB, stx StorageTx, tbl *Table, now time.Time, writable bool) (*tableState, error) {
	ts, err := loadTableState(stx, tbl.name)
	if err != nil {
		return nil, err
	}
	fresh := (ts == nil)
	if fresh {
		if !writable {
			return nil, tableErrf(tbl, "", nil, ErrSchemaMismatch, "table does not exist in a read-only database")
		}
		ts = new(tableState)
	}
	ts.table = tbl
	if ts.Indices == nil {
		ts.Indices = make(map[string]*indexState)
	}
	if ts.Blobs == nil {
		ts.Blobs = make(map[string]*blobState)
	}

	keySig := tbl.keyEnc.signature()
	if ts.KeySig == "" {
		ts.KeySig = keySig
	} else if ts.KeySig != keySig {
		return nil, tableErrf(tbl, "", nil, ErrSchemaMismatch, "stored key is %s, declared key is %s", ts.KeySig, keySig)
	}

	ts.LastSeen = now
	ts.indexStates = make([]*indexState, len(tbl.indices))
	ts.blobStates = make([]*blobState, len(tbl.blobs))
	ts.indexByOrd = make(map[uint64]*indexState)
	ts.blobByOrd = make(map[uint64]*blobState)

	for i, idx := range tbl.indices {
		kind, valueSig := idx.kind.String(), idx.keyEnc.signature()
		is := ts.Indices[idx.name]
		if is == nil {
			if !writable {
				return nil, tableErrf(tbl, idx.name, nil, ErrSchemaMismatch, "index needs building in a read-only database")
			}
			ts.LastOrdinal++
			is = &indexState{
				Ordinal:  ts.LastOrdinal,
				Kind:     kind,
				ValueSig: valueSig,
				Built:    fresh, // a new table has no rows to index
			}
			ts.Indices[idx.name] = is
		} else if is.Kind != kind {
			return nil, tableErrf(tbl, idx.name, nil, ErrSchemaMismatch, "stored index is %s, declared is %s", is.Kind, kind)
		} else if is.ValueSig != valueSig {
			return nil, tableErrf(tbl, idx.name, nil, ErrSchemaMismatch, "stored index value is %s, declared is %s", is.ValueSig, valueSig)
		}
		is.index = idx
		ts.indexStates[i] = is
		ts.indexByOrd[is.Ordinal] = is
	}

	for i, blob := range tbl.blobs {
		bs := ts.Blobs[blob.name]
		if bs == nil {
			if !writable {
				return nil, tableErrf(tbl, blob.name, nil, ErrSchemaMismatch, "blob bucket missing in a read-only database")
			}
			ts.LastOrdinal++
			bs = &blobState{Ordinal: ts.LastOrdinal}
			ts.Blobs[blob.name] = bs
		}
		bs.MaxChunk = blob.maxChunk
		bs.blob = blob
		ts.blobStates[i] = bs
		ts.blobByOrd[bs.Ordinal] = bs
	}

	if !writable {
		if ts.hasPendingIndices() {
			return nil, tableErrf(tbl, "", nil, ErrSchemaMismatch, "indices need building in a read-only database")
		}
		return ts, nil
	}

	for _, sub := range ts.subs() {
		if _, err := stx.CreateBucket(tbl.name, sub); err != nil {
			return nil, backendErr(err, "creating %s/%s", tbl.name, sub)
		}
	}
	for name, is := range ts.Indices {
		if is.index == nil {
			if err := dropBucket(db, stx, tbl, indexSubPrefix+name); err != nil {
				return nil, err
			}
			delete(ts.Indices, name)
		}
	}
	for name, bs := range ts.Blobs {
		if bs.blob == nil {
			if err := dropBucket(db, stx, tbl, blobSubPrefix+name); err != nil {
				return nil, err
			}
			delete(ts.Blobs, name)
		}
	}
	return ts, nil
}

func (ts *tableState) subs() []string {
	tbl := ts.table
	subs := make([]string, 0, 1+len(tbl.indices)+len(tbl.blobs))
	subs = append(subs, dataSub)
	for _, idx := range tbl.indices {
		subs = append(subs, idx.sub)
	}
	for _, blob := range tbl.blobs {
		subs = append(subs, blob.sub)
	}
	return subs
}

func dropBucket(db *DB, stx StorageTx, tbl *Table, sub string) error {
	err := stx.DeleteBucket(tbl.name, sub)
	if errors.Is(err, ErrBucketNotFound) {
		return nil
	} else if err != nil {
		return backendErr(err, "dropping %s/%s", tbl.name, sub)
	}
	kind := "index"
	if strings.HasPrefix(sub, blobSubPrefix) {
		kind = "blob"
	}
	db.logger.Info("ixdb: dropped bucket", "table", tbl.name, "kind", kind, "bucket", sub)
	return nil
}

// migrate fills newly added indices by rewriting every row.
func (ts *tableState) migrate(tx *Tx) error {
	tbl := ts.table
	if !ts.hasPendingIndices() {
		return nil
	}
	logger := tx.db.logger.With("table", tbl.name)
	logger.Info("ixdb: reindexing")
	start := time.Now()

	keys, err := tx.RawKeys(tbl)
	if err != nil {
		return err
	}
	var rows int64
	for _, keyRaw := range keys {
		rowVal, err := tx.getRowValByRawKey(tbl, keyRaw)
		if err != nil {
			return err
		}
		if !rowVal.IsValid() {
			continue
		}
		err = tx.PutVal(tbl, rowVal)
		if err != nil {
			return err
		}
		rows++
		if rows%100000 == 0 {
			logger.Info("ixdb: still reindexing", "rows", rows, "elapsed", time.Since(start))
			if err := tx.flush(); err != nil {
				return err
			}
		}
	}
	for _, is := range ts.Indices {
		is.Built = true
	}
	logger.Info("ixdb: reindexed", "rows", rows, "elapsed", time.Since(start))
	return nil
}

func (ts *tableState) save(stx StorageTx) error {
	raw, err := encodeMsgpack(nil, reflect.ValueOf(ts))
	if err != nil {
		return err
	}
	rootB := stx.Bucket(ts.table.name, "")
	if rootB == nil {
		return tableErrf(ts.table, "", nil, ErrBucketNotFound, "saving table state")
	}
	return backendErr(rootB.Put(tableStateKey, raw), "saving %s state", ts.table.name)
}
