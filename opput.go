package ixdb

import (
	"bytes"
	"fmt"
	"reflect"
)

// Put inserts or updates row, keyed by its first field.
func Put[Row any](txh Txish, row *Row) error {
	tx := txh.DBTx()
	return tx.PutVal(tableOf[Row](tx), reflect.ValueOf(row))
}

func (tx *Tx) Put(tbl *Table, row any) error {
	return tx.PutVal(tbl, reflect.ValueOf(row))
}

// PutVal queues the writes that make the stored row equal rowVal: the
// primary entry, the derived entries that appeared, removal of those that
// vanished, and changed blob chunks. Nothing is queued on error.
func (tx *Tx) PutVal(tbl *Table, rowVal reflect.Value) error {
	if tx == nil {
		panic("nil tx")
	}
	if err := tx.writableCheck(); err != nil {
		return err
	}
	if rowVal.Type() != tbl.rowTypePtr {
		panic(fmt.Errorf("%s: Put of %v, expected %v", tbl.name, rowVal.Type(), tbl.rowTypePtr))
	}
	if rowVal.IsNil() {
		return fmt.Errorf("%s: Put of nil row", tbl.name)
	}
	ts := tx.db.tableState(tbl)

	keyVal := tbl.RowKeyVal(rowVal)
	keyRaw, err := tbl.encodeKeyVal(nil, keyVal, false)
	if err != nil {
		return err
	}

	ib := makeIndexBuilder(ts, keyRaw)
	err = runIndexer(tbl, rowVal.Interface(), &ib)
	if err == nil {
		err = ib.finalize()
	}
	if err != nil {
		return tableErrf(tbl, "", keyRaw, err, "indexing")
	}

	data, err := encodeMsgpack(nil, rowVal)
	if err != nil {
		return tableErrf(tbl, "", keyRaw, err, "encoding")
	}
	blobs, err := deriveBlobs(tbl, ts, rowVal.Interface(), keyRaw)
	if err != nil {
		return err
	}
	indexRaw := appendIndexKeys(nil, ib.rows)
	blobsRaw := appendBlobRefs(nil, blobRefsOf(blobs))

	view, err := tx.view(tbl)
	if err != nil {
		return err
	}
	oldRaw := view.data.Get(keyRaw)
	if err := tx.checkRead(nil); err != nil {
		return err
	}
	var old value
	var oldRefs []blobRef
	if oldRaw != nil {
		err = decodeTableValue(&old, tbl, keyRaw, oldRaw)
		if err != nil {
			return err
		}
		oldRefs, err = decodeBlobRefs(old.Blobs)
		if err != nil {
			return tableErrf(tbl, "", keyRaw, err, "decoding old blob list")
		}
	}

	schemaVer := tbl.latestSchemaVer
	modCount := old.ModCount
	isDataUnchanged := oldRaw != nil && bytes.Equal(data, old.Data)
	isBlobsUnchanged := oldRaw != nil && bytes.Equal(blobsRaw, old.Blobs)
	isIndexUnchanged := oldRaw != nil && bytes.Equal(indexRaw, old.Index)

	if oldRaw != nil && old.SchemaVer == schemaVer && isDataUnchanged && isBlobsUnchanged && isIndexUnchanged {
		if tx.db.verbose {
			tx.db.logf("db: PUT.NOOP %s/%v => m=%d %s", tbl.name, keyVal, modCount, loggableRowVal(tbl, rowVal))
		}
		return nil
	}
	if !isDataUnchanged || !isBlobsUnchanged {
		modCount++
	}
	valueRaw := encodeValue(nil, vfDefault, schemaVer, modCount, data, indexRaw, blobsRaw)

	ops := []Operation{{
		Table:    tbl.name,
		Sub:      dataSub,
		Kind:     PrimaryTable,
		Priority: PrimaryWrite,
		Action:   OpInsert,
		Key:      keyRaw,
		Value:    valueRaw,
	}}
	err = diffIndexKeys(old.Index, ib.rows, func(ord uint64, key []byte) {
		idx := ts.indexByOrdinal(ord)
		if idx == nil {
			return // index dropped, bucket is gone
		}
		ops = append(ops, Operation{
			Table:    tbl.name,
			Sub:      idx.sub,
			Kind:     idx.kind,
			Priority: Removal,
			Action:   OpRemove,
			Key:      clone(key),
		})
	}, func(row *IndexRow) {
		ops = append(ops, Operation{
			Table:    tbl.name,
			Sub:      row.Index.sub,
			Kind:     row.Index.kind,
			Priority: row.Index.kind.writePriority(),
			Action:   OpInsert,
			Key:      row.KeyRaw,
			Value:    emptyValue,
		})
	})
	if err != nil {
		return tableErrf(tbl, "", keyRaw, err, "decoding old index keys")
	}
	ops = append(ops, blobOps(tbl, ts, keyRaw, oldRefs, blobs)...)

	for _, op := range ops {
		tx.enqueue(op)
	}
	if tx.db.verbose {
		tx.db.logf("db: PUT %s/%v => m=%d ops=%d %s", tbl.name, keyVal, modCount, len(ops), loggableRowVal(tbl, rowVal))
	}
	return nil
}

func runIndexer(tbl *Table, row any, ib *IndexBuilder) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("indexer panicked: %v", p)
		}
	}()
	tbl.indexer(row, ib)
	return nil
}
