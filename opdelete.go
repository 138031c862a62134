package ixdb

import (
	"reflect"
)

// Delete removes the row with the given key along with its derived entries
// and blob chunks. It reports whether the row existed.
func Delete[Row any](txh Txish, key any) (bool, error) {
	tx := txh.DBTx()
	return tx.DeleteByKey(tableOf[Row](tx), key)
}

func DeleteRow[Row any](txh Txish, row *Row) (bool, error) {
	tx := txh.DBTx()
	tbl := tableOf[Row](tx)
	return tx.DeleteByKeyVal(tbl, tbl.RowKeyVal(reflect.ValueOf(row)))
}

// DeleteAll deletes every row of tbl, returning how many were deleted.
func (tx *Tx) DeleteAll(tbl *Table) (int, error) {
	keys, err := tx.RawKeys(tbl)
	if err != nil {
		return 0, err
	}
	var count int
	for _, keyRaw := range keys {
		ok, err := tx.DeleteByKeyRaw(tbl, keyRaw)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (tx *Tx) DeleteByKey(tbl *Table, key any) (bool, error) {
	return tx.DeleteByKeyVal(tbl, reflect.ValueOf(key))
}

func (tx *Tx) DeleteByKeyVal(tbl *Table, keyVal reflect.Value) (bool, error) {
	keyRaw, err := tbl.encodeKeyVal(nil, keyVal, true)
	if err != nil {
		return false, err
	}
	ok, err := tx.deleteByKeyRaw(tbl, keyRaw)
	if err == nil && tx.db.verbose {
		if ok {
			tx.db.logf("db: DELETE %s/%v", tbl.name, keyVal.Interface())
		} else {
			tx.db.logf("db: DELETE.NOOP %s/%v", tbl.name, keyVal.Interface())
		}
	}
	return ok, err
}

func (tx *Tx) DeleteByKeyRaw(tbl *Table, keyRaw []byte) (bool, error) {
	ok, err := tx.deleteByKeyRaw(tbl, clone(keyRaw))
	if err == nil && tx.db.verbose {
		if ok {
			tx.db.logf("db: DELETE %s/%s", tbl.name, tbl.RawKeyString(keyRaw))
		} else {
			tx.db.logf("db: DELETE.NOOP %s/%s", tbl.name, tbl.RawKeyString(keyRaw))
		}
	}
	return ok, err
}

// deleteByKeyRaw queues removal of derived entries, then blob chunks, then
// the primary entry. keyRaw must be owned by the caller.
func (tx *Tx) deleteByKeyRaw(tbl *Table, keyRaw []byte) (bool, error) {
	if err := tx.writableCheck(); err != nil {
		return false, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return false, err
	}
	raw := view.data.Get(keyRaw)
	if raw == nil {
		return false, tx.checkRead(nil)
	}
	ts := tx.db.tableState(tbl)

	var old value
	err = decodeTableValue(&old, tbl, keyRaw, raw)
	if err != nil {
		return false, err
	}
	refs, err := decodeBlobRefs(old.Blobs)
	if err != nil {
		return false, tableErrf(tbl, "", keyRaw, err, "decoding blob list")
	}

	var ops []Operation
	err = decodeIndexKeys(old.Index, func(ord uint64, key []byte) {
		idx := ts.indexByOrdinal(ord)
		if idx == nil {
			return
		}
		ops = append(ops, Operation{
			Table:    tbl.name,
			Sub:      idx.sub,
			Kind:     idx.kind,
			Priority: Removal,
			Action:   OpRemove,
			Key:      clone(key),
		})
	})
	if err != nil {
		return false, tableErrf(tbl, "", keyRaw, err, "decoding index keys")
	}
	ops = append(ops, blobOps(tbl, ts, keyRaw, refs, nil)...)
	ops = append(ops, Operation{
		Table:    tbl.name,
		Sub:      dataSub,
		Kind:     PrimaryTable,
		Priority: Removal,
		Action:   OpRemove,
		Key:      keyRaw,
	})
	for _, op := range ops {
		tx.enqueue(op)
	}
	return true, nil
}
