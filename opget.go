package ixdb

import (
	"reflect"
)

// Get returns an owned copy of the row with the given key, or nil if there
// is no such row.
func Get[Row any](txh Txish, key any) (*Row, error) {
	tx := txh.DBTx()
	rowVal, err := tx.GetVal(tableOf[Row](tx), reflect.ValueOf(key))
	if err != nil {
		return nil, err
	}
	return valToRow[Row](rowVal), nil
}

// Reload re-reads row by its key.
func Reload[Row any](txh Txish, row *Row) (*Row, error) {
	tx := txh.DBTx()
	tbl := tableOf[Row](tx)
	rowVal, err := tx.GetVal(tbl, tbl.RowKeyVal(reflect.ValueOf(row)))
	if err != nil {
		return nil, err
	}
	return valToRow[Row](rowVal), nil
}

func Exists[Row any](txh Txish, key any) (bool, error) {
	tx := txh.DBTx()
	return tx.Exists(tableOf[Row](tx), key)
}

func (tx *Tx) Get(tbl *Table, key any) (any, error) {
	rowVal, err := tx.GetVal(tbl, reflect.ValueOf(key))
	if err != nil || !rowVal.IsValid() {
		return nil, err
	}
	return rowVal.Interface(), nil
}

func (tx *Tx) GetVal(tbl *Table, keyVal reflect.Value) (reflect.Value, error) {
	keyRaw, err := tbl.encodeKeyVal(nil, keyVal, true)
	if err != nil {
		return reflect.Value{}, err
	}
	return tx.getRowValByRawKey(tbl, keyRaw)
}

func (tx *Tx) Exists(tbl *Table, key any) (bool, error) {
	keyRaw, err := tbl.encodeKeyVal(nil, reflect.ValueOf(key), true)
	if err != nil {
		return false, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return false, err
	}
	found := view.data.Get(keyRaw) != nil
	if err := tx.checkRead(nil); err != nil {
		return false, err
	}
	return found, nil
}

// GetMeta returns the schema version and modification count of a stored row.
func (tx *Tx) GetMeta(tbl *Table, key any) (ValueMeta, bool, error) {
	keyRaw, err := tbl.encodeKeyVal(nil, reflect.ValueOf(key), true)
	if err != nil {
		return ValueMeta{}, false, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return ValueMeta{}, false, err
	}
	raw := view.data.Get(keyRaw)
	if raw == nil {
		return ValueMeta{}, false, tx.checkRead(nil)
	}
	var vle value
	if err := decodeTableValue(&vle, tbl, keyRaw, raw); err != nil {
		return ValueMeta{}, false, err
	}
	return vle.meta(), true, nil
}

func (tx *Tx) getRowValByRawKey(tbl *Table, keyRaw []byte) (reflect.Value, error) {
	view, err := tx.view(tbl)
	if err != nil {
		return reflect.Value{}, err
	}
	raw := view.data.Get(keyRaw)
	if raw == nil {
		return reflect.Value{}, tx.checkRead(nil)
	}
	return tx.decodeRow(view, keyRaw, raw)
}

// decodeRow builds an owned row from a stored primary entry: the data,
// the key, the blob fields; then upgrades it if it has an older schema
// version. raw may be invalidated by the migrator.
func (tx *Tx) decodeRow(view *tableView, keyRaw, raw []byte) (reflect.Value, error) {
	tbl := view.tbl
	var vle value
	err := decodeTableValue(&vle, tbl, keyRaw, raw)
	if err != nil {
		return reflect.Value{}, err
	}
	rowVal := tbl.NewRowVal()
	err = decodeMsgpack(vle.Data, rowVal)
	if err != nil {
		return reflect.Value{}, tableErrf(tbl, "", keyRaw, err, "decoding row")
	}
	keyVal, err := tbl.DecodeKeyVal(keyRaw)
	if err != nil {
		return reflect.Value{}, err
	}
	tbl.RowKeyVal(rowVal).Set(keyVal)

	if len(tbl.blobs) > 0 {
		refs, err := decodeBlobRefs(vle.Blobs)
		if err != nil {
			return reflect.Value{}, tableErrf(tbl, "", keyRaw, err, "decoding blob list")
		}
		err = fillBlobs(view, tx.db.tableState(tbl), rowVal, keyRaw, refs)
		if err != nil {
			return reflect.Value{}, tx.checkRead(err)
		}
	}

	if vle.SchemaVer < tbl.latestSchemaVer && tbl.migrator != nil {
		err = tbl.migrator(tx, rowVal.Interface(), vle.SchemaVer)
		if err != nil {
			return reflect.Value{}, tableErrf(tbl, "", keyRaw, err, "migrating from version %d", vle.SchemaVer)
		}
	}
	return rowVal, nil
}
