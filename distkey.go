package ixdb

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
)

// DistributedKeySep separates the table name from the key bytes in a
// distributed key. Table names cannot contain it.
const DistributedKeySep = ':'

// DistributedKey returns <table name>:<encoded primary key>, which names
// a row unambiguously outside of this database.
func (tbl *Table) DistributedKey(key any) []byte {
	return tbl.distributedKeyRaw(tbl.EncodeKey(key))
}

func (tbl *Table) distributedKeyRaw(keyRaw []byte) []byte {
	dk := make([]byte, 0, len(tbl.name)+1+len(keyRaw))
	dk = append(dk, tbl.name...)
	dk = append(dk, DistributedKeySep)
	return append(dk, keyRaw...)
}

// ParseDistributedKey splits dk into its table and encoded primary key.
// The key aliases dk.
func ParseDistributedKey(scm *Schema, dk []byte) (*Table, []byte, error) {
	i := bytes.IndexByte(dk, DistributedKeySep)
	if i <= 0 {
		return nil, nil, fmt.Errorf("invalid distributed key %q: %w", dk, ErrCorruption)
	}
	name := string(dk[:i])
	for _, tbl := range scm.tables {
		if tbl.name == name {
			return tbl, dk[i+1:], nil
		}
	}
	return nil, nil, fmt.Errorf("distributed key for unknown table %q: %w", name, ErrNotFound)
}

// ExportRecord returns the distributed key of a row and its portable
// encoding: a version header with the table's schema version, then the msgpack
// encoding of the row. Blob fields are not included.
func (tx *Tx) ExportRecord(tbl *Table, key any) ([]byte, []byte, error) {
	keyRaw, err := tbl.encodeKeyVal(nil, reflect.ValueOf(key), true)
	if err != nil {
		return nil, nil, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return nil, nil, err
	}
	raw := view.data.Get(keyRaw)
	if raw == nil {
		return nil, nil, tx.checkRead(tableErrf(tbl, "", keyRaw, ErrNotFound, "export"))
	}
	var vle value
	if err := decodeTableValue(&vle, tbl, keyRaw, raw); err != nil {
		return nil, nil, err
	}
	if vle.SchemaVer > math.MaxUint32 {
		return nil, nil, tableErrf(tbl, "", keyRaw, ErrCorruption, "schema version %d", vle.SchemaVer)
	}
	out := AppendVersionHeader(make([]byte, 0, VersionHeaderSize+len(vle.Data)), uint32(vle.SchemaVer))
	out = append(out, vle.Data...)
	return tbl.distributedKeyRaw(keyRaw), out, nil
}

// ImportRecord stores a record produced by ExportRecord, upgrading it if
// its version is older than the table's. Blob fields of an existing local
// row with the same key are kept.
func (tx *Tx) ImportRecord(dk, payload []byte) error {
	if err := tx.writableCheck(); err != nil {
		return err
	}
	tbl, keyRaw, err := ParseDistributedKey(tx.db.schema, dk)
	if err != nil {
		return err
	}
	keyVal, err := tbl.DecodeKeyVal(keyRaw)
	if err != nil {
		return err
	}
	ver, data := ParseVersionHeader(payload)
	if uint64(ver) > tbl.latestSchemaVer {
		return tableErrf(tbl, "", keyRaw, ErrSchemaMismatch, "record version %d is newer than %d", ver, tbl.latestSchemaVer)
	}

	rowVal := tbl.NewRowVal()
	if err := decodeMsgpack(data, rowVal); err != nil {
		return tableErrf(tbl, "", keyRaw, err, "import")
	}
	tbl.RowKeyVal(rowVal).Set(keyVal)

	if len(tbl.blobs) > 0 {
		local, err := tx.getRowValByRawKey(tbl, keyRaw)
		if err != nil {
			return err
		}
		row := rowVal.Interface()
		for _, blob := range tbl.blobs {
			var data []byte
			if local.IsValid() {
				data, err = blob.get(local.Interface())
				if err != nil {
					return tableErrf(tbl, blob.name, keyRaw, err, "copying local blob")
				}
			}
			if err := blob.set(row, data); err != nil {
				return tableErrf(tbl, blob.name, keyRaw, err, "copying local blob")
			}
		}
	}

	if uint64(ver) < tbl.latestSchemaVer && tbl.migrator != nil {
		if err := tbl.migrator(tx, rowVal.Interface(), uint64(ver)); err != nil {
			return tableErrf(tbl, "", keyRaw, err, "migrating imported record from version %d", ver)
		}
	}
	return tx.PutVal(tbl, rowVal)
}
