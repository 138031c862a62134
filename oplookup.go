package ixdb

import (
	"bytes"
	"fmt"
	"reflect"
)

type LookupOptions struct {
	Reverse bool
	Limit   int
}

// GetBySecondary returns owned rows whose indexer added value to the
// secondary index idx, in index key order.
func GetBySecondary[Row any](txh Txish, idx *Index, value any) ([]*Row, error) {
	return getByKind[Row](txh, idx, SecondaryTable, value)
}

// GetByRelational returns the rows linking to the target row with the given key.
func GetByRelational[Row any](txh Txish, idx *Index, targetKey any) ([]*Row, error) {
	return getByKind[Row](txh, idx, RelationalTable, targetKey)
}

// GetBySubscription returns the rows subscribed to topic.
func GetBySubscription[Row any](txh Txish, idx *Index, topic string) ([]*Row, error) {
	return getByKind[Row](txh, idx, SubscriptionTable, topic)
}

func getByKind[Row any](txh Txish, idx *Index, kind TableKind, value any) ([]*Row, error) {
	if idx.kind != kind {
		panic(fmt.Errorf("%s is a %v index, not %v", idx.FullName(), idx.kind, kind))
	}
	return GetBy[Row](txh, idx, value, LookupOptions{})
}

// GetBy returns rows of any kind of index matching value.
func GetBy[Row any](txh Txish, idx *Index, value any, opt LookupOptions) ([]*Row, error) {
	tx := txh.DBTx()
	if tbl := tableOf[Row](tx); idx.table != tbl {
		panic(fmt.Errorf("invalid index %v for table %v", idx.FullName(), tbl.Name()))
	}
	rowVals, err := tx.LookupVals(idx, reflect.ValueOf(value), opt)
	if err != nil {
		return nil, err
	}
	rows := make([]*Row, len(rowVals))
	for i, rv := range rowVals {
		rows[i] = valToRow[Row](rv)
	}
	return rows, nil
}

// Lookup returns the first row matching value, or nil.
func Lookup[Row any](txh Txish, idx *Index, value any) (*Row, error) {
	rows, err := GetBy[Row](txh, idx, value, LookupOptions{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// LookupKeys returns the primary keys of rows matching value.
func LookupKeys[Key any](txh Txish, idx *Index, value any) ([]Key, error) {
	tx := txh.DBTx()
	if at, et := reflect.TypeFor[Key](), idx.table.KeyType(); at != et {
		panic(fmt.Errorf("%s: LookupKeys has incorrect key type %v, expected %v", idx.FullName(), at, et))
	}
	raws, err := tx.LookupRawKeys(idx, value, LookupOptions{})
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(raws))
	for _, raw := range raws {
		keyVal, err := idx.table.DecodeKeyVal(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyVal.Interface().(Key))
	}
	return keys, nil
}

func (tx *Tx) LookupVals(idx *Index, valueVal reflect.Value, opt LookupOptions) ([]reflect.Value, error) {
	tbl := idx.table
	raws, err := tx.lookupRawKeysByVal(idx, valueVal, opt)
	if err != nil {
		return nil, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return nil, err
	}
	result := make([]reflect.Value, 0, len(raws))
	for _, keyRaw := range raws {
		raw := view.data.Get(keyRaw)
		if raw == nil {
			return nil, tx.checkRead(tableErrf(tbl, idx.name, keyRaw, ErrCorruption, "index entry without a primary row"))
		}
		rowVal, err := tx.decodeRow(view, keyRaw, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, rowVal)
	}
	if tx.db.verbose {
		tx.db.logf("db: LOOKUP %s/%v => %d rows", idx.FullName(), loggableVal(valueVal), len(result))
	}
	return result, nil
}

// LookupRawKeys returns owned encoded primary keys of rows matching value.
func (tx *Tx) LookupRawKeys(idx *Index, value any, opt LookupOptions) ([][]byte, error) {
	return tx.lookupRawKeysByVal(idx, reflect.ValueOf(value), opt)
}

func (tx *Tx) lookupRawKeysByVal(idx *Index, valueVal reflect.Value, opt LookupOptions) ([][]byte, error) {
	valueVal, err := idx.convertValue(valueVal.Interface())
	if err != nil {
		return nil, err
	}
	view, err := tx.view(idx.table)
	if err != nil {
		return nil, err
	}
	prefix := idx.encodePrefix(nil, valueVal)
	search := idx.searchTuple(valueVal)
	n := len(search)

	var keys [][]byte
	c := view.indices[idx.pos].Cursor()
	var k []byte
	if opt.Reverse {
		k, _ = c.SeekLast(prefix)
	} else {
		k, _ = c.Seek(prefix)
	}
	for k != nil && bytes.HasPrefix(k, prefix) {
		tup, err := decodeTuple(k)
		if err != nil {
			return nil, tableErrf(idx.table, idx.name, k, err, "decoding index key")
		}
		if len(tup) == n+1 && tup.hasPrefix(search) {
			keys = append(keys, clone(tup[n]))
			if opt.Limit > 0 && len(keys) >= opt.Limit {
				break
			}
		}
		if opt.Reverse {
			k, _ = c.Prev()
		} else {
			k, _ = c.Next()
		}
	}
	if err := tx.checkRead(nil); err != nil {
		return nil, err
	}
	return keys, nil
}
