package ixdb

import (
	"iter"
	"reflect"
)

// All iterates over all rows of a table in primary key order. In a write
// transaction the keys are collected up front, so the loop body may modify
// the table.
func All[Row any](txh Txish) iter.Seq2[*Row, error] {
	tx := txh.DBTx()
	tbl := tableOf[Row](tx)
	return func(yield func(*Row, error) bool) {
		for rowVal, err := range tx.AllVals(tbl) {
			if !yield(valToRow[Row](rowVal), err) || err != nil {
				return
			}
		}
	}
}

func (tx *Tx) AllVals(tbl *Table) iter.Seq2[reflect.Value, error] {
	return func(yield func(reflect.Value, error) bool) {
		if tx.writable {
			keys, err := tx.RawKeys(tbl)
			if err != nil {
				yield(reflect.Value{}, err)
				return
			}
			for _, keyRaw := range keys {
				rowVal, err := tx.getRowValByRawKey(tbl, keyRaw)
				if err != nil {
					yield(reflect.Value{}, err)
					return
				}
				if !rowVal.IsValid() {
					continue // deleted by the loop body
				}
				if !yield(rowVal, nil) {
					return
				}
			}
			return
		}

		view, err := tx.view(tbl)
		if err != nil {
			yield(reflect.Value{}, err)
			return
		}
		c := view.data.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rowVal, err := tx.decodeRow(view, k, v)
			if err != nil {
				yield(reflect.Value{}, err)
				return
			}
			if !yield(rowVal, nil) {
				return
			}
		}
		if err := tx.checkRead(nil); err != nil {
			yield(reflect.Value{}, err)
		}
	}
}

// Count returns the number of rows in tbl. Bolt statistics only cover
// committed pages, so write transactions count with a cursor.
func (tx *Tx) Count(tbl *Table) (int, error) {
	view, err := tx.view(tbl)
	if err != nil {
		return 0, err
	}
	var n int
	if !tx.writable {
		n = view.data.Stats().KeyN
	} else {
		c := view.data.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
	}
	if err := tx.checkRead(nil); err != nil {
		return 0, err
	}
	return n, nil
}

// RawKeys returns owned encoded primary keys of all rows of tbl in order.
func (tx *Tx) RawKeys(tbl *Table) ([][]byte, error) {
	view, err := tx.view(tbl)
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	c := view.data.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, clone(k))
	}
	if err := tx.checkRead(nil); err != nil {
		return nil, err
	}
	return keys, nil
}
