package ixdb

import (
	"reflect"
)

// Borrowed is a zero-copy view of a stored row. Its bytes belong to the
// backend and stay valid only while the transaction is open and has not
// applied further writes; every accessor checks that.
type Borrowed[Row any] struct {
	tx  *Tx
	gen uint64
	tbl *Table
	key []byte
	raw []byte
	vle value
}

// GetBorrowed returns a borrowed view of the row with the given key, or nil
// if there is no such row.
func GetBorrowed[Row any](txh Txish, key any) (*Borrowed[Row], error) {
	tx := txh.DBTx()
	tbl := tableOf[Row](tx)
	keyRaw, err := tbl.encodeKeyVal(nil, reflect.ValueOf(key), true)
	if err != nil {
		return nil, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return nil, err
	}
	raw := view.data.Get(keyRaw)
	if raw == nil {
		return nil, tx.checkRead(nil)
	}
	b := &Borrowed[Row]{
		tx:  tx,
		gen: tx.gen,
		tbl: tbl,
		key: keyRaw,
		raw: raw,
	}
	if err := decodeTableValue(&b.vle, tbl, keyRaw, raw); err != nil {
		return nil, err
	}
	return b, nil
}

// Valid reports whether the borrowed bytes may still be used.
func (b *Borrowed[Row]) Valid() bool {
	return b.gen != 0 && b.gen == b.tx.gen
}

func (b *Borrowed[Row]) check() error {
	if !b.Valid() {
		return ErrStaleBorrow
	}
	return nil
}

// Bytes returns the msgpack encoding of the row as stored, without copying.
func (b *Borrowed[Row]) Bytes() ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.vle.Data, nil
}

// Raw returns the whole stored primary entry without copying.
func (b *Borrowed[Row]) Raw() ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.raw, nil
}

// RawKey is owned and remains usable after the borrow expires.
func (b *Borrowed[Row]) RawKey() []byte {
	return b.key
}

func (b *Borrowed[Row]) Meta() (ValueMeta, error) {
	if err := b.check(); err != nil {
		return ValueMeta{}, err
	}
	return b.vle.meta(), nil
}

// Decode returns an owned copy of the row.
func (b *Borrowed[Row]) Decode() (*Row, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	view, err := b.tx.cachedView(b.tbl)
	if err != nil {
		return nil, err
	}
	rowVal, err := b.tx.decodeRow(view, b.key, b.raw)
	if err != nil {
		return nil, err
	}
	return valToRow[Row](rowVal), nil
}
