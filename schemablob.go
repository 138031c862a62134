package ixdb

import (
	"fmt"
	"reflect"
)

// Blob is a large row field stored outside the primary entry, split into
// chunks of at most maxChunk bytes.
type Blob struct {
	table    *Table
	pos      int
	name     string
	sub      string
	maxChunk int
	get      func(row any) ([]byte, error)
	set      func(row any, data []byte) error
}

func (blob *Blob) Table() *Table {
	return blob.table
}

func (blob *Blob) Name() string {
	return blob.name
}

func (blob *Blob) FullName() string {
	return blob.table.name + "." + blob.name
}

func (blob *Blob) String() string {
	return blob.FullName()
}

func (blob *Blob) MaxChunkSize() int {
	return blob.maxChunk
}

// AddBlob stores *field(row) in chunks. Exclude the field from the row
// encoding with `msgpack:"-"`. A nil or empty slice stores nothing.
func (b *TableBuilder[Row, Key]) AddBlob(name string, maxChunk int, field func(row *Row) *[]byte) *Blob {
	blob := &Blob{
		name:     name,
		sub:      blobSubPrefix + name,
		maxChunk: maxChunk,
		get: func(row any) ([]byte, error) {
			return *field(row.(*Row)), nil
		},
		set: func(row any, data []byte) error {
			*field(row.(*Row)) = data
			return nil
		},
	}
	b.tbl.addBlob(blob)
	return blob
}

// BlobField stores a msgpack-encoded value of *field(row) in chunks. The
// zero value of T stores nothing.
func BlobField[Row, Key, T any](b *TableBuilder[Row, Key], name string, maxChunk int, field func(row *Row) *T) *Blob {
	blob := &Blob{
		name:     name,
		sub:      blobSubPrefix + name,
		maxChunk: maxChunk,
		get: func(row any) ([]byte, error) {
			val := reflect.ValueOf(field(row.(*Row))).Elem()
			if val.IsZero() {
				return nil, nil
			}
			data, err := encodeMsgpack(nil, val)
			if err != nil {
				return nil, fmt.Errorf("blob %s: %w", name, err)
			}
			return data, nil
		},
		set: func(row any, data []byte) error {
			ptr := field(row.(*Row))
			var zero T
			*ptr = zero
			if len(data) == 0 {
				return nil
			}
			return decodeMsgpack(data, reflect.ValueOf(ptr))
		},
	}
	b.tbl.addBlob(blob)
	return blob
}
