package ixdb

import (
	"bytes"
	"fmt"
	"slices"
)

type IndexRow struct {
	IndexOrd uint64
	Index    *Index
	KeyRaw   []byte
}

// IndexBuilder collects the derived entries of one row. It is handed to
// the table's indexer function.
type IndexBuilder struct {
	ts   *tableState
	rows indexRows
	pk   []byte
	err  error
}

func makeIndexBuilder(ts *tableState, keyRaw []byte) IndexBuilder {
	return IndexBuilder{
		ts: ts,
		pk: keyRaw,
	}
}

// Add records value in idx for the row being indexed. Adding the same
// value twice is harmless.
func (b *IndexBuilder) Add(idx *Index, value any) {
	if b.err != nil {
		return
	}
	if idx.table != b.ts.table {
		b.err = fmt.Errorf("%s: cannot add entries of %s", b.ts.table.name, idx.FullName())
		return
	}
	val, err := idx.convertValue(value)
	if err != nil {
		b.err = err
		return
	}

	var tb tupleEncoder
	key := idx.keyEnc.appendComps(&tb, nil, val)
	tb.begin(key)
	key = append(key, b.pk...)
	key = tb.finalize(key)
	if len(key) > maxKeySize {
		b.err = tableErrf(b.ts.table, idx.name, nil, ErrCapacityExceeded, "index key is %d bytes", len(key))
		return
	}

	b.rows = append(b.rows, IndexRow{b.ts.indexOrdinal(idx), idx, key})
}

// finalize sorts the rows by ordinal and key, dropping duplicates.
func (b *IndexBuilder) finalize() error {
	if b.err != nil {
		return b.err
	}
	slices.SortFunc(b.rows, func(a, c IndexRow) int {
		return compareIndexKey(a.IndexOrd, a.KeyRaw, c.IndexOrd, c.KeyRaw)
	})
	b.rows = slices.CompactFunc(b.rows, func(a, c IndexRow) bool {
		return a.IndexOrd == c.IndexOrd && bytes.Equal(a.KeyRaw, c.KeyRaw)
	})
	return nil
}

type indexRows []IndexRow
