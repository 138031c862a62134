package ixdb

import (
	"fmt"
	"reflect"
)

type TableBuilder[Row, Key any] struct {
	tbl *Table
}

// DefineTable declares a table whose rows are Row structs. The first field
// of Row is the primary key and must have type Key; it is stored in the
// key, so it is normally tagged `msgpack:"-"`.
func DefineTable[Row, Key any](scm *Schema, name string, f func(b *TableBuilder[Row, Key])) *Table {
	rowPtrType := reflect.TypeFor[*Row]()
	if rowPtrType.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("DefineTable(%s): Row must be a struct", name))
	}
	tbl := &Table{
		name:            name,
		latestSchemaVer: 1,
		rowTypePtr:      rowPtrType,
		rowType:         rowPtrType.Elem(),
		rowInfo:         reflectStruct(rowPtrType),
		keyStringSep:    "|",
		subs:            map[string]string{dataSub: "primary data"},
		indexer:         nopIndexer,
	}
	tbl.keyType = tbl.rowInfo.keyField.Type
	if kt := reflect.TypeFor[Key](); kt != tbl.keyType {
		panic(fmt.Errorf("DefineTable(%s): key field %s is %v, not %v", name, tbl.rowInfo.keyField.Name, tbl.keyType, kt))
	}
	tbl.keyEnc = keyEncodingOf(tbl.keyType)
	tbl.zeroKey = tbl.keyEnc.encode(nil, reflect.Zero(tbl.keyType))
	scm.addTable(tbl)

	if f != nil {
		b := TableBuilder[Row, Key]{
			tbl: tbl,
		}
		f(&b)
	}
	return tbl
}

func (b *TableBuilder[Row, Key]) Table() *Table {
	return b.tbl
}

// Indexer sets the function that derives index values of a row, calling
// ib.Add once per value.
func (b *TableBuilder[Row, Key]) Indexer(f func(row *Row, ib *IndexBuilder)) {
	b.tbl.indexer = func(row any, ib *IndexBuilder) {
		f(row.(*Row), ib)
	}
}

// Migrate sets the function that upgrades rows stored with an older schema
// version. It runs when such rows are read.
func (b *TableBuilder[Row, Key]) Migrate(f func(tx *Tx, row *Row, oldVer uint64) error) {
	b.tbl.migrator = func(tx *Tx, row any, oldVer uint64) error {
		return f(tx, row.(*Row), oldVer)
	}
}

func (b *TableBuilder[Row, Key]) AddIndex(idx *Index) *Index {
	b.tbl.addIndex(idx)
	return idx
}

func (b *TableBuilder[Row, Key]) SetSchemaVersion(ver uint64) {
	if ver == 0 || ver > maxSchemaVersion {
		panic(fmt.Errorf("%s: invalid schema version %d", b.tbl.name, ver))
	}
	b.tbl.latestSchemaVer = ver
}

func (b *TableBuilder[Row, Key]) SuppressContentWhenLogging() {
	b.tbl.suppressContent = true
}

func nopIndexer(row any, ib *IndexBuilder) {}
