package ixdb

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
)

type Table struct {
	schema          *Schema
	name            string
	latestSchemaVer uint64
	pos             int // index in schema.tables, unstable across code changes
	rowType         reflect.Type
	rowTypePtr      reflect.Type
	rowInfo         *structInfo
	keyType         reflect.Type
	keyEnc          *keyEncoding
	keyStringSep    string
	zeroKey         []byte
	indices         []*Index
	blobs           []*Blob
	subs            map[string]string // nested bucket name => what owns it
	indexer         func(row any, ib *IndexBuilder)
	migrator        func(tx *Tx, row any, oldVer uint64) error
	suppressContent bool
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) String() string {
	return tbl.name
}

func (tbl *Table) KeyType() reflect.Type {
	return tbl.keyType
}

func (tbl *Table) SchemaVersion() uint64 {
	return tbl.latestSchemaVer
}

func (tbl *Table) Indices() []*Index {
	return append([]*Index(nil), tbl.indices...)
}

func (tbl *Table) Blobs() []*Blob {
	return append([]*Blob(nil), tbl.blobs...)
}

func (tbl *Table) IndexNamed(name string) *Index {
	for _, idx := range tbl.indices {
		if idx.name == name {
			return idx
		}
	}
	return nil
}

// claimSub reserves a nested bucket name within the table.
func (tbl *Table) claimSub(sub, owner string) {
	if prev, ok := tbl.subs[sub]; ok {
		panic(fmt.Errorf("%s: %s clashes with %s over bucket %q", tbl.name, owner, prev, sub))
	}
	tbl.subs[sub] = owner
}

func (tbl *Table) addIndex(idx *Index) {
	if idx.table != nil {
		panic(fmt.Errorf("index %s already belongs to table %s", idx.name, idx.table.name))
	}
	if idx.kind == RelationalTable && idx.target != nil && idx.target.keyType != idx.recType {
		panic(fmt.Errorf("%s.%s: relation value type %v does not match %s key type %v", tbl.name, idx.name, idx.recType, idx.target.name, idx.target.keyType))
	}
	tbl.claimSub(idx.sub, "index "+idx.name)
	idx.table = tbl
	idx.pos = len(tbl.indices)
	tbl.indices = append(tbl.indices, idx)
}

func (tbl *Table) addBlob(blob *Blob) {
	if blob.maxChunk <= 0 {
		panic(fmt.Errorf("%s.%s: invalid max chunk size %d", tbl.name, blob.name, blob.maxChunk))
	}
	tbl.claimSub(blob.sub, "blob "+blob.name)
	blob.table = tbl
	blob.pos = len(tbl.blobs)
	tbl.blobs = append(tbl.blobs, blob)
}

func (tbl *Table) ensureCorrectKeyType(keyVal reflect.Value) reflect.Value {
	if keyVal.Type() != tbl.keyType {
		if keyVal.CanConvert(tbl.keyType) {
			return keyVal.Convert(tbl.keyType)
		}
		panic(fmt.Errorf("%s: key must be %v, got %v %v", tbl.name, tbl.keyType, keyVal.Type(), keyVal.Interface()))
	}
	return keyVal
}

func (tbl *Table) RowKeyVal(rowVal reflect.Value) reflect.Value {
	return tbl.rowInfo.keyValue(rowVal)
}

func (tbl *Table) RowKey(row any) any {
	return tbl.RowKeyVal(reflect.ValueOf(row)).Interface()
}

func (tbl *Table) EncodeKey(key any) []byte {
	return tbl.keyEnc.encode(nil, tbl.ensureCorrectKeyType(reflect.ValueOf(key)))
}

func (tbl *Table) encodeKeyVal(buf []byte, keyVal reflect.Value, zeroOK bool) ([]byte, error) {
	buf = tbl.keyEnc.encode(buf, tbl.ensureCorrectKeyType(keyVal))
	if !zeroOK && bytes.Equal(buf, tbl.zeroKey) {
		return nil, tableErrf(tbl, "", nil, ErrZeroKey, "%v", keyVal.Interface())
	}
	if len(buf) > maxKeySize {
		return nil, tableErrf(tbl, "", nil, ErrCapacityExceeded, "key is %d bytes", len(buf))
	}
	return buf, nil
}

func (tbl *Table) DecodeKeyVal(raw []byte) (reflect.Value, error) {
	keyPtr := reflect.New(tbl.keyType)
	err := tbl.keyEnc.decode(raw, keyPtr.Elem())
	if err != nil {
		return reflect.Value{}, tableErrf(tbl, "", raw, err, "decoding key")
	}
	return keyPtr.Elem(), nil
}

func (tbl *Table) DecodeKey(raw []byte) (any, error) {
	val, err := tbl.DecodeKeyVal(raw)
	if err != nil {
		return nil, err
	}
	return val.Interface(), nil
}

func (tbl *Table) RawKeyString(keyRaw []byte) string {
	tup, err := decodeTuple(keyRaw)
	if err != nil {
		return "!" + hexstr(keyRaw)
	}
	return strings.Join(tbl.keyEnc.tupleToStrings(tup), tbl.keyStringSep)
}

func (tbl *Table) KeyString(key any) string {
	return tbl.RawKeyString(tbl.EncodeKey(key))
}

func (tbl *Table) NewRowVal() reflect.Value {
	return reflect.New(tbl.rowType)
}

func (tbl *Table) NewRow() any {
	return tbl.NewRowVal().Interface()
}
