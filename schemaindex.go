package ixdb

import (
	"fmt"
	"reflect"
)

// Index is a derived table: a secondary index, a relation to another
// table, or a subscription topic set. Its entries are tuple(value, primary
// key) with an empty value.
type Index struct {
	table   *Table
	pos     int
	name    string
	sub     string
	kind    TableKind
	recType reflect.Type
	keyEnc  *keyEncoding
	target  *Table
}

func newIndex(name string, kind TableKind, recType reflect.Type) *Index {
	if name == "" {
		panic("index name must not be empty")
	}
	return &Index{
		name:    name,
		sub:     indexSubPrefix + name,
		kind:    kind,
		recType: recType,
		keyEnc:  keyEncodingOf(recType),
	}
}

// AddIndex declares a secondary index over values of type T.
func AddIndex[T any](name string) *Index {
	return newIndex(name, SecondaryTable, reflect.TypeFor[T]())
}

// AddRelation declares a relational index pointing at target; T must be
// the key type of target.
func AddRelation[T any](name string, target *Table) *Index {
	if target == nil {
		panic(fmt.Errorf("relation %s: nil target", name))
	}
	idx := newIndex(name, RelationalTable, reflect.TypeFor[T]())
	idx.target = target
	return idx
}

// AddSubscription declares a set of string topics a row subscribes to.
func AddSubscription(name string) *Index {
	return newIndex(name, SubscriptionTable, reflect.TypeFor[string]())
}

func (idx *Index) Table() *Table {
	return idx.table
}

func (idx *Index) ShortName() string {
	return idx.name
}

func (idx *Index) FullName() string {
	if idx.table == nil {
		return idx.name
	}
	return idx.table.name + "." + idx.name
}

func (idx *Index) String() string {
	return idx.FullName()
}

func (idx *Index) Kind() TableKind {
	return idx.kind
}

// Target is the table a relational index points at, nil for other kinds.
func (idx *Index) Target() *Table {
	return idx.target
}

func (idx *Index) ValueType() reflect.Type {
	return idx.recType
}

func (idx *Index) convertValue(value any) (reflect.Value, error) {
	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return val, fmt.Errorf("%s: nil value", idx.FullName())
	}
	if val.Type() == idx.recType {
		return val, nil
	}
	if val.CanConvert(idx.recType) {
		return val.Convert(idx.recType), nil
	}
	return reflect.Value{}, fmt.Errorf("%s: value must be %v, got %T", idx.FullName(), idx.recType, value)
}

// encodePrefix returns the encoded value components of an index key,
// without the trailing count, for seeking.
func (idx *Index) encodePrefix(buf []byte, val reflect.Value) []byte {
	var tb tupleEncoder
	return idx.keyEnc.appendComps(&tb, buf, val)
}

func (idx *Index) searchTuple(val reflect.Value) tuple {
	var tb tupleEncoder
	raw := tb.finalize(idx.keyEnc.appendComps(&tb, nil, val))
	return must(decodeTuple(raw))
}
