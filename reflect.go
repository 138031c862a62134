package ixdb

import (
	"fmt"
	"reflect"
)

type structInfo struct {
	keyField reflect.StructField
}

func (si *structInfo) keyValue(rowVal reflect.Value) reflect.Value {
	return rowVal.Elem().FieldByIndex(si.keyField.Index)
}

func reflectStruct(typ reflect.Type) *structInfo {
	if typ.Kind() != reflect.Ptr {
		panic(fmt.Errorf("%v not a pointer", typ))
	}
	typ = typ.Elem()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Errorf("%v not a struct", typ))
	}
	if typ.NumField() == 0 {
		panic(fmt.Errorf("%v is an empty struct", typ))
	}
	keyField := typ.Field(0)
	if !keyField.IsExported() {
		panic(fmt.Errorf("key field %v.%s must be exported", typ, keyField.Name))
	}
	return &structInfo{
		keyField: keyField,
	}
}

func tableOf[Row any](tx *Tx) *Table {
	return tx.db.schema.TableByRowType(reflect.TypeFor[*Row]())
}

func valToRow[Row any](val reflect.Value) *Row {
	if !val.IsValid() {
		return nil
	}
	return val.Interface().(*Row)
}
