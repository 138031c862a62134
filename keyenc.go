package ixdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var timeType = reflect.TypeFor[time.Time]()

type keyCompKind int

const (
	kcString keyCompKind = iota
	kcBytes
	kcBool
	kcInt
	kcUint
	kcTime
	kcArray
)

var keyCompKindNames = [...]string{
	kcString: "str",
	kcBytes:  "bytes",
	kcBool:   "bool",
	kcInt:    "int",
	kcUint:   "uint",
	kcTime:   "time",
	kcArray:  "arr",
}

// keyComp is one tuple element of an encoded key: a scalar reached from
// the root value by the given field index path.
type keyComp struct {
	path []int
	kind keyCompKind
	typ  reflect.Type
}

// keyEncoding turns values of a single Go type into order-preserving
// tuples. Structs are flattened into one element per scalar field.
type keyEncoding struct {
	typ   reflect.Type
	comps []keyComp
}

func keyEncodingOf(typ reflect.Type) *keyEncoding {
	enc := &keyEncoding{typ: typ}
	enc.collect(typ, nil)
	if len(enc.comps) == 0 {
		panic(fmt.Errorf("key type %v has no encodable components", typ))
	}
	return enc
}

func (enc *keyEncoding) collect(typ reflect.Type, path []int) {
	add := func(kind keyCompKind) {
		enc.comps = append(enc.comps, keyComp{path: append([]int(nil), path...), kind: kind, typ: typ})
	}
	if typ == timeType {
		add(kcTime)
		return
	}
	switch typ.Kind() {
	case reflect.String:
		add(kcString)
	case reflect.Bool:
		add(kcBool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		add(kcInt)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		add(kcUint)
	case reflect.Slice:
		if typ.Elem().Kind() != reflect.Uint8 {
			panic(fmt.Errorf("unsupported key type %v", typ))
		}
		add(kcBytes)
	case reflect.Array:
		if typ.Elem().Kind() != reflect.Uint8 {
			panic(fmt.Errorf("unsupported key type %v", typ))
		}
		add(kcArray)
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() {
				continue
			}
			enc.collect(f.Type, append(path, i))
		}
	default:
		panic(fmt.Errorf("unsupported key type %v", typ))
	}
}

// signature identifies the on-disk shape of the encoding, e.g. "uint" or
// "str,int". It is persisted in table state to detect incompatible changes.
func (enc *keyEncoding) signature() string {
	var buf strings.Builder
	for i, c := range enc.comps {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(keyCompKindNames[c.kind])
		if c.kind == kcArray {
			buf.WriteString(strconv.Itoa(c.typ.Len()))
		}
	}
	return buf.String()
}

func (enc *keyEncoding) appendComps(tb *tupleEncoder, buf []byte, val reflect.Value) []byte {
	if val.Type() != enc.typ {
		panic(fmt.Errorf("key encoding of %v got %v", enc.typ, val.Type()))
	}
	for _, c := range enc.comps {
		tb.begin(buf)
		buf = c.append(buf, fieldAt(val, c.path))
	}
	return buf
}

func (enc *keyEncoding) encode(buf []byte, val reflect.Value) []byte {
	var tb tupleEncoder
	buf = enc.appendComps(&tb, buf, val)
	return tb.finalize(buf)
}

func (enc *keyEncoding) decode(raw []byte, val reflect.Value) error {
	tup, err := decodeTuple(raw)
	if err != nil {
		return err
	}
	return enc.decodeTup(tup, val)
}

// decodeTup fills val from the first len(enc.comps) elements of tup.
func (enc *keyEncoding) decodeTup(tup tuple, val reflect.Value) error {
	if len(tup) < len(enc.comps) {
		return fmt.Errorf("%w: %v key needs %d elements, got %d", ErrCorruption, enc.typ, len(enc.comps), len(tup))
	}
	for i, c := range enc.comps {
		if err := c.decode(tup[i], fieldAt(val, c.path)); err != nil {
			return err
		}
	}
	return nil
}

func (enc *keyEncoding) tupleToStrings(tup tuple) []string {
	strs := make([]string, 0, len(enc.comps))
	for i, c := range enc.comps {
		if i >= len(tup) {
			break
		}
		strs = append(strs, c.format(tup[i]))
	}
	return strs
}

func fieldAt(v reflect.Value, path []int) reflect.Value {
	if len(path) == 0 {
		return v
	}
	return v.FieldByIndex(path)
}

func (c *keyComp) append(buf []byte, v reflect.Value) []byte {
	switch c.kind {
	case kcString:
		return append(buf, v.String()...)
	case kcBytes:
		return appendRaw(buf, v.Bytes())
	case kcBool:
		if v.Bool() {
			return append(buf, 1)
		}
		return append(buf, 0)
	case kcInt:
		return appendFixed64(buf, uint64(v.Int())^(1<<63))
	case kcUint:
		return appendFixed64(buf, v.Uint())
	case kcTime:
		t := v.Interface().(time.Time)
		return appendFixed64(buf, uint64(t.UnixNano())^(1<<63))
	case kcArray:
		off, buf := grow(buf, v.Len())
		for i := range v.Len() {
			buf[off+i] = byte(v.Index(i).Uint())
		}
		return buf
	default:
		panic("unreachable")
	}
}

func (c *keyComp) decode(raw []byte, v reflect.Value) error {
	switch c.kind {
	case kcString:
		v.SetString(string(raw))
	case kcBytes:
		v.SetBytes(clone(raw))
	case kcBool:
		if len(raw) != 1 {
			return dataErrf(raw, 0, nil, "invalid bool key element")
		}
		v.SetBool(raw[0] != 0)
	case kcInt, kcUint, kcTime:
		if len(raw) != 8 {
			return dataErrf(raw, 0, nil, "invalid %s key element", keyCompKindNames[c.kind])
		}
		u := binary.BigEndian.Uint64(raw)
		switch c.kind {
		case kcInt:
			n := int64(u ^ (1 << 63))
			if v.OverflowInt(n) {
				return dataErrf(raw, 0, nil, "%d overflows %v", n, c.typ)
			}
			v.SetInt(n)
		case kcUint:
			if v.OverflowUint(u) {
				return dataErrf(raw, 0, nil, "%d overflows %v", u, c.typ)
			}
			v.SetUint(u)
		default:
			v.Set(reflect.ValueOf(time.Unix(0, int64(u^(1<<63))).UTC()))
		}
	case kcArray:
		if len(raw) != v.Len() {
			return dataErrf(raw, 0, nil, "invalid %v key element", c.typ)
		}
		for i, b := range raw {
			v.Index(i).SetUint(uint64(b))
		}
	}
	return nil
}

func (c *keyComp) format(raw []byte) string {
	switch c.kind {
	case kcString:
		return string(raw)
	case kcBool, kcInt, kcUint, kcTime:
		v := reflect.New(c.typ).Elem()
		if err := c.decode(raw, v); err != nil {
			return "!" + hex.EncodeToString(raw)
		}
		if c.kind == kcTime {
			return v.Interface().(time.Time).Format(time.RFC3339Nano)
		}
		return fmt.Sprint(v.Interface())
	default:
		return hex.EncodeToString(raw)
	}
}
