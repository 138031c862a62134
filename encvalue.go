package ixdb

import (
	"encoding/binary"
	"fmt"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize       = 6
	valueHeaderFields  = 6
	maxValueHeaderSize = binary.MaxVarintLen64 * valueHeaderFields
	maxSchemaVersion   = 32768 // just a sanity value, can be increased
)

// value is a decoded primary entry. Data, Index and Blobs alias the raw
// bytes they were decoded from.
type value struct {
	Flags     valueFlags
	SchemaVer uint64
	ModCount  uint64
	Data      []byte
	Index     []byte
	Blobs     []byte
}

type ValueMeta struct {
	SchemaVer uint64
	ModCount  uint64
}

func (vle *value) meta() ValueMeta {
	return ValueMeta{
		SchemaVer: vle.SchemaVer,
		ModCount:  vle.ModCount,
	}
}

// encodeValue lays out a primary entry as
// flags, schemaVer, modCount, dataSize, indexSize, blobSize (uvarints), data, index, blobs.
func encodeValue(buf []byte, flags valueFlags, schemaVer, modCount uint64, data, index, blobs []byte) []byte {
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	buf = ensureCapacity(buf, len(buf)+maxValueHeaderSize+len(data)+len(index)+len(blobs))
	buf = appendUvarint(buf, uint64(flags))
	buf = appendUvarint(buf, schemaVer)
	buf = appendUvarint(buf, modCount)
	buf = appendUvarint(buf, uint64(len(data)))
	buf = appendUvarint(buf, uint64(len(index)))
	buf = appendUvarint(buf, uint64(len(blobs)))
	buf = append(buf, data...)
	buf = append(buf, index...)
	buf = append(buf, blobs...)
	return buf
}

func (vle *value) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)

	v, err := d.Uvarint()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, d.Off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)

	vle.SchemaVer, err = d.Uvarint()
	if err != nil || vle.SchemaVer > maxSchemaVersion {
		return dataErrf(data, d.Off(), err, "invalid value: bad schema version")
	}

	vle.ModCount, err = d.Uvarint()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad mod count")
	}

	var sizes [3]int
	for i := range sizes {
		sizes[i], err = d.Uvarinti()
		if err == nil && sizes[i] > len(data) {
			err = fmt.Errorf("section %d size %d exceeds value size", i, sizes[i])
		}
		if err != nil {
			return dataErrf(data, d.Off(), err, "invalid value: bad section size")
		}
	}
	if expected := sizes[0] + sizes[1] + sizes[2]; len(d.Buf) != expected {
		return dataErrf(data, d.Off(), nil, "invalid value: got %d bytes for data+index+blobs, expected %d bytes", len(d.Buf), expected)
	}
	vle.Data = must(d.Raw(sizes[0]))
	vle.Index = must(d.Raw(sizes[1]))
	vle.Blobs = must(d.Raw(sizes[2]))
	return nil
}

func decodeTableValue(vle *value, tbl *Table, keyRaw, raw []byte) error {
	err := vle.decode(raw)
	if err != nil {
		return tableErrf(tbl, "", keyRaw, err, "decoding value")
	}
	return nil
}
