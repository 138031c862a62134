package ixdb

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeMsgpack(buf []byte, objVal reflect.Value) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.EncodeValue(objVal)
	msgpack.PutEncoder(enc)
	if err != nil {
		return buf, fmt.Errorf("failed to encode %v using MsgPack: %w", objVal.Type(), err)
	}
	return bb.Buf, nil
}

func decodeMsgpack(buf []byte, objPtrVal reflect.Value) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.DecodeValue(objPtrVal)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %v", objPtrVal.Type())
	}
	return nil
}

// decodeMsgpackAny decodes without a target type, for schema-less inspection.
func decodeMsgpackAny(buf []byte) (any, error) {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	v, err := dec.DecodeInterfaceLoose()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(buf, 0, err, "failed to decode msgpack")
	}
	return v, nil
}
