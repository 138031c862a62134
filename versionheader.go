package ixdb

import (
	"bytes"
	"encoding/binary"
)

// A version header is the two magic bytes "NV" followed by a little-endian
// uint32 version. Payloads without the magic are legacy version 0 payloads.
const VersionHeaderSize = 6

var versionMagic = []byte{'N', 'V'}

func AppendVersionHeader(buf []byte, ver uint32) []byte {
	buf = append(buf, versionMagic...)
	return binary.LittleEndian.AppendUint32(buf, ver)
}

func HasVersionHeader(raw []byte) bool {
	return len(raw) >= VersionHeaderSize && bytes.HasPrefix(raw, versionMagic)
}

// ParseVersionHeader returns the payload version and the payload itself.
func ParseVersionHeader(raw []byte) (uint32, []byte) {
	if !HasVersionHeader(raw) {
		return 0, raw
	}
	return binary.LittleEndian.Uint32(raw[2:VersionHeaderSize]), raw[VersionHeaderSize:]
}
