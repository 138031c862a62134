package ixdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

func appendIndexKeys(buf []byte, rows indexRows) []byte {
	total := binary.MaxVarintLen32 + len(rows)*(binary.MaxVarintLen64+binary.MaxVarintLen32)
	for _, row := range rows {
		total += len(row.KeyRaw)
	}
	buf = ensureCapacity(buf, len(buf)+total)
	buf = appendUvarint(buf, uint64(len(rows)))
	for _, row := range rows {
		buf = appendUvarint(buf, row.IndexOrd)
		buf = appendVarbytes(buf, row.KeyRaw)
	}
	return buf
}

func decodeIndexKeys(data []byte, f func(ord uint64, key []byte)) error {
	if len(data) == 0 {
		return nil
	}
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ord, err := d.Uvarint()
		if err != nil {
			return err
		}
		key, err := d.VarBytes()
		if err != nil {
			return err
		}
		f(ord, key)
	}
	return d.End()
}

// diffIndexKeys walks the stored (ordinal, key) list and the new rows, both
// sorted by ordinal then key, reporting pairs only present on one side.
func diffIndexKeys(oldData []byte, newRows indexRows, removed func(ord uint64, key []byte), added func(row *IndexRow)) error {
	i := 0
	err := decodeIndexKeys(oldData, func(ord uint64, key []byte) {
		for i < len(newRows) {
			row := &newRows[i]
			c := compareIndexKey(row.IndexOrd, row.KeyRaw, ord, key)
			if c > 0 {
				break
			}
			i++
			if c == 0 {
				return
			}
			added(row)
		}
		removed(ord, key)
	})
	if err != nil {
		return err
	}
	for ; i < len(newRows); i++ {
		added(&newRows[i])
	}
	return nil
}

func compareIndexKey(ord1 uint64, key1 []byte, ord2 uint64, key2 []byte) int {
	if ord1 != ord2 {
		if ord1 < ord2 {
			return -1
		}
		return 1
	}
	return bytes.Compare(key1, key2)
}

// blobRef records one stored blob field of a row: which chunks exist and
// what they should reassemble into.
type blobRef struct {
	Ord      uint64
	Chunks   int
	Size     int
	Checksum uint64
}

func (br blobRef) String() string {
	return fmt.Sprintf("#%d[%d chunks, %d bytes, %016x]", br.Ord, br.Chunks, br.Size, br.Checksum)
}

func appendBlobRefs(buf []byte, refs []blobRef) []byte {
	if len(refs) == 0 {
		return buf
	}
	buf = appendUvarint(buf, uint64(len(refs)))
	for _, br := range refs {
		buf = appendUvarint(buf, br.Ord)
		buf = appendUvarint(buf, uint64(br.Chunks))
		buf = appendUvarint(buf, uint64(br.Size))
		buf = appendFixed64(buf, br.Checksum)
	}
	return buf
}

func decodeBlobRefs(data []byte) ([]blobRef, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	if n > len(data) {
		return nil, dataErrf(data, 0, nil, "invalid blob list: %d entries", n)
	}
	refs := make([]blobRef, n)
	for i := range refs {
		br := &refs[i]
		if br.Ord, err = d.Uvarint(); err != nil {
			return nil, err
		}
		if br.Chunks, err = d.Uvarinti(); err != nil {
			return nil, err
		}
		if br.Size, err = d.Uvarinti(); err != nil {
			return nil, err
		}
		if br.Checksum, err = d.Fixed64(); err != nil {
			return nil, err
		}
	}
	return refs, d.End()
}

func findBlobRef(refs []blobRef, ord uint64) (blobRef, bool) {
	for _, br := range refs {
		if br.Ord == ord {
			return br, true
		}
	}
	return blobRef{}, false
}
