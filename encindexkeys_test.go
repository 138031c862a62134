package ixdb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestIndexDiffing(t *testing.T) {
	tests := []struct {
		old     string
		new     string
		removed string
		added   string
	}{
		{"", "", "", ""},
		{"", "1:a", "", "1:a"},
		{"1:a", "", "1:a", ""},
		{"1:abc", "", "1:abc", ""},
		{"1:a 1:b", "1:a", "1:b", ""},
		{"1:a 1:b", "1:b", "1:a", ""},
		{"1:a 1:b", "1:a 1:b", "", ""},
		{"1:b", "1:a", "1:b", "1:a"},
		{"1:a", "1:a 1:b", "", "1:b"},
		{"1:a 2:a 2:b", "", "1:a 2:a 2:b", ""},
		{"1:a 2:a 2:b", "1:a", "2:a 2:b", ""},
		{"1:a 2:a 2:b", "2:a", "1:a 2:b", ""},
		{"1:a 2:a 2:b", "2:b", "1:a 2:a", ""},
		{"1:a 2:a 2:b", "1:a 2:a", "2:b", ""},
		{"1:a 2:a 2:b", "2:a 2:b", "1:a", ""},
		{"1:a 2:a 2:b", "1:a 2:b", "2:a", ""},
		{"1:a 2:a 2:b", "1:a 2:a 2:b", "", ""},
		{"1:a 2:a 2:b", "1:b 2:a 3:a", "1:a 2:b", "1:b 3:a"},
	}
	for _, tt := range tests {
		oldKeys := parseIndexKeys(tt.old)
		newKeys := parseIndexKeys(tt.new)
		oldKeysData := appendIndexKeys(nil, oldKeys)
		var removedKeys, addedKeys []string
		err := diffIndexKeys(oldKeysData, newKeys, func(ord uint64, key []byte) {
			removedKeys = append(removedKeys, fmt.Sprintf("%d:%s", ord, key))
		}, func(row *IndexRow) {
			addedKeys = append(addedKeys, fmt.Sprintf("%d:%s", row.IndexOrd, row.KeyRaw))
		})
		ok(t, err)
		if actual := strings.Join(removedKeys, " "); actual != tt.removed {
			t.Errorf("** Removed(%s => %s) == %q, expected %q", tt.old, tt.new, actual, tt.removed)
		}
		if actual := strings.Join(addedKeys, " "); actual != tt.added {
			t.Errorf("** Added(%s => %s) == %q, expected %q", tt.old, tt.new, actual, tt.added)
		}
	}
}

func TestIndexKeys_invalid(t *testing.T) {
	data := appendIndexKeys(nil, parseIndexKeys("1:abc 2:d"))
	for _, bad := range [][]byte{data[:len(data)-1], append(data, 0)} {
		err := decodeIndexKeys(bad, func(ord uint64, key []byte) {})
		if !errors.Is(err, ErrCorruption) {
			t.Errorf("** decodeIndexKeys(%x) = %v, wanted ErrCorruption", bad, err)
		}
	}
}

func parseIndexKeys(s string) indexRows {
	cc := strings.Fields(s)
	rows := make(indexRows, len(cc))
	for i, c := range cc {
		ordStr, keyStr, ok := strings.Cut(c, ":")
		if !ok {
			panic("invalid entry: " + c)
		}
		ord := must(strconv.ParseUint(ordStr, 10, 64))
		rows[i] = IndexRow{IndexOrd: ord, KeyRaw: []byte(keyStr)}
	}
	return rows
}

func TestBlobRefs(t *testing.T) {
	isempty(t, appendBlobRefs(nil, nil))
	isempty(t, must(decodeBlobRefs(nil)))

	refs := []blobRef{
		{Ord: 1, Chunks: 4, Size: 200000, Checksum: 0xdeadbeefcafef00d},
		{Ord: 3, Chunks: 1, Size: 5, Checksum: 1},
	}
	data := appendBlobRefs(nil, refs)
	deepEqual(t, must(decodeBlobRefs(data)), refs)

	br, found := findBlobRef(refs, 3)
	deepEqual(t, found, true)
	deepEqual(t, br.Size, 5)
	_, found = findBlobRef(refs, 2)
	deepEqual(t, found, false)
	deepEqual(t, refs[0].String(), "#1[4 chunks, 200000 bytes, deadbeefcafef00d]")

	if _, err := decodeBlobRefs(data[:len(data)-3]); !errors.Is(err, ErrCorruption) {
		t.Errorf("** decodeBlobRefs of truncated data = %v", err)
	}
	if _, err := decodeBlobRefs([]byte{0x7f}); !errors.Is(err, ErrCorruption) {
		t.Errorf("** decodeBlobRefs with a bogus count = %v", err)
	}
}
