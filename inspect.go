package ixdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/andreyvit/ixdb/blobcodec"
)

// The functions in this file work off the on-disk format alone, without a
// Schema, so that tools can inspect any database.

type BucketSummary struct {
	Name    string
	Kind    string
	Ordinal uint64
	Entries int
	Alloc   int64
}

type TableSummary struct {
	Name    string
	Rows    int
	Alloc   int64
	KeySig  string
	Buckets []BucketSummary
}

func (s TableSummary) Entries(kind string) int {
	var n int
	for _, b := range s.Buckets {
		if b.Kind == kind {
			n += b.Entries
		}
	}
	return n
}

// StorageTables lists tables that carry a table state.
func StorageTables(st Storage) ([]string, error) {
	stx, err := st.BeginTx(false)
	if err != nil {
		return nil, backendErr(err, "begin")
	}
	defer stx.Rollback()
	return storageTables(stx)
}

func storageTables(stx StorageTx) ([]string, error) {
	names, err := stx.BucketNames("")
	if err != nil {
		return nil, backendErr(err, "listing tables")
	}
	var result []string
	for _, name := range names {
		if b := stx.Bucket(name, ""); b != nil && b.Get(tableStateKey) != nil {
			result = append(result, name)
		}
	}
	if err := failedRead(stx, "listing tables"); err != nil {
		return nil, err
	}
	return result, nil
}

// storedTable is the on-disk layout of one table as described by its state.
type storedTable struct {
	name     string
	state    *tableState
	subByOrd map[uint64]string
	kinds    map[string]string
}

func loadStoredTable(stx StorageTx, name string) (*storedTable, error) {
	ts, err := loadTableState(stx, name)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrBucketNotFound)
	}
	t := &storedTable{
		name:     name,
		state:    ts,
		subByOrd: make(map[uint64]string),
		kinds:    map[string]string{dataSub: PrimaryTable.String()},
	}
	for iname, is := range ts.Indices {
		sub := indexSubPrefix + iname
		t.subByOrd[is.Ordinal] = sub
		t.kinds[sub] = is.Kind
	}
	for bname, bs := range ts.Blobs {
		sub := blobSubPrefix + bname
		t.subByOrd[bs.Ordinal] = sub
		t.kinds[sub] = BlobTable.String()
	}
	return t, nil
}

func DescribeStorage(st Storage) ([]TableSummary, error) {
	stx, err := st.BeginTx(false)
	if err != nil {
		return nil, backendErr(err, "begin")
	}
	defer stx.Rollback()

	names, err := storageTables(stx)
	if err != nil {
		return nil, err
	}
	var result []TableSummary
	for _, name := range names {
		t, err := loadStoredTable(stx, name)
		if err != nil {
			return nil, err
		}
		subs, err := stx.BucketNames(name)
		if err != nil {
			return nil, backendErr(err, "listing %s", name)
		}
		sum := TableSummary{Name: name, KeySig: t.state.KeySig}
		for _, sub := range subs {
			b := stx.Bucket(name, sub)
			if b == nil {
				continue
			}
			bs := b.Stats()
			sum.Alloc += bs.TotalAlloc()
			if sub == dataSub {
				sum.Rows = bs.KeyN
			}
			bsum := BucketSummary{
				Name:    sub,
				Kind:    t.kinds[sub],
				Entries: bs.KeyN,
				Alloc:   bs.TotalAlloc(),
			}
			if bsum.Kind == "" {
				bsum.Kind = "unknown"
			}
			for ord, s := range t.subByOrd {
				if s == sub {
					bsum.Ordinal = ord
				}
			}
			sum.Buckets = append(sum.Buckets, bsum)
		}
		result = append(result, sum)
	}
	if err := failedRead(stx, "describing tables"); err != nil {
		return nil, err
	}
	return result, nil
}

// DumpStorage writes up to limit rows of a table as JSON lines, one per
// row, with the hex-encoded key. limit <= 0 means no limit.
func DumpStorage(w io.Writer, st Storage, table string, limit int) error {
	stx, err := st.BeginTx(false)
	if err != nil {
		return backendErr(err, "begin")
	}
	defer stx.Rollback()

	b := stx.Bucket(table, dataSub)
	if b == nil {
		if err := failedRead(stx, "opening %s", table); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", table, ErrBucketNotFound)
	}
	c := b.Cursor()
	var n int
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if limit > 0 && n >= limit {
			break
		}
		n++
		line := map[string]any{"key": hexstr(k)}
		if tup, err := decodeTuple(k); err == nil {
			line["key_tuple"] = tup.String()
		}
		var vle value
		if err := vle.decode(v); err != nil {
			line["error"] = err.Error()
		} else {
			line["schema_ver"] = vle.SchemaVer
			line["mod_count"] = vle.ModCount
			row, err := decodeMsgpackAny(vle.Data)
			if err != nil {
				line["error"] = err.Error()
			} else {
				line["row"] = row
			}
		}
		raw, err := json.Marshal(line)
		if err != nil {
			return err
		}
		raw = append(raw, '\n')
		if _, err := w.Write(raw); err != nil {
			return err
		}
	}
	return failedRead(stx, "dumping %s", table)
}

// Problem is an integrity violation found by CheckStorage.
type Problem struct {
	Table  string
	Bucket string
	Key    []byte
	Msg    string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s/%s/%s: %s", p.Table, p.Bucket, hexstr(p.Key), p.Msg)
}

// CheckStorage verifies every table: each row's recorded derived entries
// and blob chunks exist and are intact, and no index entry or chunk exists
// that no row accounts for.
func CheckStorage(st Storage) ([]Problem, error) {
	names, err := StorageTables(st)
	if err != nil {
		return nil, err
	}
	var all []Problem
	for _, name := range names {
		problems, err := CheckTable(st, name)
		if err != nil {
			return all, err
		}
		all = append(all, problems...)
	}
	return all, nil
}

func CheckTable(st Storage, name string) ([]Problem, error) {
	stx, err := st.BeginTx(false)
	if err != nil {
		return nil, backendErr(err, "begin")
	}
	defer stx.Rollback()

	t, err := loadStoredTable(stx, name)
	if err != nil {
		return nil, err
	}
	dataB := stx.Bucket(name, dataSub)
	if dataB == nil {
		if err := failedRead(stx, "checking %s", name); err != nil {
			return nil, err
		}
		return []Problem{{Table: name, Bucket: dataSub, Msg: "missing data bucket"}}, nil
	}

	var problems []Problem
	report := func(sub string, key []byte, format string, args ...any) {
		problems = append(problems, Problem{name, sub, clone(key), fmt.Sprintf(format, args...)})
	}
	buckets := make(map[string]StorageBucket)
	bucket := func(sub string) StorageBucket {
		b, ok := buckets[sub]
		if !ok {
			b = stx.Bucket(name, sub)
			buckets[sub] = b
		}
		return b
	}
	expected := make(map[string]map[string]bool)
	expect := func(sub string, key []byte) {
		m := expected[sub]
		if m == nil {
			m = make(map[string]bool)
			expected[sub] = m
		}
		m[string(key)] = true
	}

	c := dataB.Cursor()
	for pk, v := c.First(); pk != nil; pk, v = c.Next() {
		var vle value
		if err := vle.decode(v); err != nil {
			report(dataSub, pk, "corrupt value: %v", err)
			continue
		}
		err := decodeIndexKeys(vle.Index, func(ord uint64, key []byte) {
			sub := t.subByOrd[ord]
			if sub == "" {
				return
			}
			expect(sub, key)
			if tup, err := decodeTuple(key); err != nil || len(tup) < 2 || !bytes.Equal(tup[len(tup)-1], pk) {
				report(sub, key, "recorded index key does not end with its primary key")
			}
			b := bucket(sub)
			if b == nil || !hasKey(b, key) {
				report(sub, key, "missing index entry")
			}
		})
		if err != nil {
			report(dataSub, pk, "corrupt index list: %v", err)
		}

		refs, err := decodeBlobRefs(vle.Blobs)
		if err != nil {
			report(dataSub, pk, "corrupt blob list: %v", err)
			continue
		}
		for _, ref := range refs {
			sub := t.subByOrd[ref.Ord]
			if sub == "" {
				continue
			}
			b := bucket(sub)
			chunks := make([]blobcodec.Chunk, 0, ref.Chunks)
			for i := 0; i < ref.Chunks; i++ {
				ck := blobChunkKey(pk, i)
				expect(sub, ck)
				var raw []byte
				if b != nil {
					raw = b.Get(ck)
				}
				if raw == nil {
					report(sub, ck, "missing chunk %d of %d", i, ref.Chunks)
					continue
				}
				chunks = append(chunks, blobcodec.Chunk{Index: uint8(i), Data: raw})
			}
			if len(chunks) != ref.Chunks {
				continue
			}
			data, err := blobcodec.Reconstruct(chunks)
			if err != nil {
				report(sub, pk, "%v", err)
			} else if len(data) != ref.Size || blobcodec.Checksum(data) != ref.Checksum {
				report(sub, pk, "blob does not match %v", ref)
			}
		}
	}

	subs, err := stx.BucketNames(name)
	if err != nil {
		return problems, backendErr(err, "listing %s", name)
	}
	for _, sub := range subs {
		if sub == dataSub {
			continue
		}
		isBlob := strings.HasPrefix(sub, blobSubPrefix)
		if !isBlob && !strings.HasPrefix(sub, indexSubPrefix) {
			continue
		}
		exp := expected[sub]
		c := bucket(sub).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if exp[string(k)] {
				continue
			}
			if isBlob {
				report(sub, k, "orphan chunk")
				continue
			}
			tup, err := decodeTuple(k)
			if err != nil || len(tup) < 2 {
				report(sub, k, "undecodable index entry")
			} else if dataB.Get(tup[len(tup)-1]) == nil {
				report(sub, k, "dangling index entry, primary row missing")
			} else {
				report(sub, k, "stray index entry, not recorded by its row")
			}
		}
	}
	if err := failedRead(stx, "checking %s", name); err != nil {
		return nil, err
	}
	return problems, nil
}

func hasKey(b StorageBucket, key []byte) bool {
	k, _ := b.Cursor().Seek(key)
	return k != nil && bytes.Equal(k, key)
}
