package ixdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDescribeStorage(t *testing.T) {
	db := setup(t, basicSchema)
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, &User{ID: 1, Email: "a@example.com", Name: "a"}))
		ok(t, Put(tx, &User{ID: 2, Email: "b@example.com"}))
		ok(t, Put(tx, &Doc{ID: "d", Content: make([]byte, 70000)}))
	})

	deepEqual(t, must(StorageTables(db.Storage())), []string{"docs", "posts", "sessions", "users", "widgets"})

	sums := must(DescribeStorage(db.Storage()))
	byName := make(map[string]TableSummary)
	for _, s := range sums {
		byName[s.Name] = s
	}
	users := byName["users"]
	deepEqual(t, users.Rows, 2)
	deepEqual(t, users.KeySig, "uint")
	deepEqual(t, users.Entries("secondary"), 3)
	deepEqual(t, byName["docs"].Entries("blob"), 2)
	deepEqual(t, byName["docs"].KeySig, "str")
	deepEqual(t, byName["posts"].Entries("relational"), 0)
}

func TestDumpStorage(t *testing.T) {
	db := setup(t, basicSchema)
	db.Write(func(tx *Tx) {
		for i := 1; i <= 3; i++ {
			ok(t, Put(tx, &User{ID: ID(i), Email: "e", Name: strings.Repeat("n", i)}))
		}
	})

	var buf bytes.Buffer
	ok(t, DumpStorage(&buf, db.Storage(), "users", 2))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	deepEqual(t, len(lines), 2)

	var line map[string]any
	ok(t, json.Unmarshal([]byte(lines[1]), &line))
	deepEqual[any](t, line["key"], hexstr(usersTable.EncodeKey(ID(2))))
	deepEqual(t, line["schema_ver"], 1.0)
	deepEqual(t, line["mod_count"], 1.0)
	deepEqual(t, line["row"], any(map[string]any{"e": "e", "n": "nn"}))

	if err := DumpStorage(&buf, db.Storage(), "nope", 0); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("** DumpStorage of a missing table = %v", err)
	}
}

func TestCheckStorage(t *testing.T) {
	pk1 := usersTable.EncodeKey(ID(1))
	indexKey := func(value string, pk []byte) []byte {
		return tuple{[]byte(value), pk}.encode(nil)
	}
	tests := []struct {
		name   string
		table  string
		sub    string
		tamper func(b StorageBucket) error
		msg    string
	}{
		{"stray", "users", "i_email", func(b StorageBucket) error {
			return b.Put(indexKey("zzz", pk1), emptyValue)
		}, "stray index entry, not recorded by its row"},
		{"dangling", "users", "i_name", func(b StorageBucket) error {
			return b.Put(indexKey("ghost", usersTable.EncodeKey(ID(99))), emptyValue)
		}, "dangling index entry, primary row missing"},
		{"missing", "users", "i_email", func(b StorageBucket) error {
			return b.Delete(indexKey("a@example.com", pk1))
		}, "missing index entry"},
		{"orphan chunk", "docs", "b_content", func(b StorageBucket) error {
			return b.Put(blobChunkKey(docsTable.EncodeKey("x"), 0), []byte("data"))
		}, "orphan chunk"},
		{"corrupt value", "users", "data", func(b StorageBucket) error {
			return b.Put(pk1, []byte{0xff})
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setup(t, basicSchema)
			db.Write(func(tx *Tx) {
				ok(t, Put(tx, &User{ID: 1, Email: "a@example.com", Name: "a"}))
				ok(t, Put(tx, &Doc{ID: "d", Content: make([]byte, 10)}))
			})
			checkIntegrity(t, db)

			tamper(t, db, tt.table, tt.sub, func(b StorageBucket) {
				ok(t, tt.tamper(b))
			})
			probs := must(CheckStorage(db.Storage()))
			if len(probs) == 0 {
				t.Fatalf("** CheckStorage found nothing")
			}
			if tt.msg == "" {
				if !strings.HasPrefix(probs[0].Msg, "corrupt value") {
					t.Errorf("** CheckStorage = %v", probs)
				}
				return
			}
			if len(probs) != 1 || probs[0].Msg != tt.msg || probs[0].Table != tt.table || probs[0].Bucket != tt.sub {
				t.Errorf("** CheckStorage = %v, wanted a single %q", probs, tt.msg)
			}
		})
	}
}

func TestProblem_String(t *testing.T) {
	p := Problem{Table: "users", Bucket: "i_email", Key: x("0102"), Msg: "missing index entry"}
	deepEqual(t, p.String(), "users/i_email/0102: missing index entry")
}
