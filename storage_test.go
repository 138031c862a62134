package ixdb

import (
	"errors"
	"testing"
)

func forEachStorage(t *testing.T, f func(t *testing.T, st Storage)) {
	t.Run("bolt", func(t *testing.T) {
		st := must(OpenBolt(tempDBFile(t), Options{IsTesting: true}))
		defer st.Close()
		f(t, st)
	})
	t.Run("mem", func(t *testing.T) {
		st := NewMemStorage()
		defer st.Close()
		f(t, st)
	})
}

func cursorKeys(k []byte, step func() ([]byte, []byte)) []string {
	var keys []string
	for ; k != nil; k, _ = step() {
		keys = append(keys, string(k))
	}
	return keys
}

func TestStorage_buckets(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		stx := must(st.BeginTx(true))
		for _, sub := range []string{"data", "i_b", "i_a"} {
			must(stx.CreateBucket("t", sub))
		}
		must(stx.CreateBucket("s", "data"))
		if stx.Bucket("t", "nope") != nil || stx.Bucket("nope", "data") != nil {
			t.Errorf("** Bucket returned a handle for a missing bucket")
		}

		deepEqual(t, must(stx.BucketNames("")), []string{"s", "t"})
		deepEqual(t, must(stx.BucketNames("t")), []string{"data", "i_a", "i_b"})
		if _, err := stx.BucketNames("nope"); !errors.Is(err, ErrBucketNotFound) {
			t.Errorf("** BucketNames of a missing root = %v", err)
		}

		ok(t, stx.DeleteBucket("t", "i_b"))
		if err := stx.DeleteBucket("t", "i_b"); !errors.Is(err, ErrBucketNotFound) {
			t.Errorf("** second DeleteBucket = %v, wanted ErrBucketNotFound", err)
		}
		ok(t, stx.Commit())

		stx = must(st.BeginTx(false))
		defer stx.Rollback()
		deepEqual(t, must(stx.BucketNames("t")), []string{"data", "i_a"})
		deepEqual(t, stx.Bucket("t", "data").Stats().KeyN, 0)
		deepEqual(t, stx.Writable(), false)
	})
}

func TestStorage_cursor(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		stx := must(st.BeginTx(true))
		defer stx.Rollback()
		b := must(stx.CreateBucket("t", "data"))
		for _, k := range []string{"b1", "a", "b2", "c", "b"} {
			ok(t, b.Put([]byte(k), []byte("v"+k)))
		}
		ok(t, b.Put([]byte("\xff\xff"), emptyValue))
		deepEqual(t, string(b.Get([]byte("b2"))), "vb2")
		if v := b.Get([]byte("\xff\xff")); v == nil || len(v) != 0 {
			t.Errorf("** empty value read back as %#v", v)
		}
		isempty(t, b.Get([]byte("zz")))

		c := b.Cursor()
		k, _ := c.First()
		deepEqual(t, cursorKeys(k, c.Next), []string{"a", "b", "b1", "b2", "c", "\xff\xff"})
		k, _ = c.Last()
		deepEqual(t, cursorKeys(k, c.Prev), []string{"\xff\xff", "c", "b2", "b1", "b", "a"})

		k, v := c.Seek([]byte("b0"))
		deepEqual(t, string(k), "b1")
		deepEqual(t, string(v), "vb1")
		k, _ = c.SeekLast([]byte("b"))
		deepEqual(t, string(k), "b2")
		k, _ = c.SeekLast([]byte("bz"))
		deepEqual(t, string(k), "b2")
		k, _ = c.SeekLast([]byte("\xff"))
		deepEqual(t, string(k), "\xff\xff")
		k, _ = c.SeekLast(nil)
		deepEqual(t, string(k), "\xff\xff")

		ok(t, b.Delete([]byte("b1")))
		ok(t, b.Delete([]byte("missing")))
		c = b.Cursor()
		k, _ = c.Seek([]byte("b"))
		deepEqual(t, cursorKeys(k, c.Next), []string{"b", "b2", "c", "\xff\xff"})
	})
}

func TestStorage_snapshots(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		stx := must(st.BeginTx(true))
		ok(t, must(stx.CreateBucket("t", "data")).Put([]byte("k"), []byte("1")))
		ok(t, stx.Commit())

		rtx := must(st.BeginTx(false))
		defer rtx.Rollback()

		wtx := must(st.BeginTx(true))
		b := wtx.Bucket("t", "data")
		ok(t, b.Put([]byte("k"), []byte("2")))
		ok(t, b.Put([]byte("k2"), []byte("x")))
		deepEqual(t, string(b.Get([]byte("k"))), "2")
		deepEqual(t, string(rtx.Bucket("t", "data").Get([]byte("k"))), "1")
		ok(t, wtx.Rollback())
		ok(t, wtx.Rollback())

		wtx = must(st.BeginTx(true))
		ok(t, wtx.Bucket("t", "data").Put([]byte("k"), []byte("3")))
		ok(t, wtx.Commit())

		deepEqual(t, string(rtx.Bucket("t", "data").Get([]byte("k"))), "1")
		isempty(t, rtx.Bucket("t", "data").Get([]byte("k2")))

		rtx2 := must(st.BeginTx(false))
		defer rtx2.Rollback()
		deepEqual(t, string(rtx2.Bucket("t", "data").Get([]byte("k"))), "3")
		isempty(t, rtx2.Bucket("t", "data").Get([]byte("k2")))
		if err := rtx2.Bucket("t", "data").Put([]byte("k"), nil); err == nil {
			t.Errorf("** Put in a read tx succeeded")
		}
	})
}
