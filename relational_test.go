package ixdb

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestRelationalLink_states(t *testing.T) {
	db := setup(t, basicSchema)
	alice := &User{ID: 1, Email: "alice@example.com", Name: "alice"}
	db.Write(func(tx *Tx) {
		ok(t, Put(tx, alice))
	})

	l := LinkTo[User](ID(1))
	deepEqual(t, l.State(), LinkDehydrated)
	deepEqual(t, l.IsZero(), false)
	deepEqual(t, LinkTo[User](ID(0)).IsZero(), true)
	isnil(t, must(l.Row()))

	var borrowed UserLink
	db.Read(func(tx *Tx) {
		owned := must(l.Hydrate(tx))
		deepEqual(t, owned.State(), LinkOwned)
		deepEqual(t, must(owned.Row()), alice)

		borrowed = must(l.Borrow(tx))
		deepEqual(t, borrowed.State(), LinkBorrowed)
		deepEqual(t, must(borrowed.Row()), alice)

		d := owned.Dehydrate()
		deepEqual(t, d.State(), LinkDehydrated)
		deepEqual(t, d.Key(), ID(1))
		isnil(t, must(d.Row()))

		if _, err := LinkTo[User](ID(99)).Hydrate(tx); !errors.Is(err, ErrNotFound) {
			t.Errorf("** Hydrate of a missing row = %v, wanted ErrNotFound", err)
		}
		if _, err := LinkTo[User](ID(99)).Borrow(tx); !errors.Is(err, ErrNotFound) {
			t.Errorf("** Borrow of a missing row = %v, wanted ErrNotFound", err)
		}
	})
	if _, err := borrowed.Row(); !errors.Is(err, ErrStaleBorrow) {
		t.Errorf("** Row() of a borrowed link after its tx closed = %v, wanted ErrStaleBorrow", err)
	}

	h := HydratedLink(ID(1), alice)
	deepEqual(t, h.State(), LinkHydrated)
	deepEqual(t, must(h.Row()), alice)
	deepEqual(t, h.Equal(l), true)
	deepEqual(t, h.Equal(LinkTo[User](ID(2))), false)
	deepEqual(t, h.String(), "link(1, hydrated)")
	deepEqual(t, LinkState(9).String(), "LinkState(9)")
}

func TestRelationalLink_encodesAsKey(t *testing.T) {
	link := OwnedLink(ID(300), &User{ID: 300, Name: "ignored"})
	raw := must(msgpack.Marshal(link))
	if !bytes.Equal(raw, must(msgpack.Marshal(ID(300)))) {
		t.Errorf("** link encoded as %x", raw)
	}

	var decoded UserLink
	ok(t, msgpack.Unmarshal(raw, &decoded))
	deepEqual(t, decoded.Key(), ID(300))
	deepEqual(t, decoded.State(), LinkDehydrated)

	type holder struct {
		L UserLink `msgpack:"l"`
	}
	var h holder
	ok(t, msgpack.Unmarshal(must(msgpack.Marshal(holder{L: link})), &h))
	deepEqual(t, h.L.Equal(link), true)
}
