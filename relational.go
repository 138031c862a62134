package ixdb

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// LinkState says how much of its target a RelationalLink carries.
type LinkState int

const (
	LinkDehydrated LinkState = iota // key only
	LinkOwned                       // key and an owned copy of the target
	LinkHydrated                    // key and a caller-supplied target
	LinkBorrowed                    // key and a borrowed view bound to a transaction
)

var linkStateNames = [...]string{
	LinkDehydrated: "dehydrated",
	LinkOwned:      "owned",
	LinkHydrated:   "hydrated",
	LinkBorrowed:   "borrowed",
}

func (s LinkState) String() string {
	if s >= 0 && int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return fmt.Sprintf("LinkState(%d)", int(s))
}

// RelationalLink references a row of another table by key. It encodes as
// just the key, so it can be stored inside rows.
type RelationalLink[Row any, Key comparable] struct {
	state    LinkState
	key      Key
	row      *Row
	borrowed *Borrowed[Row]
}

var (
	_ msgpack.CustomEncoder = RelationalLink[struct{ ID int }, int]{}
	_ msgpack.CustomDecoder = (*RelationalLink[struct{ ID int }, int])(nil)
)

func LinkTo[Row any, Key comparable](key Key) RelationalLink[Row, Key] {
	return RelationalLink[Row, Key]{key: key}
}

// OwnedLink carries row, which the link owns from now on.
func OwnedLink[Row any, Key comparable](key Key, row *Row) RelationalLink[Row, Key] {
	return RelationalLink[Row, Key]{state: LinkOwned, key: key, row: row}
}

// HydratedLink carries a row the caller keeps owning.
func HydratedLink[Row any, Key comparable](key Key, row *Row) RelationalLink[Row, Key] {
	return RelationalLink[Row, Key]{state: LinkHydrated, key: key, row: row}
}

func BorrowedLink[Row any, Key comparable](key Key, b *Borrowed[Row]) RelationalLink[Row, Key] {
	return RelationalLink[Row, Key]{state: LinkBorrowed, key: key, borrowed: b}
}

func (l RelationalLink[Row, Key]) State() LinkState {
	return l.state
}

func (l RelationalLink[Row, Key]) Key() Key {
	return l.key
}

func (l RelationalLink[Row, Key]) IsZero() bool {
	var zero Key
	return l.key == zero
}

func (l RelationalLink[Row, Key]) Dehydrate() RelationalLink[Row, Key] {
	return RelationalLink[Row, Key]{key: l.key}
}

// Row returns the carried target: nil for a dehydrated link, an owned
// decoded copy for a borrowed one.
func (l RelationalLink[Row, Key]) Row() (*Row, error) {
	switch l.state {
	case LinkOwned, LinkHydrated:
		return l.row, nil
	case LinkBorrowed:
		return l.borrowed.Decode()
	default:
		return nil, nil
	}
}

// Hydrate reads an owned copy of the target.
func (l RelationalLink[Row, Key]) Hydrate(txh Txish) (RelationalLink[Row, Key], error) {
	row, err := Get[Row](txh, l.key)
	if err != nil {
		return l, err
	}
	if row == nil {
		return l, fmt.Errorf("link to %v: %w", l.key, ErrNotFound)
	}
	return OwnedLink(l.key, row), nil
}

// Borrow reads a zero-copy view of the target, valid while txh allows.
func (l RelationalLink[Row, Key]) Borrow(txh Txish) (RelationalLink[Row, Key], error) {
	b, err := GetBorrowed[Row](txh, l.key)
	if err != nil {
		return l, err
	}
	if b == nil {
		return l, fmt.Errorf("link to %v: %w", l.key, ErrNotFound)
	}
	return BorrowedLink(l.key, b), nil
}

// Equal compares keys only.
func (l RelationalLink[Row, Key]) Equal(other RelationalLink[Row, Key]) bool {
	return l.key == other.key
}

func (l RelationalLink[Row, Key]) String() string {
	return fmt.Sprintf("link(%v, %v)", l.key, l.state)
}

func (l RelationalLink[Row, Key]) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(l.key)
}

func (l *RelationalLink[Row, Key]) DecodeMsgpack(dec *msgpack.Decoder) error {
	*l = RelationalLink[Row, Key]{}
	return dec.Decode(&l.key)
}
