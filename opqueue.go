package ixdb

import (
	"cmp"
	"fmt"
	"slices"
)

// TableKind tells which part of a table an operation targets.
type TableKind int

const (
	PrimaryTable TableKind = iota
	SecondaryTable
	RelationalTable
	SubscriptionTable
	BlobTable

	numTableKinds
)

var tableKindNames = [...]string{
	PrimaryTable:      "primary",
	SecondaryTable:    "secondary",
	RelationalTable:   "relational",
	SubscriptionTable: "subscription",
	BlobTable:         "blob",
}

func (k TableKind) String() string {
	if k >= 0 && k < numTableKinds {
		return tableKindNames[k]
	}
	return fmt.Sprintf("kind%d", int(k))
}

func (k TableKind) writePriority() Priority {
	switch k {
	case PrimaryTable:
		return PrimaryWrite
	case SecondaryTable:
		return SecondaryWrite
	case RelationalTable:
		return RelationalWrite
	case SubscriptionTable:
		return SubscriptionWrite
	case BlobTable:
		return BlobWrite
	default:
		panic(fmt.Errorf("invalid table kind %d", int(k)))
	}
}

// Priority orders pending operations at commit; lower values apply first.
type Priority int

const (
	PrimaryWrite      Priority = 0
	SecondaryWrite    Priority = 1
	RelationalWrite   Priority = 2
	SubscriptionWrite Priority = 3
	BlobWrite         Priority = 3
	Removal           Priority = 4
)

type OpAction int

const (
	OpInsert OpAction = iota
	OpRemove
)

func (a OpAction) String() string {
	if a == OpRemove {
		return "remove"
	}
	return "insert"
}

// Operation is a single pending mutation of one bucket. Key and Value are
// owned by the operation.
type Operation struct {
	Table    string
	Sub      string
	Kind     TableKind
	Priority Priority
	Action   OpAction
	Key      []byte
	Value    []byte
}

func (op Operation) String() string {
	if op.Action == OpRemove {
		return fmt.Sprintf("p%d %s %s/%s %s", op.Priority, op.Action, op.Table, op.Sub, hexstr(op.Key))
	}
	return fmt.Sprintf("p%d %s %s/%s %s => %d bytes", op.Priority, op.Action, op.Table, op.Sub, hexstr(op.Key), len(op.Value))
}

type opQueue struct {
	ops []Operation
}

func (q *opQueue) enqueue(op Operation) {
	q.ops = append(q.ops, op)
}

func (q *opQueue) len() int {
	return len(q.ops)
}

type bucketRef struct {
	table, sub string
}

// drain applies all pending operations in priority order, keeping the
// enqueue order within a priority. On failure the queue is still emptied;
// the caller must abandon the backend transaction.
func (q *opQueue) drain(stx StorageTx, applied *[numTableKinds]int) error {
	if len(q.ops) == 0 {
		return nil
	}
	ops := q.ops
	q.ops = nil
	slices.SortStableFunc(ops, func(a, b Operation) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	buckets := make(map[bucketRef]StorageBucket)
	for i := range ops {
		op := &ops[i]
		ref := bucketRef{op.Table, op.Sub}
		b := buckets[ref]
		if b == nil {
			b = stx.Bucket(op.Table, op.Sub)
			if b == nil {
				return fmt.Errorf("%w: applying %v: %w", ErrBackend, *op, ErrBucketNotFound)
			}
			buckets[ref] = b
		}
		var err error
		if op.Action == OpRemove {
			err = b.Delete(op.Key)
		} else {
			err = b.Put(op.Key, op.Value)
		}
		if err != nil {
			return backendErr(err, "applying %v", *op)
		}
		if applied != nil {
			applied[op.Kind]++
		}
	}
	return nil
}

// PendingOps returns a copy of the operations not yet applied, in enqueue order.
func (tx *Tx) PendingOps() []Operation {
	return slices.Clone(tx.queue.ops)
}

func (tx *Tx) enqueue(op Operation) {
	tx.queue.enqueue(op)
}

var emptyValue = []byte{}
