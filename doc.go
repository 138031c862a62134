/*
Package ixdb implements a typed multi-index object store on top of an
ordered key-value engine (Bolt by default, see Storage).

We implement:

1. Tables, collections of rows marshaled from a given struct, keyed by the
struct's first field.

2. Derived tables: secondary indices, relational indices (the value is a
key of another table) and subscription indices (string topics). A row's
indexer decides which values it contributes.

3. Blobs, large fields split into at most 256 chunks stored next to the row.

4. Transactions: one writer at a time, any number of snapshot readers.
Writes are queued as operations and applied in priority order, primary
entries first and removals last, inside a single backend transaction.

# Technical Details

**Buckets.**
Each table is a root bucket holding nested buckets: "data" for rows,
"i_<name>" per index and "b_<name>" per blob. The root bucket also stores
the table state under "_state".

**Ordinals.**
Every index and blob gets a positive integer ordinal, unique within its
table. Ordinals are never reused, even if an index is removed.

**Table states.**
The table state records the key signature, the ordinal, kind and value
signature of every index, and whether each index has been built. Opening
a database with an incompatible declaration fails with ErrSchemaMismatch.

## Binary encoding

**Key encoding.**
Keys are encoded using a tuple encoding: elements concatenated, then the
lengths of all elements but the last as byte-reversed uvarints, then the
element count. Integers are big endian, signed ones with the sign bit
flipped, so byte order matches value order.

**Index entries.** Key is tuple(value elements..., primary key), value is empty.

**Blob chunks.** Key is tuple(primary key, chunk index byte), value is the chunk.

**Value**: flags, schema version, mod count, data size, index size and blob
size (uvarints), then data, then index key records, then blob records.

**Value data**: msgpack of the row struct.

**Index key records** (inside a value) record the keys contributed by this row.
If index computation changes in the future, we still need to know which index
keys to delete when updating the row, so we store all index keys. Format:
1. Number of entries (uvarint).
2. For each entry: index ordinal (uvarint), key length (uvarint), key bytes.

**Blob records**: number of blobs, then for each one the ordinal, chunk
count and size (uvarints) and an xxhash64 of the data (8 bytes).
*/
package ixdb
