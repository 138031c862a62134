package ixdb

import (
	"cmp"
	"reflect"
	"slices"

	"github.com/andreyvit/ixdb/blobcodec"
)

type pendingBlob struct {
	blob   *Blob
	chunks []blobcodec.Chunk
	ref    blobRef
}

// deriveBlobs extracts and splits the blob fields of row. The chunks slice
// a private copy of the data.
func deriveBlobs(tbl *Table, ts *tableState, row any, keyRaw []byte) ([]pendingBlob, error) {
	var result []pendingBlob
	for _, blob := range tbl.blobs {
		data, err := blob.get(row)
		if err != nil {
			return nil, tableErrf(tbl, blob.name, keyRaw, err, "encoding blob")
		}
		if len(data) == 0 {
			continue
		}
		data = clone(data)
		chunks, err := blobcodec.Split(data, blob.maxChunk)
		if err != nil {
			return nil, tableErrf(tbl, blob.name, keyRaw, err, "splitting %d bytes", len(data))
		}
		result = append(result, pendingBlob{
			blob:   blob,
			chunks: chunks,
			ref: blobRef{
				Ord:      ts.blobOrdinal(blob),
				Chunks:   len(chunks),
				Size:     len(data),
				Checksum: blobcodec.Checksum(data),
			},
		})
	}
	slices.SortFunc(result, func(a, b pendingBlob) int {
		return cmp.Compare(a.ref.Ord, b.ref.Ord)
	})
	return result, nil
}

func blobRefsOf(blobs []pendingBlob) []blobRef {
	if len(blobs) == 0 {
		return nil
	}
	refs := make([]blobRef, len(blobs))
	for i, pb := range blobs {
		refs[i] = pb.ref
	}
	return refs
}

func blobChunkKey(keyRaw []byte, index int) []byte {
	return tuple{keyRaw, {byte(index)}}.encode(nil)
}

// blobOps returns the chunk writes and removals that turn oldRefs into
// newBlobs. Unchanged blobs produce nothing.
func blobOps(tbl *Table, ts *tableState, keyRaw []byte, oldRefs []blobRef, newBlobs []pendingBlob) []Operation {
	var ops []Operation
	for _, pb := range newBlobs {
		old, found := findBlobRef(oldRefs, pb.ref.Ord)
		if found && old == pb.ref {
			continue
		}
		for _, c := range pb.chunks {
			ops = append(ops, Operation{
				Table:    tbl.name,
				Sub:      pb.blob.sub,
				Kind:     BlobTable,
				Priority: BlobWrite,
				Action:   OpInsert,
				Key:      blobChunkKey(keyRaw, int(c.Index)),
				Value:    c.Data,
			})
		}
		if found {
			ops = appendChunkRemovals(ops, tbl, pb.blob, keyRaw, pb.ref.Chunks, old.Chunks)
		}
	}
	for _, old := range oldRefs {
		if slices.ContainsFunc(newBlobs, func(pb pendingBlob) bool { return pb.ref.Ord == old.Ord }) {
			continue
		}
		blob := ts.blobByOrdinal(old.Ord)
		if blob == nil {
			continue // bucket dropped along with the blob
		}
		ops = appendChunkRemovals(ops, tbl, blob, keyRaw, 0, old.Chunks)
	}
	return ops
}

func appendChunkRemovals(ops []Operation, tbl *Table, blob *Blob, keyRaw []byte, from, to int) []Operation {
	for i := from; i < to; i++ {
		ops = append(ops, Operation{
			Table:    tbl.name,
			Sub:      blob.sub,
			Kind:     BlobTable,
			Priority: Removal,
			Action:   OpRemove,
			Key:      blobChunkKey(keyRaw, i),
		})
	}
	return ops
}

// loadBlob reads and verifies all chunks of one blob. The result is owned.
func loadBlob(view *tableView, blob *Blob, keyRaw []byte, ref blobRef) ([]byte, error) {
	tbl := view.tbl
	b := view.blobs[blob.pos]
	chunks := make([]blobcodec.Chunk, ref.Chunks)
	for i := range chunks {
		raw := b.Get(blobChunkKey(keyRaw, i))
		if raw == nil {
			return nil, tableErrf(tbl, blob.name, keyRaw, ErrCorruption, "chunk %d of %d missing", i, ref.Chunks)
		}
		chunks[i] = blobcodec.Chunk{Index: uint8(i), Data: raw}
	}
	data, err := blobcodec.Reconstruct(chunks)
	if err != nil {
		return nil, tableErrf(tbl, blob.name, keyRaw, err, "reconstructing")
	}
	if len(data) != ref.Size {
		return nil, tableErrf(tbl, blob.name, keyRaw, ErrCorruption, "got %d bytes, expected %d", len(data), ref.Size)
	}
	if sum := blobcodec.Checksum(data); sum != ref.Checksum {
		return nil, tableErrf(tbl, blob.name, keyRaw, ErrCorruption, "checksum %016x, expected %016x", sum, ref.Checksum)
	}
	return data, nil
}

// fillBlobs sets every blob field of the decoded row, reading chunks from view.
func fillBlobs(view *tableView, ts *tableState, rowVal reflect.Value, keyRaw []byte, refs []blobRef) error {
	tbl := view.tbl
	row := rowVal.Interface()
	for _, blob := range tbl.blobs {
		ref, found := findBlobRef(refs, ts.blobOrdinal(blob))
		var data []byte
		if found {
			var err error
			data, err = loadBlob(view, blob, keyRaw, ref)
			if err != nil {
				return err
			}
		}
		if err := blob.set(row, data); err != nil {
			return tableErrf(tbl, blob.name, keyRaw, err, "decoding blob")
		}
	}
	return nil
}

// LoadBlob returns the value of a single blob field of the row with the
// given key, or nil if the row is missing or the blob is empty.
func LoadBlob(txh Txish, blob *Blob, key any) ([]byte, error) {
	tx := txh.DBTx()
	tbl := blob.table
	keyRaw, err := tbl.encodeKeyVal(nil, reflect.ValueOf(key), true)
	if err != nil {
		return nil, err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return nil, err
	}
	raw := view.data.Get(keyRaw)
	if raw == nil {
		return nil, tx.checkRead(nil)
	}
	var vle value
	if err := decodeTableValue(&vle, tbl, keyRaw, raw); err != nil {
		return nil, err
	}
	refs, err := decodeBlobRefs(vle.Blobs)
	if err != nil {
		return nil, tableErrf(tbl, "", keyRaw, err, "decoding blob list")
	}
	ref, found := findBlobRef(refs, tx.db.tableState(tbl).blobOrdinal(blob))
	if !found {
		return nil, nil
	}
	data, err := loadBlob(view, blob, keyRaw, ref)
	if err != nil {
		return nil, tx.checkRead(err)
	}
	return data, nil
}
