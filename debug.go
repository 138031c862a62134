package ixdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows
	DumpBlobs

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of all tables for debugging and tests.
func (tx *Tx) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	for _, tbl := range tx.db.schema.tables {
		if err := tx.dumpTable(&buf, f, tbl); err != nil {
			return buf.String(), err
		}
	}
	return buf.String(), nil
}

func (tx *Tx) dumpTable(w *strings.Builder, f DumpFlags, tbl *Table) error {
	prefix := tbl.Name()
	s, err := tx.TableStats(tbl)
	if err != nil {
		return err
	}
	view, err := tx.view(tbl)
	if err != nil {
		return err
	}
	ts := tx.db.tableState(tbl)

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", prefix, s.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, blob_chunks = %d, data_size = %d, index_size = %d, blob_size = %d, total_alloc = %d\n", prefix, s.IndexRows, s.BlobChunks, s.DataSize, s.IndexSize, s.BlobSize, s.TotalAlloc())
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		c := view.data.Cursor()
		var rowPos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rowPos++
			var vle value
			if err := decodeTableValue(&vle, tbl, k, v); err != nil {
				fmt.Fprintf(w, "%s.%d = ** ERROR: %v\n", prefix, rowPos, err)
				continue
			}
			rowVal, err := tx.decodeRow(view, k, v)
			if err != nil {
				fmt.Fprintf(w, "%s.%d = (m%d s%d) ** ERROR: %v\n", prefix, rowPos, vle.ModCount, vle.SchemaVer, err)
				continue
			}
			fmt.Fprintf(w, "%s.%d = (m%d s%d) %s\n", prefix, rowPos, vle.ModCount, vle.SchemaVer, loggableRowVal(tbl, rowVal))
		}
	}

	if f.Contains(DumpIndices) {
		for _, idx := range tbl.indices {
			fmt.Fprintln(w, dumpSep2)
			iprefix := prefix + ".i." + idx.ShortName()
			is := ts.indexStates[idx.pos]
			fmt.Fprintf(w, "%s (%v, #%d)%s\n", iprefix, idx.kind, is.Ordinal, map[bool]string{false: " PENDING", true: ""}[is.Built])
			if !f.Contains(DumpIndexRows) {
				continue
			}
			c := view.indices[idx.pos].Cursor()
			var rowPos int
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				rowPos++
				tup, err := decodeTuple(k)
				if err != nil || len(tup) < 2 {
					fmt.Fprintf(w, "%s.%d: ** ERROR: bad key %s\n", iprefix, rowPos, hexstr(k))
					continue
				}
				valueStr := strings.Join(idx.keyEnc.tupleToStrings(tup[:len(tup)-1]), "|")
				fmt.Fprintf(w, "%s.%d: %s => %s\n", iprefix, rowPos, valueStr, tbl.RawKeyString(tup[len(tup)-1]))
			}
		}
	}

	if f.Contains(DumpBlobs) {
		for _, blob := range tbl.blobs {
			bs := view.blobs[blob.pos].Stats()
			fmt.Fprintf(w, "%s.b.%s (#%d): %d chunks\n", prefix, blob.name, ts.blobOrdinal(blob), bs.KeyN)
		}
	}
	return tx.checkRead(nil)
}
