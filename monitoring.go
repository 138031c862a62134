package ixdb

import (
	"encoding/json"
	"reflect"
)

type TableStats struct {
	Rows       int
	IndexRows  int
	BlobChunks int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
	BlobSize   int64
	BlobAlloc  int64
}

func (ts *TableStats) TotalSize() int64 {
	return ts.DataSize + ts.IndexSize + ts.BlobSize
}

func (ts *TableStats) TotalAlloc() int64 {
	return ts.DataAlloc + ts.IndexAlloc + ts.BlobAlloc
}

// TableStats reports backend bucket statistics. With bolt they cover
// committed data only.
func (tx *Tx) TableStats(tbl *Table) (TableStats, error) {
	view, err := tx.view(tbl)
	if err != nil {
		return TableStats{}, err
	}
	bs := view.data.Stats()
	result := TableStats{
		Rows:      bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
	for _, b := range view.indices {
		bs = b.Stats()
		result.IndexRows += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	for _, b := range view.blobs {
		bs = b.Stats()
		result.BlobChunks += bs.KeyN
		result.BlobSize += bs.LeafInuse
		result.BlobAlloc += bs.TotalAlloc()
	}
	if err := tx.checkRead(nil); err != nil {
		return TableStats{}, err
	}
	return result, nil
}

func loggableRowVal(tbl *Table, rowVal reflect.Value) string {
	if !rowVal.IsValid() {
		return "<none>"
	}
	if tbl.suppressContent {
		return "<suppressed>"
	}
	return loggableVal(rowVal)
}

func loggableVal(val reflect.Value) string {
	if !val.IsValid() {
		return "<none>"
	}
	raw, err := json.Marshal(val.Interface())
	if err != nil {
		return "!" + err.Error()
	}
	return string(raw)
}
