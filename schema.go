package ixdb

import (
	"fmt"
	"reflect"
	"strings"
)

const (
	dataSub        = "data"
	indexSubPrefix = "i_"
	blobSubPrefix  = "b_"

	// maxKeySize is the largest key Bolt accepts.
	maxKeySize = 32768
)

var tableStateKey = []byte("_state")

type Schema struct {
	tables            []*Table
	tablesByLowerName map[string]*Table
	tablesByRowType   map[reflect.Type]*Table
}

func NewSchema() *Schema {
	scm := &Schema{}
	scm.init()
	return scm
}

func (scm *Schema) init() {
	if scm.tablesByLowerName == nil {
		scm.tablesByLowerName = make(map[string]*Table)
		scm.tablesByRowType = make(map[reflect.Type]*Table)
	}
}

func (scm *Schema) Tables() []*Table {
	return append([]*Table(nil), scm.tables...)
}

func (scm *Schema) TableNamed(name string) *Table {
	return scm.tablesByLowerName[strings.ToLower(name)]
}

func (scm *Schema) TableByRowType(rt reflect.Type) *Table {
	tbl := scm.tablesByRowType[rt]
	if tbl == nil {
		panic(fmt.Errorf("no table defined for row type %v", rt))
	}
	return tbl
}

func (scm *Schema) addTable(tbl *Table) {
	scm.init()
	if tbl.name == "" || strings.ContainsRune(tbl.name, DistributedKeySep) {
		panic(fmt.Errorf("invalid table name %q", tbl.name))
	}
	lower := strings.ToLower(tbl.name)
	if scm.tablesByLowerName[lower] != nil {
		panic(fmt.Errorf("duplicate table %s", tbl.name))
	}
	if prev := scm.tablesByRowType[tbl.rowTypePtr]; prev != nil {
		panic(fmt.Errorf("row type %v already used by table %s", tbl.rowType, prev.name))
	}
	tbl.schema = scm
	tbl.pos = len(scm.tables)
	scm.tables = append(scm.tables, tbl)
	scm.tablesByLowerName[lower] = tbl
	scm.tablesByRowType[tbl.rowTypePtr] = tbl
}
