package ixdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/ixdb/blobcodec"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrCorruption       = blobcodec.ErrCorruption
	ErrCapacityExceeded = blobcodec.ErrCapacityExceeded
	ErrConflict         = errors.New("another write transaction is open")
	ErrBackend          = errors.New("backend failure")
	ErrSchemaMismatch   = errors.New("schema mismatch")

	ErrTxClosed    = errors.New("transaction closed")
	ErrReadOnly    = errors.New("transaction is read-only")
	ErrStaleBorrow = errors.New("borrowed value used after its transaction moved on")
	ErrZeroKey     = errors.New("zero primary key")
)

// ErrBucketNotFound is returned by StorageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// DataError describes stored bytes that cannot be decoded. It always
// matches ErrCorruption.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ErrCorruption
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

type TableError struct {
	Table string
	Part  string
	Key   []byte
	Msg   string
	Err   error
}

func tableErrf(tbl *Table, part string, key []byte, err error, format string, args ...any) error {
	return &TableError{tbl.name, part, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Part != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Part)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// failedRead reports a failure stx kept from a read that returned nothing.
func failedRead(stx StorageTx, format string, args ...any) error {
	return backendErr(stx.Err(), format, args...)
}

func backendErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrBackend, fmt.Sprintf(format, args...), err)
}
