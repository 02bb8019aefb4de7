package btree

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ColType is the type of one index key column.
type ColType int

const (
	ColInt ColType = iota
	ColFloat
	ColString
)

func (t ColType) String() string {
	switch t {
	case ColInt:
		return "INT"
	case ColFloat:
		return "FLOAT"
	case ColString:
		return "STRING"
	}
	return "?"
}

// IndexColumn describes one column of a composite key: its type and its
// fixed on-page width in bytes. INT columns are 4 bytes, FLOAT columns 8,
// STRING columns their declared width with shorter values zero-padded.
type IndexColumn struct {
	Type ColType
	Len  int32
}

// IntColumn builds a 4-byte INT key column.
func IntColumn() IndexColumn { return IndexColumn{Type: ColInt, Len: 4} }

// FloatColumn builds an 8-byte FLOAT key column.
func FloatColumn() IndexColumn { return IndexColumn{Type: ColFloat, Len: 8} }

// StringColumn builds a fixed-width STRING key column.
func StringColumn(width int32) IndexColumn { return IndexColumn{Type: ColString, Len: width} }

// keyLen returns the total width of a key over cols.
func keyLen(cols []IndexColumn) int32 {
	var n int32
	for _, c := range cols {
		n += c.Len
	}
	return n
}

// compareColumn orders two encoded column values of one type.
func compareColumn(a, b []byte, t ColType) int {
	switch t {
	case ColInt:
		ia := int32(binary.LittleEndian.Uint32(a))
		ib := int32(binary.LittleEndian.Uint32(b))
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	case ColFloat:
		fa := math.Float64frombits(binary.LittleEndian.Uint64(a))
		fb := math.Float64frombits(binary.LittleEndian.Uint64(b))
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	default:
		return bytes.Compare(a, b)
	}
}

// compareKeys orders two composite keys column by column.
func compareKeys(a, b []byte, cols []IndexColumn) int {
	var off int32
	for _, c := range cols {
		if r := compareColumn(a[off:off+c.Len], b[off:off+c.Len], c.Type); r != 0 {
			return r
		}
		off += c.Len
	}
	return 0
}

// EncodeInt writes v into buf as a 4-byte INT column value.
func EncodeInt(buf []byte, v int32) {
	binary.LittleEndian.PutUint32(buf, uint32(v))
}

// EncodeFloat writes v into buf as an 8-byte FLOAT column value.
func EncodeFloat(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

// EncodeString writes s into buf zero-padded to the column width.
func EncodeString(buf []byte, s string) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, s)
}

// IntKey builds a single-column INT key, the common case in tests and
// single-column indexes.
func IntKey(v int32) []byte {
	key := make([]byte, 4)
	EncodeInt(key, v)
	return key
}
