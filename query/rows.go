package query

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// Row is a flat ordered vector of values: one slot per output or
// aggregate column, followed by sort-key slots when the query sorts.
type Row []Value

// NewRow allocates a row of the given width.
func NewRow(size int) Row {
	return make(Row, size)
}

// HashRow hashes the row values at the given indices. Equal values hash
// equally regardless of which row they sit in, so the same function keys
// both the distinct-row map and the indexed join.
func HashRow(row Row, indices []int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, idx := range indices {
		v := row[idx]
		buf[0] = byte(v.Type)
		h.Write(buf[:1])
		switch v.Type {
		case TypeReal:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Real))
			h.Write(buf[:])
		case TypeInteger:
			binary.LittleEndian.PutUint64(buf[:], uint64(v.Int))
			h.Write(buf[:])
		case TypeBoolean:
			if v.Bool {
				buf[0] = 1
			} else {
				buf[0] = 0
			}
			h.Write(buf[:1])
		case TypeDateTime:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Time.ToReal()))
			h.Write(buf[:])
		case TypeString:
			h.Write([]byte(v.Str))
		}
	}
	return h.Sum64()
}

// HashRowPrefix hashes the first length values of the row.
func HashRowPrefix(row Row, length int) uint64 {
	indices := make([]int, length)
	for i := range indices {
		indices[i] = i
	}
	return HashRow(row, indices)
}

// RowsEqual compares the first length values of two rows.
func RowsEqual(left, right Row, length int) bool {
	for i := 0; i < length; i++ {
		if Compare(left[i], right[i]) != 0 {
			return false
		}
	}
	return true
}

// IndexedRows buckets join rows by the hash of their indexed columns.
// Bucketing can produce false positives; the equality filters still run
// against each candidate row.
type IndexedRows map[uint64][]Row
