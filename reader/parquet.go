package reader

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"github.com/treeq/treeq/query"
)

// parquetMagic begins every Parquet file.
const parquetMagic = "PAR1"

// IsParquetFile reports whether the named file carries the Parquet
// magic. Parquet needs a seekable file, so only named files qualify.
func IsParquetFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return string(magic[:]) == parquetMagic
}

// ParseParquetFile reads a Parquet file row by row and emits the same
// <table>/<row> record shape as the delimited-table adapter, so the
// same queries work over either format.
func ParseParquetFile(path string, h Handler) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening parquet file")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "reading parquet file")
	}
	pqFile, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return errors.Wrap(err, "opening parquet file")
	}

	// Emit fields in schema order; the row map alone would not keep
	// column order stable.
	var fieldNames []string
	for _, field := range pqFile.Schema().Fields() {
		fieldNames = append(fieldNames, field.Name())
	}

	rows := parquet.NewReader(pqFile)
	defer rows.Close()

	h.OpenTag("table")
	for !h.Stopped() {
		row := map[string]interface{}{}
		if err := rows.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errors.Wrap(err, "reading parquet row")
		}
		h.OpenTag("row")
		for _, name := range fieldNames {
			h.OpenTag(name)
			if text := parquetText(row[name]); text != "" {
				h.Text(text)
			}
			h.CloseTag(name)
		}
		h.CloseTag("row")
	}
	h.CloseTag("table")
	return nil
}

// parquetText renders one parquet value as character data.
func parquetText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return query.FormatReal(float64(val), query.DefaultPrecision)
	case float64:
		return query.FormatReal(val, query.DefaultPrecision)
	default:
		return fmt.Sprintf("%v", val)
	}
}
