package jsondb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"
)

// CoreTable is the reserved metadata table. It is never readable or writable
// through the query layer.
const CoreTable = "__jsdb_core"

// createdLayout is the layout of the creation timestamp stored in CoreTable.
const createdLayout = "2006-01-02 15:04:05"

// Row is a schemaless record. Values are any JSON value; numbers decode as
// json.Number.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	return maps.Clone(r)
}

// Table is an insertion-ordered list of rows.
type Table []Row

// UnmarshalJSON accepts a list of row objects. It also accepts an object keyed
// by row position, which is how sparse tables were written by earlier
// versions of the file format after deletions; rows are then ordered by
// numeric key.
func (t *Table) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty table")
	}
	switch data[0] {
	case '[':
		var rows []Row
		if err := decodeJSON(data, &rows); err != nil {
			return err
		}
		for i, row := range rows {
			if row == nil {
				return fmt.Errorf("row %d is not an object", i)
			}
		}
		*t = rows
		return nil
	case '{':
		var sparse map[string]Row
		if err := decodeJSON(data, &sparse); err != nil {
			return err
		}
		type entry struct {
			pos int
			row Row
		}
		entries := make([]entry, 0, len(sparse))
		for k, row := range sparse {
			pos, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("row key %q is not a position", k)
			}
			if row == nil {
				return fmt.Errorf("row %q is not an object", k)
			}
			entries = append(entries, entry{pos, row})
		}
		slices.SortFunc(entries, func(a, b entry) int { return a.pos - b.pos })
		rows := make(Table, len(entries))
		for i, e := range entries {
			rows[i] = e.row
		}
		*t = rows
		return nil
	default:
		return errors.New("table must be a list of rows")
	}
}

// MarshalJSON always writes a list, never null.
func (t Table) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	e := json.NewEncoder(&buf)
	e.SetEscapeHTML(false)
	if err := e.Encode([]Row(t)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Database maps table names to tables.
type Database map[string]Table

// newDatabase returns a database holding only the metadata table.
func newDatabase(now time.Time) Database {
	return Database{
		CoreTable: Table{{"created": now.Format(createdLayout)}},
	}
}

// TableNames returns the table names in sorted order.
func (db Database) TableNames() []string {
	names := make([]string, 0, len(db))
	for name := range db {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// decodeJSON decodes a single JSON value, keeping numbers as json.Number.
func decodeJSON(data []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return err
	}
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}

// encodeJSON serializes the database without HTML escaping.
func encodeJSON(db Database) ([]byte, error) {
	var buf bytes.Buffer
	e := json.NewEncoder(&buf)
	e.SetEscapeHTML(false)
	if err := e.Encode(db); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
