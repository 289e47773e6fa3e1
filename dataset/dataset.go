//
// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package dataset holds the row-oriented, in-memory data that queries run on,
// and decodes it from CSV.
package dataset

import (
	"fmt"

	"github.com/dpengine/dpengine/checks"
)

// Row maps a column name to the textual field of a single record.
type Row map[string]string

// Dataset is an ordered sequence of rows sharing the same columns. A Dataset
// is read-only once constructed.
type Dataset struct {
	columns []string
	index   map[string]int
	records [][]string
}

// FromRecords returns a Dataset with the given columns. Every record must have
// exactly one field per column.
func FromRecords(columns []string, records [][]string) (*Dataset, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := index[c]; ok {
			return nil, fmt.Errorf("column %q is declared more than once", c)
		}
		index[c] = i
	}
	copied := make([][]string, len(records))
	for i, record := range records {
		if len(record) != len(columns) {
			return nil, fmt.Errorf("record %d has %d fields, want %d", i, len(record), len(columns))
		}
		copied[i] = append([]string(nil), record...)
	}
	return &Dataset{
		columns: append([]string(nil), columns...),
		index:   index,
		records: copied,
	}, nil
}

// Columns returns the column names in declaration order.
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.columns...)
}

// HasColumn reports whether name is part of the schema.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Row returns a copy of the i-th row.
func (d *Dataset) Row(i int) Row {
	row := make(Row, len(d.columns))
	for j, c := range d.columns {
		row[c] = d.records[i][j]
	}
	return row
}

// Column returns the fields of the named column in row order. It fails with
// checks.ErrColumnNotFound if the column is not part of the schema.
func (d *Dataset) Column(name string) ([]string, error) {
	j, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not one of %v", checks.ErrColumnNotFound, name, d.columns)
	}
	fields := make([]string, len(d.records))
	for i, record := range d.records {
		fields[i] = record[j]
	}
	return fields, nil
}
