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

package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	log "github.com/golang/glog"
)

// CSVOptions contains the options for decoding a Dataset from CSV.
type CSVOptions struct {
	// Field delimiter. Defaults to ','.
	Comma rune
	// Column names. Defaults to the names in the first line of the input,
	// which is then not read as a row.
	Columns []string
	// Whether to skip the first line when Columns is set, e.g. to replace the
	// header of the input with other names.
	SkipHeader bool
}

// ReadCSV decodes a Dataset from r.
func ReadCSV(r io.Reader, opt *CSVOptions) (*Dataset, error) {
	if opt == nil {
		opt = &CSVOptions{}
	}
	reader := csv.NewReader(r)
	if opt.Comma != 0 {
		reader.Comma = opt.Comma
	}
	// Field counts are checked against the columns below.
	reader.FieldsPerRecord = -1

	columns := opt.Columns
	skipLine := len(columns) > 0 && opt.SkipHeader
	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("couldn't read the csv input, err = %v", err)
		}
		if columns == nil {
			columns = record
			continue
		}
		if skipLine {
			skipLine = false
			continue
		}
		if len(record) != len(columns) {
			return nil, fmt.Errorf("the csv input has incorrect format: line %d has %d fields, want %d", len(records)+1, len(record), len(columns))
		}
		records = append(records, record)
	}
	if columns == nil {
		return nil, fmt.Errorf("the csv input is empty and no columns were given")
	}
	return FromRecords(columns, records)
}

// ReadCSVFile decodes a Dataset from the CSV file at path.
func ReadCSVFile(path string, opt *CSVOptions) (*Dataset, error) {
	csvFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the csv file = %q, err = %v", path, err)
	}
	defer csvFile.Close()

	d, err := ReadCSV(csvFile, opt)
	if err != nil {
		return nil, fmt.Errorf("couldn't read the csv file = %q: %v", path, err)
	}
	log.Infof("Read %d rows with columns %v from %q", d.Len(), d.columns, path)
	return d, nil
}
