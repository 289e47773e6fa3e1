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

// Package transform contains the stability-bounded stages that turn the rows
// of a dataset into a single aggregated value.
//
// A Pipeline starts on the rows of a dataset. Stages are appended one at a
// time, and each stage checks the Domain produced by the stage before it, so
// an ill-formed query is rejected while it is being built rather than when it
// runs. A Pipeline ends with an aggregate (Count or Mean). The end-to-end
// sensitivity of the aggregate is obtained by threading the contribution bound
// d_in through the Stability of every stage.
package transform

import (
	"fmt"
	"strings"

	"github.com/dpengine/dpengine/checks"
	"github.com/dpengine/dpengine/dataset"
)

// Kind is the kind of value flowing between stages.
type Kind int

// Kinds of values.
const (
	RowsKind Kind = iota
	StringsKind
	Float64sKind
	Int64ResultKind
	Float64ResultKind
)

var kindName = []string{"Rows", "Strings", "Float64s", "Int64Result", "Float64Result"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindName) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindName[k]
}

// Aggregated reports whether k is the kind of an aggregate's result.
func (k Kind) Aggregated() bool {
	return k == Int64ResultKind || k == Float64ResultKind
}

// ColumnType is the type a column is selected or cast as.
type ColumnType int

// Supported column types.
const (
	ColumnString ColumnType = iota
	ColumnFloat64
)

func (t ColumnType) String() string {
	switch t {
	case ColumnString:
		return "string"
	case ColumnFloat64:
		return "float64"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Domain describes what is known about a value before any data is seen.
type Domain struct {
	Kind   Kind
	Column string // Selected column, if any.
	// Clamp bounds of every element. Only meaningful if Bounded is set.
	Bounded      bool
	Lower, Upper float64
	// Exact number of elements. Only meaningful if Sized is set.
	Sized bool
	Size  int
}

// Value is the input or output of a stage. It is one of Rows, Strings,
// Float64s, Int64Result or Float64Result.
type Value interface {
	Kind() Kind
}

// Rows is the dataset a pipeline starts on.
type Rows struct {
	*dataset.Dataset
}

// Strings holds the textual fields of a selected column.
type Strings []string

// Float64s holds numeric fields.
type Float64s []float64

// Int64Result is the result of an integer aggregate.
type Int64Result int64

// Float64Result is the result of a real-valued aggregate.
type Float64Result float64

// Kind implements Value.
func (Rows) Kind() Kind { return RowsKind }

// Kind implements Value.
func (Strings) Kind() Kind { return StringsKind }

// Kind implements Value.
func (Float64s) Kind() Kind { return Float64sKind }

// Kind implements Value.
func (Int64Result) Kind() Kind { return Int64ResultKind }

// Kind implements Value.
func (Float64Result) Kind() Kind { return Float64ResultKind }

// Stage is a single step of a Pipeline.
type Stage interface {
	fmt.Stringer
	// OutputDomain checks that the stage accepts values of the domain in and
	// returns the domain of its output.
	OutputDomain(in Domain) (Domain, error)
	// Apply runs the stage on a value of its input domain.
	Apply(in Value) (Value, error)
	// Stability maps a bound on the distance between neighboring inputs to a
	// bound on the distance between the corresponding outputs. For aggregates,
	// the output distance is the sensitivity of the result.
	Stability(dIn float64) float64
}

// Pipeline is an ordered list of stages starting on the rows of a dataset.
type Pipeline struct {
	stages []Stage
	domain Domain
}

// NewPipeline returns an empty Pipeline whose input is the rows of a dataset.
func NewPipeline() *Pipeline {
	return &Pipeline{domain: Domain{Kind: RowsKind}}
}

// Append adds s to the end of the pipeline. The pipeline is left unchanged if
// s does not accept the current output domain.
func (p *Pipeline) Append(s Stage) error {
	if p.domain.Kind.Aggregated() {
		return fmt.Errorf("cannot append %v after the aggregate %v", s, p.stages[len(p.stages)-1])
	}
	out, err := s.OutputDomain(p.domain)
	if err != nil {
		return fmt.Errorf("%v: %w", s, err)
	}
	p.stages = append(p.stages, s)
	p.domain = out
	return nil
}

// Domain returns the domain of the pipeline's output.
func (p *Pipeline) Domain() Domain {
	return p.domain
}

// Complete returns an error wrapping checks.ErrIncompleteQuery if the pipeline
// does not end with an aggregate.
func (p *Pipeline) Complete() error {
	if !p.domain.Kind.Aggregated() {
		return fmt.Errorf("%w: pipeline %v does not end with an aggregate", checks.ErrIncompleteQuery, p)
	}
	return nil
}

// Sensitivity returns the sensitivity of the pipeline's aggregate when a
// single privacy unit contributes at most dIn rows.
func (p *Pipeline) Sensitivity(dIn float64) (float64, error) {
	if err := p.Complete(); err != nil {
		return 0, err
	}
	d := dIn
	for _, s := range p.stages {
		d = s.Stability(d)
	}
	return d, nil
}

// Apply runs every stage of the pipeline on d and returns the aggregated value.
func (p *Pipeline) Apply(d *dataset.Dataset) (Value, error) {
	if err := p.Complete(); err != nil {
		return nil, err
	}
	var v Value = Rows{d}
	for _, s := range p.stages {
		var err error
		if v, err = s.Apply(v); err != nil {
			return nil, fmt.Errorf("%v: %w", s, err)
		}
	}
	return v, nil
}

func (p *Pipeline) String() string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.String()
	}
	return "[" + strings.Join(names, " >> ") + "]"
}

func wrongKind(got Kind, want ...Kind) error {
	return fmt.Errorf("expects an input of kind %v, got %v", want, got)
}
