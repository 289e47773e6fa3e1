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

package transform

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dpengine/dpengine/checks"
	"github.com/dpengine/dpengine/rand"
	log "github.com/golang/glog"
)

type selectColumn struct {
	name string
}

// SelectColumn returns a stage that extracts the textual fields of the named
// column from each row. Selecting a column does not change how many rows a
// privacy unit can influence, so its stability is the identity.
//
// Only ColumnString is supported; use CastDefault to parse the fields.
func SelectColumn(name string, typ ColumnType) (Stage, error) {
	if typ != ColumnString {
		return nil, fmt.Errorf("SelectColumn(%q): columns can only be selected as %v, got %v", name, ColumnString, typ)
	}
	return selectColumn{name: name}, nil
}

func (s selectColumn) String() string {
	return fmt.Sprintf("SelectColumn(%s)", s.name)
}

func (s selectColumn) OutputDomain(in Domain) (Domain, error) {
	if in.Kind != RowsKind {
		return Domain{}, wrongKind(in.Kind, RowsKind)
	}
	return Domain{Kind: StringsKind, Column: s.name}, nil
}

func (s selectColumn) Apply(in Value) (Value, error) {
	rows, ok := in.(Rows)
	if !ok {
		return nil, wrongKind(in.Kind(), RowsKind)
	}
	fields, err := rows.Column(s.name)
	if err != nil {
		return nil, err
	}
	return Strings(fields), nil
}

func (selectColumn) Stability(dIn float64) float64 {
	return dIn
}

type castDefault struct {
	typ ColumnType
}

// CastDefault returns a stage that parses textual fields as typ. Fields that
// cannot be parsed are replaced by the zero value of typ instead of failing
// the query. Its stability is the identity.
func CastDefault(typ ColumnType) (Stage, error) {
	if typ != ColumnFloat64 {
		return nil, fmt.Errorf("CastDefault: fields can only be cast to %v, got %v", ColumnFloat64, typ)
	}
	return castDefault{typ: typ}, nil
}

func (c castDefault) String() string {
	return fmt.Sprintf("CastDefault(%v)", c.typ)
}

func (castDefault) OutputDomain(in Domain) (Domain, error) {
	if in.Kind != StringsKind {
		return Domain{}, wrongKind(in.Kind, StringsKind)
	}
	return Domain{Kind: Float64sKind, Column: in.Column}, nil
}

func (c castDefault) Apply(in Value) (Value, error) {
	fields, ok := in.(Strings)
	if !ok {
		return nil, wrongKind(in.Kind(), StringsKind)
	}
	out := make(Float64s, len(fields))
	defaulted := 0
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		// NaN is not a usable value: it would survive clamping and poison the aggregate.
		if err != nil || math.IsNaN(v) {
			defaulted++
			v = 0
		}
		out[i] = v
	}
	if defaulted > 0 {
		log.Warningf("%v: %d of %d fields could not be parsed and were replaced by 0", c, defaulted, len(fields))
	}
	return out, nil
}

func (castDefault) Stability(dIn float64) float64 {
	return dIn
}

type clamp struct {
	lower, upper float64
}

// Clamp returns a stage that maps every value into [lower, upper]. It fails
// with checks.ErrInvalidRange unless lower < upper and both are finite.
//
// Clamping leaves the row distance unchanged, but it bounds the range of every
// value by upper - lower, which is what gives sums and means a finite
// sensitivity.
func Clamp(lower, upper float64) (Stage, error) {
	if err := checks.CheckBoundsFloat64(lower, upper); err != nil {
		return nil, err
	}
	return clamp{lower: lower, upper: upper}, nil
}

func (c clamp) String() string {
	return fmt.Sprintf("Clamp(%g, %g)", c.lower, c.upper)
}

func (c clamp) OutputDomain(in Domain) (Domain, error) {
	if in.Kind != Float64sKind {
		return Domain{}, wrongKind(in.Kind, Float64sKind)
	}
	out := in
	out.Bounded = true
	out.Lower, out.Upper = c.lower, c.upper
	return out, nil
}

func (c clamp) Apply(in Value) (Value, error) {
	values, ok := in.(Float64s)
	if !ok {
		return nil, wrongKind(in.Kind(), Float64sKind)
	}
	out := make(Float64s, len(values))
	for i, v := range values {
		out[i] = ClampFloat64(v, c.lower, c.upper)
	}
	return out, nil
}

func (clamp) Stability(dIn float64) float64 {
	return dIn
}

type resize struct {
	size     int
	constant float64
}

// Resize returns a stage that pads or truncates its input to exactly size
// values. Missing values are filled with constant. Surplus values are dropped
// uniformly at random. It fails with checks.ErrInvalidSize if size is negative.
//
// With a fixed size the denominator of a mean no longer depends on the data,
// so a privacy unit's influence on the mean is bounded.
func Resize(size int, constant float64) (Stage, error) {
	if err := checks.CheckSize(size); err != nil {
		return nil, err
	}
	if math.IsNaN(constant) || math.IsInf(constant, 0) {
		return nil, fmt.Errorf("%w: imputation constant is %f, must be finite", checks.ErrInvalidRange, constant)
	}
	return resize{size: size, constant: constant}, nil
}

func (r resize) String() string {
	return fmt.Sprintf("Resize(%d, %g)", r.size, r.constant)
}

func (r resize) OutputDomain(in Domain) (Domain, error) {
	if in.Kind != Float64sKind {
		return Domain{}, wrongKind(in.Kind, Float64sKind)
	}
	if in.Bounded {
		if err := checks.CheckWithinBounds(r.constant, in.Lower, in.Upper); err != nil {
			return Domain{}, fmt.Errorf("imputation constant: %w", err)
		}
	}
	out := in
	out.Sized = true
	out.Size = r.size
	return out, nil
}

func (r resize) Apply(in Value) (Value, error) {
	values, ok := in.(Float64s)
	if !ok {
		return nil, wrongKind(in.Kind(), Float64sKind)
	}
	out := make(Float64s, len(values), max(len(values), r.size))
	copy(out, values)
	if len(out) > r.size {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out[:r.size], nil
	}
	for len(out) < r.size {
		out = append(out, r.constant)
	}
	return out, nil
}

func (resize) Stability(dIn float64) float64 {
	return dIn
}
