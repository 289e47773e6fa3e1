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

	"github.com/dpengine/dpengine/checks"
)

type count struct{}

// Count returns an aggregate that counts the elements of its input. A privacy
// unit adds or removes at most dIn rows, so the sensitivity of the count is dIn.
func Count() Stage {
	return count{}
}

func (count) String() string {
	return "Count()"
}

func (count) OutputDomain(in Domain) (Domain, error) {
	switch in.Kind {
	case RowsKind, StringsKind, Float64sKind:
		return Domain{Kind: Int64ResultKind, Column: in.Column}, nil
	}
	return Domain{}, wrongKind(in.Kind, RowsKind, StringsKind, Float64sKind)
}

func (count) Apply(in Value) (Value, error) {
	switch v := in.(type) {
	case Rows:
		return Int64Result(v.Len()), nil
	case Strings:
		return Int64Result(len(v)), nil
	case Float64s:
		return Int64Result(len(v)), nil
	}
	return nil, wrongKind(in.Kind(), RowsKind, StringsKind, Float64sKind)
}

func (count) Stability(dIn float64) float64 {
	return dIn
}

type mean struct {
	lower, upper float64
	size         int
}

// Mean returns an aggregate that averages the values of the domain in. The
// values must be clamped and resized first, otherwise Mean fails with
// checks.ErrIncompleteQuery; a size of 0 fails with checks.ErrInvalidSize.
//
// With every value in [lower, upper] and a fixed denominator size, a privacy
// unit contributing dIn rows moves the mean by at most dIn·(upper-lower)/size.
func Mean(in Domain) (Stage, error) {
	if in.Kind != Float64sKind {
		return nil, fmt.Errorf("Mean(): %w", wrongKind(in.Kind, Float64sKind))
	}
	if !in.Bounded {
		return nil, fmt.Errorf("%w: Mean() requires the values to be clamped first", checks.ErrIncompleteQuery)
	}
	if !in.Sized {
		return nil, fmt.Errorf("%w: Mean() requires the values to be resized first", checks.ErrIncompleteQuery)
	}
	if in.Size == 0 {
		return nil, fmt.Errorf("%w: Mean() of 0 values is undefined", checks.ErrInvalidSize)
	}
	return mean{lower: in.Lower, upper: in.Upper, size: in.Size}, nil
}

func (m mean) String() string {
	return "Mean()"
}

func (m mean) OutputDomain(in Domain) (Domain, error) {
	if in.Kind != Float64sKind {
		return Domain{}, wrongKind(in.Kind, Float64sKind)
	}
	if !in.Bounded || !in.Sized || in.Lower != m.lower || in.Upper != m.upper || in.Size != m.size {
		return Domain{}, fmt.Errorf("%w: Mean() was built for values in [%g, %g] of size %d", checks.ErrIncompleteQuery, m.lower, m.upper, m.size)
	}
	return Domain{Kind: Float64ResultKind, Column: in.Column, Bounded: true, Lower: m.lower, Upper: m.upper}, nil
}

func (m mean) Apply(in Value) (Value, error) {
	values, ok := in.(Float64s)
	if !ok {
		return nil, wrongKind(in.Kind(), Float64sKind)
	}
	if len(values) != m.size {
		return nil, fmt.Errorf("%w: Mean() expects %d values, got %d", checks.ErrInvalidSize, m.size, len(values))
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	// Rounding may push the average marginally outside of the bounds.
	return Float64Result(ClampFloat64(sum/float64(m.size), m.lower, m.upper)), nil
}

func (m mean) Stability(dIn float64) float64 {
	return dIn * (m.upper - m.lower) / float64(m.size)
}

// ClampFloat64 clamps e within lower and upper, such that lower is returned
// if e < lower, and upper is returned if e > upper. Otherwise, e is returned.
// lower must not be larger than upper.
func ClampFloat64(e, lower, upper float64) float64 {
	return math.Max(lower, math.Min(e, upper))
}
