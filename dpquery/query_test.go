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

package dpquery

import (
	"errors"
	"math"
	"testing"

	"github.com/dpengine/dpengine/checks"
	"github.com/dpengine/dpengine/dataset"
	"github.com/dpengine/dpengine/noise"
	"github.com/dpengine/dpengine/stattestutils"
	"github.com/dpengine/dpengine/transform"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func surveyData(t *testing.T, ages ...string) *dataset.Dataset {
	t.Helper()
	records := make([][]string, len(ages))
	for i, a := range ages {
		records[i] = []string{"respondent", a}
	}
	d, err := dataset.FromRecords([]string{"name", "age"}, records)
	if err != nil {
		t.Fatalf("FromRecords: got err %v", err)
	}
	return d
}

func mustQuery(t *testing.T, c *Compositor) *QueryBuilder {
	t.Helper()
	q, err := c.NewQuery()
	if err != nil {
		t.Fatalf("NewQuery: got err %v", err)
	}
	return q
}

func TestCountScaleAndAccuracy(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	for i := 0; i < 3; i++ {
		q := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace()
		scale, err := q.Scale()
		if err != nil {
			t.Fatalf("Scale: query %d got err %v", i+1, err)
		}
		if !cmp.Equal(scale, 3.0, cmpopts.EquateApprox(1e-12, 0)) {
			t.Errorf("Scale: query %d got %v, want 3", i+1, scale)
		}
		accuracy, err := q.Accuracy(0.05)
		if err != nil {
			t.Fatalf("Accuracy: query %d got err %v", i+1, err)
		}
		if accuracy != 9 {
			t.Errorf("Accuracy: query %d got %v, want 9", i+1, accuracy)
		}
	}
}

func TestCountScaleGrowsWithContributions(t *testing.T) {
	c := mustCompositor(t, 4, 2, 1)
	scale, err := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace().Scale()
	if err != nil {
		t.Fatalf("Scale: got err %v", err)
	}
	if scale != 2 {
		t.Errorf("Scale: got %v, want 2", scale)
	}
}

func TestMeanScale(t *testing.T) {
	c := mustCompositor(t, 1, 1, 1)
	q := mustQuery(t, c).
		SelectColumn("age", transform.ColumnString).
		CastDefault(transform.ColumnFloat64).
		Clamp(18, 70).
		Resize(4, 42).
		Mean().
		Laplace()
	sensitivity, err := q.Sensitivity()
	if err != nil {
		t.Fatalf("Sensitivity: got err %v", err)
	}
	if sensitivity != 13 {
		t.Errorf("Sensitivity: got %v, want 13", sensitivity)
	}
	scale, err := q.Scale()
	if err != nil {
		t.Fatalf("Scale: got err %v", err)
	}
	if scale != 13 {
		t.Errorf("Scale: got %v, want 13", scale)
	}
	accuracy, err := q.Accuracy(0.05)
	if err != nil {
		t.Fatalf("Accuracy: got err %v", err)
	}
	if want := -13 * math.Log(0.05); !cmp.Equal(accuracy, want, cmpopts.EquateApprox(1e-9, 0)) {
		t.Errorf("Accuracy: got %v, want %v", accuracy, want)
	}
}

// With a very large budget, the noise is negligible and the release is the
// exact aggregate.
func TestReleaseCount(t *testing.T) {
	c := mustCompositor(t, 1, 3000, 3)
	data := surveyData(t, "20", "30", "abc", "100", "")
	r, err := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace().Release(data)
	if err != nil {
		t.Fatalf("Release: got err %v", err)
	}
	if !r.Integral() {
		t.Errorf("Integral: got false, want true for a count")
	}
	if v, ok := r.Int64(); !ok || v != 5 || r.Value() != 5 {
		t.Errorf("Release: got %v, want 5", r.Value())
	}
	if r.Slot() != 0 {
		t.Errorf("Slot: got %d, want 0", r.Slot())
	}
	if r.Epsilon() != 1000 {
		t.Errorf("Epsilon: got %v, want 1000", r.Epsilon())
	}
	if r.Sensitivity() != 1 {
		t.Errorf("Sensitivity: got %v, want 1", r.Sensitivity())
	}
	if r.Scale() != 0.001 {
		t.Errorf("Scale: got %v, want 0.001", r.Scale())
	}
}

// A per-query budget below 2^-40 puts the count noise on a coarse grid.
func TestReleaseCountOnCoarseGrid(t *testing.T) {
	c := mustCompositor(t, 1, math.Exp2(-42), 1)
	q := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace()
	scale, err := q.Scale()
	if err != nil {
		t.Fatalf("Scale: got err %v", err)
	}
	if scale != math.Exp2(42) {
		t.Errorf("Scale: got %v, want 2^42", scale)
	}
	r, err := q.Release(surveyData(t, "20", "30", "40"))
	if err != nil {
		t.Fatalf("Release: got err %v", err)
	}
	// The count 3 is rounded to 4 on a grid of step 4.
	if v, _ := r.Int64(); v%4 != 0 {
		t.Errorf("Release: got %d, want a multiple of the grid step 4", v)
	}
}

func TestReleaseMean(t *testing.T) {
	for _, tc := range []struct {
		desc string
		size int
		want float64
	}{
		// Cast and clamped to {20, 30, 18, 70}.
		{"exact size", 4, 34.5},
		{"padded", 6, 37},
	} {
		c := mustCompositor(t, 1, 1000, 1)
		data := surveyData(t, "20", "30", "abc", "100")
		r, err := mustQuery(t, c).
			SelectColumn("age", transform.ColumnString).
			CastDefault(transform.ColumnFloat64).
			Clamp(18, 70).
			Resize(tc.size, 42).
			Mean().
			Laplace().
			Release(data)
		if err != nil {
			t.Fatalf("Release(%s): got err %v", tc.desc, err)
		}
		if r.Integral() {
			t.Errorf("Integral(%s): got true, want false for a mean", tc.desc)
		}
		if !cmp.Equal(r.Value(), tc.want, cmpopts.EquateApprox(0, 0.5)) {
			t.Errorf("Release(%s): got %v, want %v", tc.desc, r.Value(), tc.want)
		}
	}
}

func TestReleaseInt64OfMean(t *testing.T) {
	c := mustCompositor(t, 1, 1, 1)
	r, err := mustQuery(t, c).
		SelectColumn("age", transform.ColumnString).
		CastDefault(transform.ColumnFloat64).
		Clamp(18, 70).
		Resize(2, 42).
		Mean().
		Laplace().
		Release(surveyData(t, "20", "30"))
	if err != nil {
		t.Fatalf("Release: got err %v", err)
	}
	if v, ok := r.Int64(); ok || v != 0 {
		t.Errorf("Int64: got (%d, %t) for a mean, want (0, false)", v, ok)
	}
}

func TestReleaseMeanTruncated(t *testing.T) {
	c := mustCompositor(t, 1, 1000, 1)
	data := surveyData(t, "20", "30", "abc", "100")
	r, err := mustQuery(t, c).
		SelectColumn("age", transform.ColumnString).
		CastDefault(transform.ColumnFloat64).
		Clamp(18, 70).
		Resize(1, 42).
		Mean().
		Laplace().
		Release(data)
	if err != nil {
		t.Fatalf("Release: got err %v", err)
	}
	for _, v := range []float64{20, 30, 18, 70} {
		if math.Abs(r.Value()-v) < 0.5 {
			return
		}
	}
	t.Errorf("Release: got %v, want one of the clamped values 20, 30, 18, 70", r.Value())
}

func TestReleaseTwice(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	data := surveyData(t, "20", "30")
	q := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace()
	if _, err := q.Release(data); err != nil {
		t.Fatalf("Release: 1st call got err %v", err)
	}
	if _, err := q.Release(data); !errors.Is(err, checks.ErrAlreadyReleased) {
		t.Errorf("Release: 2nd call got err %v, want %v", err, checks.ErrAlreadyReleased)
	}
	if got := c.Released(); got != 1 {
		t.Errorf("Released: got %d, want 1", got)
	}
}

func TestIncompleteQuery(t *testing.T) {
	c := mustCompositor(t, 1, 1, 10)
	for _, tc := range []struct {
		desc  string
		build func(*QueryBuilder) *QueryBuilder
	}{
		{"no stages", func(q *QueryBuilder) *QueryBuilder { return q }},
		{"no aggregate", func(q *QueryBuilder) *QueryBuilder {
			return q.SelectColumn("age", transform.ColumnString).Laplace()
		}},
		{"no mechanism", func(q *QueryBuilder) *QueryBuilder {
			return q.SelectColumn("age", transform.ColumnString).Count()
		}},
		{"mean without clamp", func(q *QueryBuilder) *QueryBuilder {
			return q.SelectColumn("age", transform.ColumnString).CastDefault(transform.ColumnFloat64).Resize(3, 42).Mean().Laplace()
		}},
		{"mean without resize", func(q *QueryBuilder) *QueryBuilder {
			return q.SelectColumn("age", transform.ColumnString).CastDefault(transform.ColumnFloat64).Clamp(18, 70).Mean().Laplace()
		}},
	} {
		q := tc.build(mustQuery(t, c))
		if _, err := q.Scale(); !errors.Is(err, checks.ErrIncompleteQuery) {
			t.Errorf("Scale(%s): got err %v, want %v", tc.desc, err, checks.ErrIncompleteQuery)
		}
		if _, err := q.Release(surveyData(t, "20")); !errors.Is(err, checks.ErrIncompleteQuery) {
			t.Errorf("Release(%s): got err %v, want %v", tc.desc, err, checks.ErrIncompleteQuery)
		}
	}
}

func TestBuilderLatchesFirstError(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	q := mustQuery(t, c).
		SelectColumn("age", transform.ColumnString).
		CastDefault(transform.ColumnFloat64).
		Clamp(70, 18).
		Resize(-1, 42).
		Mean().
		Laplace()
	if err := q.Err(); !errors.Is(err, checks.ErrInvalidRange) {
		t.Errorf("Err: got %v, want %v", err, checks.ErrInvalidRange)
	}
	if _, err := q.Scale(); !errors.Is(err, checks.ErrInvalidRange) {
		t.Errorf("Scale: got err %v, want %v", err, checks.ErrInvalidRange)
	}
	if _, err := q.Release(surveyData(t, "20")); !errors.Is(err, checks.ErrInvalidRange) {
		t.Errorf("Release: got err %v, want %v", err, checks.ErrInvalidRange)
	}
}

func TestInvalidResizeSize(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	q := mustQuery(t, c).SelectColumn("age", transform.ColumnString).CastDefault(transform.ColumnFloat64).Clamp(18, 70).Resize(-3, 42)
	if err := q.Err(); !errors.Is(err, checks.ErrInvalidSize) {
		t.Errorf("Err: got %v, want %v", err, checks.ErrInvalidSize)
	}
}

func TestUnsupportedNoise(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	q := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().WithNoise(noise.Unrecognised)
	if q.Err() == nil {
		t.Errorf("WithNoise(%v): got no error", noise.Unrecognised)
	}
}

func TestReleaseColumnNotFound(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	q := mustQuery(t, c).SelectColumn("height", transform.ColumnString).Count().Laplace()
	if err := q.Err(); err != nil {
		t.Fatalf("Err: got %v, columns are only checked against data at release", err)
	}
	if _, err := q.Release(surveyData(t, "20", "30")); !errors.Is(err, checks.ErrColumnNotFound) {
		t.Errorf("Release: got err %v, want %v", err, checks.ErrColumnNotFound)
	}
	// The slot is not refunded.
	if got := c.Remaining(); got != 2 {
		t.Errorf("Remaining: got %d, want 2", got)
	}
	if _, err := q.Release(surveyData(t, "20", "30")); !errors.Is(err, checks.ErrAlreadyReleased) {
		t.Errorf("Release: retry got err %v, want %v", err, checks.ErrAlreadyReleased)
	}
}

func TestReleaseNilDataset(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	if _, err := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace().Release(nil); err == nil {
		t.Errorf("Release(nil): got no error")
	}
}

func TestReleaseConfidenceInterval(t *testing.T) {
	c := mustCompositor(t, 1, 1, 3)
	r, err := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace().Release(surveyData(t, "20", "30", "40"))
	if err != nil {
		t.Fatalf("Release: got err %v", err)
	}
	accuracy, err := r.Accuracy(0.05)
	if err != nil {
		t.Fatalf("Accuracy: got err %v", err)
	}
	if accuracy != 9 {
		t.Errorf("Accuracy: got %v, want 9", accuracy)
	}
	ci, err := r.ConfidenceInterval(0.05)
	if err != nil {
		t.Fatalf("ConfidenceInterval: got err %v", err)
	}
	want := noise.ConfidenceInterval{LowerBound: r.Value() - 9, UpperBound: r.Value() + 9}
	if diff := cmp.Diff(want, ci); diff != "" {
		t.Errorf("ConfidenceInterval: mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.ConfidenceInterval(1.5); !errors.Is(err, checks.ErrInvalidAlpha) {
		t.Errorf("ConfidenceInterval(1.5): got err %v, want %v", err, checks.ErrInvalidAlpha)
	}
}

// The released count must fall within the accuracy radius of the exact count
// at least 1-alpha of the time.
func TestReleaseCountCoverage(t *testing.T) {
	const trials, alpha = 5000, 0.05
	data := surveyData(t, "20", "30", "40", "50", "60")
	c := mustCompositor(t, 1, trials/3.0, trials)
	samples := make([]float64, trials)
	var radius float64
	for i := range samples {
		r, err := mustQuery(t, c).SelectColumn("age", transform.ColumnString).Count().Laplace().Release(data)
		if err != nil {
			t.Fatalf("Release: got err %v", err)
		}
		samples[i] = r.Value()
		if radius, err = r.Accuracy(alpha); err != nil {
			t.Fatalf("Accuracy: got err %v", err)
		}
	}
	want := 1 - alpha - stattestutils.CoverageTolerance(alpha, trials)
	if got := stattestutils.FractionWithin(samples, 5, radius); got < want {
		t.Errorf("FractionWithin: got %f of releases within %v of the exact count, want at least %f", got, radius, want)
	}
}
