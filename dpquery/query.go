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
	"fmt"

	"github.com/dpengine/dpengine/checks"
	"github.com/dpengine/dpengine/dataset"
	"github.com/dpengine/dpengine/noise"
	"github.com/dpengine/dpengine/transform"
	log "github.com/golang/glog"
)

// QueryBuilder describes a single query over one slot of a Compositor's
// budget. Builder methods return the receiver so calls can be chained. The
// first error is kept and reported by Err, Scale and Release; later builder
// calls are then ignored.
//
// Not thread-safe.
type QueryBuilder struct {
	// Parameters
	maxContributions float64
	slot             slot
	pipeline         *transform.Pipeline
	noise            noise.Noise

	// State variables
	err      error
	released bool
}

func newQueryBuilder(maxContributions float64, s slot) *QueryBuilder {
	return &QueryBuilder{
		maxContributions: maxContributions,
		slot:             s,
		pipeline:         transform.NewPipeline(),
	}
}

func (b *QueryBuilder) then(s transform.Stage, err error) *QueryBuilder {
	if b.err != nil || b.released {
		return b
	}
	if err == nil {
		err = b.pipeline.Append(s)
	}
	if err != nil {
		b.err = fmt.Errorf("query %d: %w", b.slot.index+1, err)
	}
	return b
}

// SelectColumn extracts the named column from the dataset rows.
func (b *QueryBuilder) SelectColumn(name string, typ transform.ColumnType) *QueryBuilder {
	return b.then(transform.SelectColumn(name, typ))
}

// CastDefault parses every value of the selected column, replacing values that
// fail to parse with the zero value of typ.
func (b *QueryBuilder) CastDefault(typ transform.ColumnType) *QueryBuilder {
	return b.then(transform.CastDefault(typ))
}

// Clamp restricts every value to [lower, upper].
func (b *QueryBuilder) Clamp(lower, upper float64) *QueryBuilder {
	return b.then(transform.Clamp(lower, upper))
}

// Resize truncates the values to size, or pads them with constant.
func (b *QueryBuilder) Resize(size int, constant float64) *QueryBuilder {
	return b.then(transform.Resize(size, constant))
}

// Count aggregates the values into their number.
func (b *QueryBuilder) Count() *QueryBuilder {
	return b.then(transform.Count(), nil)
}

// Mean aggregates the values into their average. The values must be clamped and
// resized beforehand.
func (b *QueryBuilder) Mean() *QueryBuilder {
	if b.err != nil || b.released {
		return b
	}
	return b.then(transform.Mean(b.pipeline.Domain()))
}

// Laplace selects the Laplace mechanism. Integer results get discrete Laplace
// noise and real results get continuous Laplace noise.
func (b *QueryBuilder) Laplace() *QueryBuilder {
	return b.WithNoise(noise.LaplaceNoise)
}

// WithNoise selects the mechanism by kind.
func (b *QueryBuilder) WithNoise(kind noise.Kind) *QueryBuilder {
	if b.err != nil || b.released {
		return b
	}
	n := noise.ToNoise(kind)
	if n == nil {
		b.err = fmt.Errorf("query %d: unsupported noise kind %v", b.slot.index+1, kind)
		return b
	}
	b.noise = n
	return b
}

// Err returns the first error encountered while building the query.
func (b *QueryBuilder) Err() error {
	return b.err
}

// Slot returns the zero-based index of the budget slot of this query.
func (b *QueryBuilder) Slot() int {
	return b.slot.index
}

// Epsilon returns the budget allocated to this query.
func (b *QueryBuilder) Epsilon() float64 {
	return b.slot.epsilon
}

// String returns the stages of the query.
func (b *QueryBuilder) String() string {
	return b.pipeline.String()
}

// complete checks that the query has an aggregate and a mechanism.
func (b *QueryBuilder) complete() error {
	if b.err != nil {
		return b.err
	}
	if err := b.pipeline.Complete(); err != nil {
		return fmt.Errorf("query %d: %w", b.slot.index+1, err)
	}
	if b.noise == nil {
		return fmt.Errorf("%w: query %d has no mechanism", checks.ErrIncompleteQuery, b.slot.index+1)
	}
	return nil
}

// Sensitivity returns the sensitivity of the aggregate for the compositor's
// contribution bound.
func (b *QueryBuilder) Sensitivity() (float64, error) {
	if err := b.complete(); err != nil {
		return 0, err
	}
	return b.pipeline.Sensitivity(b.maxContributions)
}

// Scale returns the scale of the noise that Release will add. It reads no data
// and has no privacy cost.
func (b *QueryBuilder) Scale() (float64, error) {
	sensitivity, err := b.Sensitivity()
	if err != nil {
		return 0, err
	}
	return b.noise.Scale(sensitivity, b.slot.epsilon)
}

// integral reports whether the aggregate has an integer result.
func (b *QueryBuilder) integral() bool {
	return b.pipeline.Domain().Kind == transform.Int64ResultKind
}

// Accuracy returns the radius r such that the released value lies within r of
// the exact aggregate with probability at least 1-alpha. It reads no data and
// has no privacy cost.
func (b *QueryBuilder) Accuracy(alpha float64) (float64, error) {
	scale, err := b.Scale()
	if err != nil {
		return 0, err
	}
	if b.integral() {
		return noise.Accuracy(scale, alpha)
	}
	return noise.ContinuousAccuracy(scale, alpha)
}

// Release runs the query on d and returns its noisy result. It may be called
// only once; the budget slot stays consumed even if the release fails.
func (b *QueryBuilder) Release(d *dataset.Dataset) (*Release, error) {
	if b.released {
		return nil, fmt.Errorf("%w: query %d", checks.ErrAlreadyReleased, b.slot.index+1)
	}
	b.released = true
	sensitivity, err := b.Sensitivity()
	if err != nil {
		return nil, err
	}
	scale, err := b.noise.Scale(sensitivity, b.slot.epsilon)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("query %d: dataset is nil", b.slot.index+1)
	}
	v, err := b.pipeline.Apply(d)
	if err != nil {
		return nil, fmt.Errorf("query %d: %w", b.slot.index+1, err)
	}
	r := &Release{
		slot:        b.slot.index,
		epsilon:     b.slot.epsilon,
		sensitivity: sensitivity,
		scale:       scale,
		noise:       b.noise,
	}
	switch v := v.(type) {
	case transform.Int64Result:
		noised, err := b.noise.AddNoiseInt64(int64(v), sensitivity, b.slot.epsilon)
		if err != nil {
			return nil, err
		}
		r.integral = true
		r.value = float64(noised)
	case transform.Float64Result:
		noised, err := b.noise.AddNoiseFloat64(float64(v), sensitivity, b.slot.epsilon)
		if err != nil {
			return nil, err
		}
		r.value = noised
	default:
		return nil, fmt.Errorf("query %d: unexpected result of kind %v", b.slot.index+1, v.Kind())
	}
	log.Infof("Released query %d (%s) with epsilon=%f, sensitivity=%f, scale=%f", b.slot.index+1, b.pipeline, b.slot.epsilon, sensitivity, scale)
	return r, nil
}

// Release is the noisy result of a query, together with the parameters of the
// mechanism that produced it.
type Release struct {
	value       float64
	integral    bool
	slot        int
	epsilon     float64
	sensitivity float64
	scale       float64
	noise       noise.Noise
}

// Value returns the released value. Counts are whole numbers.
func (r *Release) Value() float64 {
	return r.value
}

// Int64 returns the released value of a count. ok is false, and the value 0,
// if the release is not integral.
func (r *Release) Int64() (v int64, ok bool) {
	if !r.integral {
		return 0, false
	}
	return int64(r.value), true
}

// Integral reports whether the released value is a count.
func (r *Release) Integral() bool {
	return r.integral
}

// Slot returns the zero-based index of the budget slot spent by the release.
func (r *Release) Slot() int {
	return r.slot
}

// Epsilon returns the budget spent by the release.
func (r *Release) Epsilon() float64 {
	return r.epsilon
}

// Sensitivity returns the sensitivity of the released aggregate.
func (r *Release) Sensitivity() float64 {
	return r.sensitivity
}

// Scale returns the scale of the noise that was added.
func (r *Release) Scale() float64 {
	return r.scale
}

// Accuracy returns the radius of the (1-alpha) accuracy interval of the release.
func (r *Release) Accuracy(alpha float64) (float64, error) {
	if r.integral {
		return noise.Accuracy(r.scale, alpha)
	}
	return noise.ContinuousAccuracy(r.scale, alpha)
}

// ConfidenceInterval returns the interval around the released value that
// contains the exact aggregate with probability at least 1-alpha.
func (r *Release) ConfidenceInterval(alpha float64) (noise.ConfidenceInterval, error) {
	if r.integral {
		return r.noise.ComputeConfidenceIntervalInt64(int64(r.value), r.scale, alpha)
	}
	return r.noise.ComputeConfidenceIntervalFloat64(r.value, r.scale, alpha)
}
