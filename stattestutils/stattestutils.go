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

// Package stattestutils provides basic statistical utility functions for
// checking noisy releases in tests.
//
// This package is not optimized for performance or speed and is only intended
// to be used in tests.
package stattestutils

import "math"

// SampleMean returns the mean of a slice, calculated as the average over the
// values in the slice.
func SampleMean(values []float64) float64 {
	var sum float64 = 0.0
	for _, v := range values {
		sum += v
	}
	return sum / math.Max(1, float64(len(values)))
}

// SampleVariance returns the variance of a slice, calculated as the sum of
// squares of the distance to the mean of each of the values, divided by the
// number of values.
func SampleVariance(values []float64) float64 {
	mean := SampleMean(values)
	var sumOfSquares float64 = 0.0
	for _, v := range values {
		sumOfSquares += math.Pow(v-mean, 2)
	}
	return sumOfSquares / math.Max(1, float64(len(values)))
}

// FractionWithin returns the fraction of values whose distance to center is at
// most radius. It is the empirical coverage of the interval
// [center-radius, center+radius], and 0 for an empty slice.
func FractionWithin(values []float64, center, radius float64) float64 {
	if len(values) == 0 {
		return 0
	}
	within := 0
	for _, v := range values {
		if math.Abs(v-center) <= radius {
			within++
		}
	}
	return float64(within) / float64(len(values))
}

// CoverageTolerance returns how far below 1-alpha the empirical coverage of
// numberOfTrials independent draws may fall before a test should fail. It is
// the 99.9995% quantile of the Gaussian approximation of the binomial
// distribution of the coverage.
func CoverageTolerance(alpha float64, numberOfTrials int) float64 {
	return 4.41717 * math.Sqrt(alpha*(1-alpha)/float64(numberOfTrials))
}
