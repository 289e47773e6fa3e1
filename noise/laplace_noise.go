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

package noise

import (
	"math"

	"github.com/dpengine/dpengine/checks"
	"github.com/dpengine/dpengine/rand"
)

var (
	// granularityParam determines the resolution of the numerical noise that is
	// being generated relative to the scale of the distribution. Larger values
	// result in more fine grained noise, but increase the chance of sampling
	// inaccuracies due to overflows. The probability of an overflow is less
	// than 2⁻¹⁰⁰⁰, if the granularity parameter is set to a value of 2⁴⁰ or less
	// and the epsilon passed to addNoise is at least 2⁻⁵⁰.
	//
	// This parameter should be a power of 2.
	granularityParam = math.Exp2(40)
)

type laplace struct{}

// Laplace returns a Noise instance that adds Laplace noise to its input.
//
// Integer results receive discrete Laplace noise, i.e. a two-sided geometric
// sample with P(k) ∝ exp(-|k|/scale). Float results receive Laplace noise that
// is sampled on a power-of-two grid, which is robust against unintentional
// privacy leaks due to artifacts of floating point arithmetic. See
// https://github.com/google/differential-privacy/blob/main/common_docs/Secure_Noise_Generation.pdf
// for more information.
func Laplace() Noise {
	return laplace{}
}

// Scale returns the scale λ = sensitivity / ε of the Laplace distribution
// needed for ε-differential privacy.
func (laplace) Scale(sensitivity, epsilon float64) (float64, error) {
	if err := checkArgsLaplace(sensitivity, epsilon); err != nil {
		return 0, err
	}
	return laplaceLambda(sensitivity, epsilon), nil
}

// AddNoiseFloat64 adds Laplace noise to the specified float64 x so that the
// output is ε-differentially private given the L_1 sensitivity of x.
func (laplace) AddNoiseFloat64(x, sensitivity, epsilon float64) (float64, error) {
	if err := checkArgsLaplace(sensitivity, epsilon); err != nil {
		return 0, err
	}
	return addLaplaceFloat64(x, epsilon, sensitivity), nil
}

// AddNoiseInt64 adds discrete Laplace noise to the specified int64 x so that the
// output is ε-differentially private given the L_1 sensitivity of x.
func (laplace) AddNoiseInt64(x int64, sensitivity, epsilon float64) (int64, error) {
	if err := checkArgsLaplace(sensitivity, epsilon); err != nil {
		return 0, err
	}
	return addDiscreteLaplaceInt64(x, epsilon, sensitivity), nil
}

// ComputeConfidenceIntervalInt64 computes a confidence interval that contains the
// raw integer value x from which noisedX is computed with a probability greater or
// equal to 1 - alpha, for discrete Laplace noise of the given scale.
func (laplace) ComputeConfidenceIntervalInt64(noisedX int64, scale, alpha float64) (ConfidenceInterval, error) {
	radius, err := Accuracy(scale, alpha)
	if err != nil {
		return ConfidenceInterval{}, err
	}
	x := float64(noisedX)
	return ConfidenceInterval{LowerBound: x - radius, UpperBound: x + radius}, nil
}

// ComputeConfidenceIntervalFloat64 computes a confidence interval that contains the
// raw value x from which noisedX is computed with a probability equal to 1 - alpha,
// for Laplace noise of the given scale.
func (laplace) ComputeConfidenceIntervalFloat64(noisedX, scale, alpha float64) (ConfidenceInterval, error) {
	radius, err := ContinuousAccuracy(scale, alpha)
	if err != nil {
		return ConfidenceInterval{}, err
	}
	return ConfidenceInterval{LowerBound: noisedX - radius, UpperBound: noisedX + radius}, nil
}

func (laplace) String() string {
	return "Laplace Noise"
}

func checkArgsLaplace(sensitivity, epsilon float64) error {
	if err := checks.CheckSensitivity(sensitivity); err != nil {
		return err
	}
	return checks.CheckEpsilonStrict(epsilon)
}

// addLaplaceFloat64 adds Laplace noise scaled to the given epsilon and l1Sensitivity to the
// specified float64.
func addLaplaceFloat64(x, epsilon, l1Sensitivity float64) float64 {
	granularity := ceilPowerOfTwo((l1Sensitivity / epsilon) / granularityParam)
	sample := twoSidedGeometric(granularity * epsilon / (l1Sensitivity + granularity))
	return roundToMultipleOfPowerOfTwo(x, granularity) + float64(sample)*granularity
}

// addDiscreteLaplaceInt64 adds discrete Laplace noise scaled to the given
// epsilon and l1Sensitivity to the specified int64. Scales too large for the
// geometric sampler are handled on a coarser power-of-two grid.
func addDiscreteLaplaceInt64(x int64, epsilon, l1Sensitivity float64) int64 {
	granularity, lambda := discreteLaplaceParams(epsilon, l1Sensitivity)
	sample := twoSidedGeometric(lambda)
	if granularity == 1 {
		return x + sample
	}
	g := int64(granularity)
	return roundToMultiple(x, g) + sample*g
}

// discreteLaplaceParams returns the grid step and the parameter of the
// two-sided geometric sample drawn in units of that step. Rounding x to a grid
// of step g moves neighboring inputs up to g further apart, so on a coarse grid
// the sample is calibrated to the sensitivity l1Sensitivity + g.
func discreteLaplaceParams(epsilon, l1Sensitivity float64) (granularity, lambda float64) {
	granularity = ceilPowerOfTwo(laplaceLambda(l1Sensitivity, epsilon) / granularityParam)
	if granularity <= 1 {
		return 1, epsilon / l1Sensitivity
	}
	return granularity, granularity * epsilon / (l1Sensitivity + granularity)
}

// laplaceLambda computes the scale parameter λ for the Laplace noise
// distribution required by the Laplace mechanism for achieving ε-differential
// privacy on data with the given L_1 sensitivity.
func laplaceLambda(l1Sensitivity, epsilon float64) float64 {
	return l1Sensitivity / epsilon
}

// geometric draws a sample drawn from a geometric distribution with parameter
//
//	p = 1 - e^-λ.
//
// More precisely, it returns the number of Bernoulli trials until the first success
// where the success probability is p = 1 - e^-λ. The returned sample is truncated
// to the max int64 value.
//
// Note that to ensure that a truncation happens with probability less than 10⁻⁶,
// λ must be greater than 2⁻⁵⁹.
func geometric(lambda float64) int64 {
	// Return truncated sample in the case that the sample exceeds the max int64.
	if rand.Uniform() > -1.0*math.Expm1(-1.0*lambda*math.MaxInt64) {
		return math.MaxInt64
	}

	// Perform a binary search for the sample in the interval from 1 to max int64.
	// Each iteration splits the interval in two and randomly keeps either the
	// left or the right subinterval depending on the respective probability of
	// the sample being contained in them. The search ends once the interval only
	// contains a single sample.
	var left int64 = 0              // exclusive bound
	var right int64 = math.MaxInt64 // inclusive bound

	for left+1 < right {
		// Compute a midpoint that divides the probability mass of the current interval
		// approximately evenly between the left and right subinterval.
		mid := left - int64(math.Floor((math.Log(0.5)+math.Log1p(math.Exp(lambda*float64(left-right))))/lambda))
		// Ensure that mid is contained in the search interval.
		if mid <= left {
			mid = left + 1
		} else if mid >= right {
			mid = right - 1
		}

		// Probability that the sample is at most mid, i.e.,
		//   q = Pr[X ≤ mid | left < X ≤ right]
		// where X denotes the sample. The value of q should be approximately one half.
		q := math.Expm1(lambda*float64(left-mid)) / math.Expm1(lambda*float64(left-right))
		if rand.Uniform() <= q {
			right = mid
		} else {
			left = mid
		}
	}
	return right
}

// twoSidedGeometric draws a sample from a geometric distribution that is
// mirrored at 0. The non-negative part of the distribution's PDF matches
// the PDF of a geometric distribution of parameter p = 1 - e^-λ that is
// shifted to the left by 1 and scaled accordingly.
func twoSidedGeometric(lambda float64) int64 {
	var sample int64 = 0
	var sign int64 = -1
	// Keep a sample of 0 only if the sign is positive. Otherwise, the
	// probability of 0 would be twice as high as it should be.
	for sample == 0 && sign == -1 {
		sample = geometric(lambda) - 1
		sign = int64(rand.Sign())
	}
	return sample * sign
}
