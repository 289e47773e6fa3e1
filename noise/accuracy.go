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
	"gonum.org/v1/gonum/stat/distuv"
)

// Accuracy returns the smallest integer radius r such that discrete Laplace
// noise Z of the given scale satisfies Pr[|Z| > r] ≤ alpha. It is an integer
// radius, not the real-valued -s·ln(α(1+e^{-1/s})/2): for a scale of 3 and
// alpha 0.05 that is about 9.45 and Accuracy returns 9.
//
// For an integer r ≥ 0 the tail is Pr[|Z| > r] = 2e^{-(r+1)/s} / (1 + e^{-1/s}),
// so the radius is ⌈-s·ln(α(1 + e^{-1/s})/2) - 1⌉, floored at 0.
//
// The result does not depend on any noise draw and can be computed before or
// after a release.
func Accuracy(scale, alpha float64) (float64, error) {
	if err := checkArgsAccuracy(scale, alpha); err != nil {
		return 0, err
	}
	r := -scale*math.Log(alpha*(1+math.Exp(-1/scale))/2) - 1
	return math.Max(0, math.Ceil(r)), nil
}

// ContinuousAccuracy returns the radius r such that continuous Laplace noise Z
// of the given scale satisfies Pr[|Z| > r] = alpha, i.e. r = -s·ln(α).
func ContinuousAccuracy(scale, alpha float64) (float64, error) {
	if err := checkArgsAccuracy(scale, alpha); err != nil {
		return 0, err
	}
	// The (α/2)-quantile is used rather than the (1 - α/2)-quantile because
	// α/2 is more accurately representable as a float64 than 1 - α/2.
	return -inverseCDFLaplace(scale, alpha/2), nil
}

// inverseCDFLaplace computes the quantile z satisfying Pr[Y <= z] = p for a random variable Y
// that is Laplace distributed with the specified lambda where mean is zero.
func inverseCDFLaplace(lambda, p float64) float64 {
	return distuv.Laplace{Mu: 0, Scale: lambda}.Quantile(p)
}

func checkArgsAccuracy(scale, alpha float64) error {
	if err := checks.CheckAlpha(alpha); err != nil {
		return err
	}
	return checks.CheckScale(scale)
}
