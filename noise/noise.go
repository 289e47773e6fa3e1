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

// Package noise contains the mechanisms that add noise to aggregated values
// and the estimators for the accuracy of the noised results.
package noise

import (
	log "github.com/golang/glog"
)

// Kind is an enum type. Its values are the supported noise distributions types
// for differential privacy operations.
type Kind int

// Noise distributions used to achieve Differential Privacy.
const (
	LaplaceNoise Kind = iota
	Unrecognised
)

func (k Kind) String() string {
	switch k {
	case LaplaceNoise:
		return "Laplace"
	default:
		return "Unrecognised"
	}
}

// ToNoise converts a Kind into a Noise instance.
func ToNoise(k Kind) Noise {
	switch k {
	case LaplaceNoise:
		return Laplace()
	case Unrecognised:
		log.Warningf("ToNoise: Unrecognised noise specified, returning nil")
	default:
		log.Warningf("ToNoise: unknown kind (%v) specified, returning nil", int(k))
	}
	return nil
}

// ToKind converts a Noise instance into a Kind.
func ToKind(n Noise) Kind {
	switch n {
	case Laplace():
		return LaplaceNoise
	case nil:
		log.Warningf("ToKind: nil noise specified, returning Unrecognised")
	default:
		log.Warningf("ToKind: unknown Noise (%v) specified, returning Unrecognised", n)
	}
	return Unrecognised
}

// ConfidenceInterval holds lower and upper bounds as float64 for the confidence interval.
type ConfidenceInterval struct {
	LowerBound, UpperBound float64
}

// Noise is an interface for mechanisms that add noise to data to make it
// differentially private.
//
// The scale of a mechanism is a deterministic function of the sensitivity and
// the privacy budget and can be published without privacy cost. Only the
// noise draws are randomized.
type Noise interface {
	// Scale returns the noise scale calibrated to the given L_1 sensitivity and
	// privacy budget ε.
	Scale(sensitivity, epsilon float64) (float64, error)

	// AddNoiseInt64 adds integer noise to x so that the output is ε-differentially
	// private given the L_1 sensitivity of x.
	AddNoiseInt64(x int64, sensitivity, epsilon float64) (int64, error)

	// AddNoiseFloat64 adds noise to x so that the output is ε-differentially
	// private given the L_1 sensitivity of x.
	AddNoiseFloat64(x, sensitivity, epsilon float64) (float64, error)

	// ComputeConfidenceIntervalInt64 computes a confidence interval around noisedX
	// that contains the raw integer value with probability at least 1 - alpha,
	// for noise of the given scale.
	ComputeConfidenceIntervalInt64(noisedX int64, scale, alpha float64) (ConfidenceInterval, error)

	// ComputeConfidenceIntervalFloat64 computes a confidence interval around noisedX
	// that contains the raw value with probability 1 - alpha, for noise of the
	// given scale.
	ComputeConfidenceIntervalFloat64(noisedX, scale, alpha float64) (ConfidenceInterval, error)
}
