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

// Package checks contains checks for differentially private functions.
//
// Every check returns an error wrapping one of the sentinel errors below, so
// callers can tell error kinds apart with errors.Is.
package checks

import (
	"errors"
	"fmt"
	"math"
)

// Error kinds reported by the engine. None of them are transient.
var (
	ErrInvalidBudget   = errors.New("invalid privacy budget")
	ErrBudgetExhausted = errors.New("privacy budget exhausted")
	ErrColumnNotFound  = errors.New("column not found")
	ErrInvalidRange    = errors.New("invalid range")
	ErrInvalidSize     = errors.New("invalid size")
	ErrIncompleteQuery = errors.New("incomplete query")
	ErrInvalidAlpha    = errors.New("invalid alpha")
	ErrInvalidScale    = errors.New("invalid scale")
	ErrAlreadyReleased = errors.New("query already released")
)

const (
	epsilonName = "Epsilon"
)

func verifyName(defaultName string, nameSlice []string) (string, error) {
	var name string
	switch len(nameSlice) {
	case 0:
		name = defaultName
	case 1:
		name = nameSlice[0]
	default:
		return "", fmt.Errorf("This should never happen. There should be 0 or 1 'name' parameter, got %d", len(nameSlice))
	}
	return name, nil
}

// CheckEpsilonStrict returns an error if ε is nonpositive or +∞.
func CheckEpsilonStrict(epsilon float64, name ...string) error {
	epsName, err := verifyName(epsilonName, name)
	if err != nil {
		return err
	}
	if epsilon <= 0 || math.IsInf(epsilon, 0) || math.IsNaN(epsilon) {
		return fmt.Errorf("%w: %s is %f, must be strictly positive and finite", ErrInvalidBudget, epsName, epsilon)
	}
	return nil
}

// CheckMaxContributions returns an error if the contribution bound d_in is
// nonpositive or not finite.
func CheckMaxContributions(maxContributions float64) error {
	if maxContributions <= 0 || math.IsInf(maxContributions, 0) || math.IsNaN(maxContributions) {
		return fmt.Errorf("%w: MaxContributions is %f, must be strictly positive and finite", ErrInvalidBudget, maxContributions)
	}
	return nil
}

// CheckNumQueries returns an error if numQueries is less than 1.
func CheckNumQueries(numQueries int) error {
	if numQueries < 1 {
		return fmt.Errorf("%w: NumQueries is %d, must be at least 1", ErrInvalidBudget, numQueries)
	}
	return nil
}

// CheckSensitivity returns an error if sensitivity is nonpositive or +∞.
func CheckSensitivity(sensitivity float64) error {
	if sensitivity <= 0 || math.IsInf(sensitivity, 0) || math.IsNaN(sensitivity) {
		return fmt.Errorf("%w: Sensitivity is %f, must be strictly positive and finite", ErrInvalidScale, sensitivity)
	}
	return nil
}

// CheckScale returns an error if scale is nonpositive or +∞.
func CheckScale(scale float64) error {
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return fmt.Errorf("%w: Scale is %f, must be strictly positive and finite", ErrInvalidScale, scale)
	}
	return nil
}

// CheckBoundsFloat64 returns an error if lower is not strictly smaller than
// upper, or if either parameter is NaN or ±∞.
func CheckBoundsFloat64(lower, upper float64) error {
	if math.IsNaN(lower) {
		return fmt.Errorf("%w: Lower bound cannot be NaN", ErrInvalidRange)
	}
	if math.IsNaN(upper) {
		return fmt.Errorf("%w: Upper bound cannot be NaN", ErrInvalidRange)
	}
	if math.IsInf(lower, 0) {
		return fmt.Errorf("%w: Lower bound cannot be infinity", ErrInvalidRange)
	}
	if math.IsInf(upper, 0) {
		return fmt.Errorf("%w: Upper bound cannot be infinity", ErrInvalidRange)
	}
	if lower >= upper {
		return fmt.Errorf("%w: Upper bound (%f) must be larger than lower bound (%f)", ErrInvalidRange, upper, lower)
	}
	return nil
}

// CheckWithinBounds returns an error if x lies outside [lower, upper].
func CheckWithinBounds(x, lower, upper float64) error {
	if math.IsNaN(x) || x < lower || x > upper {
		return fmt.Errorf("%w: %f is outside of the bounds [%f, %f]", ErrInvalidRange, x, lower, upper)
	}
	return nil
}

// CheckSize returns an error if size is negative.
func CheckSize(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: Size is %d, must be at least 0", ErrInvalidSize, size)
	}
	return nil
}

// CheckAlpha returns an error if the supplied alpha is not between 0 and 1.
func CheckAlpha(alpha float64) error {
	if alpha <= 0 || alpha >= 1 || math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return fmt.Errorf("%w: Alpha is %f, must be within (0, 1) and finite", ErrInvalidAlpha, alpha)
	}
	return nil
}
