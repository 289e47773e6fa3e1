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

// Package dpquery runs differentially private queries against a shared
// privacy budget.
//
// A Compositor owns the total budget (ε) and the contribution bound (d_in)
// of a session, and splits ε across a declared number of queries. By
// sequential composition, releasing k queries with budgets ε_1, ..., ε_k that
// add up to ε costs at most ε in total.
//
// Every call to NewQuery reserves one slot of the budget. The slot is consumed
// when the query is created, not when it is released, and it is never
// refunded, even if the query later fails. The returned QueryBuilder is used
// to describe the transformations and the aggregate, and Release runs the query
// exactly once.
//
// Example:
//
//	c, err := dpquery.NewCompositor(&dpquery.CompositorOptions{
//		MaxContributions: 1,
//		Epsilon:          1,
//		NumQueries:       3,
//	})
//	...
//	q, err := c.NewQuery()
//	...
//	count, err := q.SelectColumn("age", transform.ColumnString).Count().Laplace().Release(data)
package dpquery

import (
	"fmt"
	"math"
	"sync"

	"github.com/dpengine/dpengine/checks"
	log "github.com/golang/glog"
)

// SplitStrategy decides how much of the total budget each query slot receives.
type SplitStrategy interface {
	// Allocate returns the budget of the slot with the given zero-based index,
	// given the total budget epsilon, the number of slots, and the budget
	// already allocated to earlier slots.
	Allocate(epsilon float64, numQueries, slot int, consumed float64) float64
}

// EvenSplit gives every slot ε/k. The last slot receives what remains of ε, so
// that the allocations add up to ε despite rounding.
type EvenSplit struct{}

// Allocate implements SplitStrategy.
func (EvenSplit) Allocate(epsilon float64, numQueries, slot int, consumed float64) float64 {
	share := epsilon / float64(numQueries)
	if slot < numQueries-1 {
		return share
	}
	remainder := epsilon - consumed
	if remainder != share {
		log.Infof("corrected rounding error for the last budget allocation (even share: %g, remaining: %g, difference: %e)", share, remainder, remainder-share)
	}
	return remainder
}

// CompositorOptions contains the options necessary to initialize a Compositor.
type CompositorOptions struct {
	MaxContributions float64       // Maximum number of rows a single privacy unit contributes (d_in). Required.
	Epsilon          float64       // Total privacy budget ε shared by all queries. Required.
	NumQueries       int           // Number of queries the budget is split over. Required.
	Split            SplitStrategy // How the budget is split across queries. Defaults to EvenSplit.
}

// Compositor owns the privacy budget of a session.
//
// Thread-safe.
type Compositor struct {
	// Parameters
	maxContributions float64
	epsilon          float64
	numQueries       int
	split            SplitStrategy

	// State variables
	mu       sync.Mutex
	released int     // Number of slots reserved so far.
	consumed float64 // Budget allocated to the reserved slots.
}

// NewCompositor returns a new Compositor. It fails with checks.ErrInvalidBudget
// if MaxContributions or Epsilon is not strictly positive and finite, or if
// NumQueries is less than 1.
func NewCompositor(opt *CompositorOptions) (*Compositor, error) {
	if opt == nil {
		opt = &CompositorOptions{}
	}
	if err := checks.CheckMaxContributions(opt.MaxContributions); err != nil {
		return nil, fmt.Errorf("NewCompositor: %w", err)
	}
	if err := checks.CheckEpsilonStrict(opt.Epsilon); err != nil {
		return nil, fmt.Errorf("NewCompositor: %w", err)
	}
	if err := checks.CheckNumQueries(opt.NumQueries); err != nil {
		return nil, fmt.Errorf("NewCompositor: %w", err)
	}
	split := opt.Split
	if split == nil {
		split = EvenSplit{}
	}
	return &Compositor{
		maxContributions: opt.MaxContributions,
		epsilon:          opt.Epsilon,
		numQueries:       opt.NumQueries,
		split:            split,
	}, nil
}

// NewQuery reserves the next slot of the budget and returns a QueryBuilder
// that will spend it. It fails with checks.ErrBudgetExhausted once all
// declared queries have been created.
func (c *Compositor) NewQuery() (*QueryBuilder, error) {
	s, err := c.allocate()
	if err != nil {
		return nil, err
	}
	return newQueryBuilder(c.maxContributions, s), nil
}

// slot is the share of the budget reserved for a single query.
type slot struct {
	index   int
	epsilon float64
}

const eqBudgetRelTol = 1e9

// budgetSlightlyTooLarge returns true if and only if requested is larger than
// remaining by at most a rounding error (computed as remaining/eqBudgetRelTol).
func budgetSlightlyTooLarge(remaining, requested float64) bool {
	diff := remaining - requested
	if diff >= 0 {
		return false
	}
	return math.Abs(diff) <= remaining/eqBudgetRelTol
}

// allocate reserves a slot. The check, the allocation and the update of the
// counters happen under a single lock.
func (c *Compositor) allocate() (slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released >= c.numQueries {
		return slot{}, fmt.Errorf("%w: all %d queries declared for this compositor have already been created", checks.ErrBudgetExhausted, c.numQueries)
	}
	eps := c.split.Allocate(c.epsilon, c.numQueries, c.released, c.consumed)
	if err := checks.CheckEpsilonStrict(eps, "AllocatedEpsilon"); err != nil {
		return slot{}, err
	}
	remaining := c.epsilon - c.consumed
	if budgetSlightlyTooLarge(remaining, eps) {
		log.Infof("corrected rounding error for epsilon budget allocation (requested: %f, available: %f, difference: %e)", eps, remaining, eps-remaining)
		eps = remaining
	}
	if eps > remaining {
		return slot{}, fmt.Errorf("%w: trying to allocate epsilon=%f out of remaining epsilon=%f", checks.ErrBudgetExhausted, eps, remaining)
	}
	s := slot{index: c.released, epsilon: eps}
	c.released++
	c.consumed += eps
	log.Infof("Reserved query slot %d of %d with epsilon=%f", s.index+1, c.numQueries, eps)
	return s, nil
}

// MaxContributions returns the contribution bound d_in.
func (c *Compositor) MaxContributions() float64 {
	return c.maxContributions
}

// Epsilon returns the total privacy budget.
func (c *Compositor) Epsilon() float64 {
	return c.epsilon
}

// NumQueries returns the number of queries the budget is split over.
func (c *Compositor) NumQueries() int {
	return c.numQueries
}

// Released returns the number of slots reserved so far.
func (c *Compositor) Released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Remaining returns the number of queries that can still be created.
func (c *Compositor) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numQueries - c.released
}

// ConsumedEpsilon returns the budget allocated to the slots reserved so far.
func (c *Compositor) ConsumedEpsilon() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return math.Min(c.consumed, c.epsilon)
}
