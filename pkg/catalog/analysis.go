// Copyright 2023 The Authors (see AUTHORS file)
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

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/errs"
	"github.com/jitgroups/broker/pkg/policy"
)

// CheckResult is the outcome of one constraint check. A non-nil Err means
// the check failed during evaluation; failed checks are also unsatisfied.
type CheckResult struct {
	Constraint policy.Constraint
	Satisfied  bool
	Err        error
}

// Analysis evaluates a subject's access to a JIT group for one permission
// mask and constraint class.
type Analysis struct {
	subject  *auth.Subject
	group    *policy.JitGroup
	required policy.Permission
	class    policy.ConstraintClass

	duration          time.Duration
	inputs            map[string]string
	ignoreConstraints bool
	now               func() time.Time
}

// AnalysisOption configures an Analysis.
type AnalysisOption func(a *Analysis)

// WithDuration sets the requested membership duration.
func WithDuration(d time.Duration) AnalysisOption {
	return func(a *Analysis) { a.duration = d }
}

// WithInputs sets the caller supplied constraint inputs.
func WithInputs(inputs map[string]string) AnalysisOption {
	return func(a *Analysis) { a.inputs = inputs }
}

// WithIgnoreConstraints makes the decision depend on the ACL alone.
func WithIgnoreConstraints() AnalysisOption {
	return func(a *Analysis) { a.ignoreConstraints = true }
}

// withNow overrides the clock in tests.
func withNow(now func() time.Time) AnalysisOption {
	return func(a *Analysis) { a.now = now }
}

// NewAnalysis creates an access analysis.
func NewAnalysis(subject *auth.Subject, group *policy.JitGroup, required policy.Permission, class policy.ConstraintClass, opts ...AnalysisOption) *Analysis {
	a := &Analysis{
		subject:  subject,
		group:    group,
		required: required,
		class:    class,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the outcome of an access analysis.
type Result struct {
	// ACLAllowed reports whether the effective ACL granted the required
	// permissions.
	ACLAllowed bool

	// ActiveMembership reports whether the subject holds a currently valid
	// jit-group principal for the group. It never substitutes for the ACL.
	ActiveMembership bool

	// Checks holds one result per effective constraint of the class.
	Checks []*CheckResult

	// ExpiryMin and ExpiryMax are the duration bounds of the effective
	// expiry constraint, zero when none applies.
	ExpiryMin, ExpiryMax time.Duration

	required          policy.Permission
	ignoreConstraints bool
}

// Satisfied returns the checks that passed.
func (r *Result) Satisfied() []*CheckResult { return r.filter(func(c *CheckResult) bool { return c.Satisfied }) }

// Unsatisfied returns the checks that did not pass, including failed ones.
func (r *Result) Unsatisfied() []*CheckResult {
	return r.filter(func(c *CheckResult) bool { return !c.Satisfied })
}

// Failed returns the checks that errored during evaluation.
func (r *Result) Failed() []*CheckResult {
	return r.filter(func(c *CheckResult) bool { return c.Err != nil })
}

func (r *Result) filter(keep func(*CheckResult) bool) []*CheckResult {
	var out []*CheckResult
	for _, c := range r.Checks {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Allowed reports the access decision: the ACL must allow, and unless
// constraints are ignored, every check must be satisfied.
func (r *Result) Allowed() bool {
	if !r.ACLAllowed {
		return false
	}
	if r.ignoreConstraints {
		return true
	}
	return len(r.Unsatisfied()) == 0
}

// Verify returns nil when access is allowed, otherwise the most specific
// error: constraint failure, then the first unsatisfied constraint, then
// access denied.
func (r *Result) Verify() error {
	if r.Allowed() {
		return nil
	}
	if r.ACLAllowed && !r.ignoreConstraints {
		if failed := r.Failed(); len(failed) > 0 {
			errsList := make([]error, 0, len(failed))
			for _, c := range failed {
				errsList = append(errsList, c.Err)
			}
			return fmt.Errorf("%w: %w", errs.ErrConstraintFailed, errors.Join(errsList...))
		}
		if unsatisfied := r.Unsatisfied(); len(unsatisfied) > 0 {
			first := unsatisfied[0].Constraint
			return &errs.ConstraintUnsatisfiedError{
				Name:        first.Name(),
				DisplayName: first.DisplayName(),
			}
		}
	}
	return fmt.Errorf("%w: missing %s permission", errs.ErrAccessDenied, r.required)
}

// Run evaluates the analysis. A missing or malformed constraint input is a
// pre-evaluation rejection and returns an error; evaluation failures are
// captured per check instead.
func (a *Analysis) Run(ctx context.Context) (*Result, error) {
	logger := logging.FromContext(ctx)
	now := a.now()

	result := &Result{
		ACLAllowed:        policy.IsAllowed(a.group, a.subject, a.required, now),
		ActiveMembership:  a.subject.HasValidPrincipal(a.group.ID(), now),
		required:          a.required,
		ignoreConstraints: a.ignoreConstraints,
	}

	ec := &policy.EvalContext{
		Subject:  a.subject,
		Group:    a.group.ID(),
		Duration: a.duration,
		Inputs:   a.inputs,
	}
	if ec.Inputs == nil {
		ec.Inputs = map[string]string{}
	}
	if a.duration > 0 {
		if _, ok := ec.Inputs["duration"]; !ok {
			ec.Inputs["duration"] = a.duration.String()
		}
	}

	if !a.ignoreConstraints {
		for _, c := range policy.EffectiveConstraints(a.group, a.class) {
			if e, ok := c.(*policy.ExpiryConstraint); ok {
				result.ExpiryMin, result.ExpiryMax = e.Min(), e.Max()
			}
			satisfied, err := c.Check(ctx, ec)
			if err != nil && errors.Is(err, errs.ErrInvalidInput) {
				return nil, err
			}
			result.Checks = append(result.Checks, &CheckResult{
				Constraint: c,
				Satisfied:  satisfied && err == nil,
				Err:        err,
			})
		}
	}

	logger.InfoContext(ctx, "evaluated access",
		"user", a.subject.User().Email,
		"group", a.group.ID().String(),
		"required", a.required.String(),
		"class", a.class.String(),
		"acl_allowed", result.ACLAllowed,
		"allowed", result.Allowed(),
		"active_membership", result.ActiveMembership)
	return result, nil
}
