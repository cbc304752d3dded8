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

package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/errs"
)

// ConstraintClass partitions constraints by the operation they gate.
type ConstraintClass int

const (
	// ConstraintClassJoin constraints gate joining a group.
	ConstraintClassJoin ConstraintClass = iota

	// ConstraintClassApprove constraints gate approving a request.
	ConstraintClassApprove
)

func (c ConstraintClass) String() string {
	switch c {
	case ConstraintClassJoin:
		return "join"
	case ConstraintClassApprove:
		return "approve"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ParseConstraintClass parses a class name, case-insensitively.
func ParseConstraintClass(s string) (ConstraintClass, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "join":
		return ConstraintClassJoin, true
	case "approve":
		return ConstraintClassApprove, true
	default:
		return 0, false
	}
}

// Input describes a value a constraint needs from the caller.
type Input struct {
	// Name is the input key in the request's input map.
	Name string

	// DisplayName is the human readable name used in error messages.
	DisplayName string
}

// EvalContext carries the fixed input schema for one constraint evaluation.
type EvalContext struct {
	// Subject being evaluated.
	Subject *auth.Subject

	// Group the evaluation targets.
	Group auth.JitGroupID

	// Duration is the requested membership duration.
	Duration time.Duration

	// Inputs are the caller supplied values, keyed by input name.
	Inputs map[string]string
}

// Constraint is a named predicate on an activation. A Check error that wraps
// errs.ErrInvalidInput is a pre-evaluation rejection; any other error marks
// the constraint as failed (and therefore unsatisfied).
type Constraint interface {
	// Name identifies the constraint within its class. Unique along the
	// ancestor chain; a child constraint with the same name overrides the
	// ancestor's.
	Name() string

	// DisplayName is the human readable name.
	DisplayName() string

	// Inputs lists the values the constraint needs from the caller.
	Inputs() []Input

	// Check evaluates the constraint.
	Check(ctx context.Context, ec *EvalContext) (bool, error)
}

// ExpiryConstraint bounds the requested membership duration. Its produced
// "duration" input, once validated within [Min, Max], becomes the final
// membership duration.
type ExpiryConstraint struct {
	name        string
	displayName string
	min         time.Duration
	max         time.Duration
}

// NewExpiryConstraint creates an expiry constraint with a duration range.
func NewExpiryConstraint(name, displayName string, min, max time.Duration) (*ExpiryConstraint, error) {
	if min <= 0 || max <= 0 || min > max {
		return nil, fmt.Errorf("expiry range [%s, %s] is invalid", min, max)
	}
	if name == "" {
		name = "expiry"
	}
	return &ExpiryConstraint{name: name, displayName: displayName, min: min, max: max}, nil
}

// NewFixedExpiryConstraint creates an expiry constraint with a fixed duration.
func NewFixedExpiryConstraint(name, displayName string, d time.Duration) (*ExpiryConstraint, error) {
	return NewExpiryConstraint(name, displayName, d, d)
}

func (c *ExpiryConstraint) Name() string { return c.name }

func (c *ExpiryConstraint) DisplayName() string {
	if c.displayName == "" {
		return c.name
	}
	return c.displayName
}

func (c *ExpiryConstraint) Inputs() []Input {
	return []Input{{Name: "duration", DisplayName: "Duration"}}
}

// Min returns the minimum allowed duration.
func (c *ExpiryConstraint) Min() time.Duration { return c.min }

// Max returns the maximum allowed duration.
func (c *ExpiryConstraint) Max() time.Duration { return c.max }

func (c *ExpiryConstraint) Check(_ context.Context, ec *EvalContext) (bool, error) {
	if ec.Duration <= 0 {
		return false, fmt.Errorf("%w: duration must be positive", errs.ErrInvalidInput)
	}
	return ec.Duration >= c.min && ec.Duration <= c.max, nil
}

// VariableType is the type of a declared expression variable.
type VariableType int

const (
	// VariableTypeString is a string with optional length bounds.
	VariableTypeString VariableType = iota

	// VariableTypeInt is an integer with optional value bounds.
	VariableTypeInt

	// VariableTypeBool is a boolean.
	VariableTypeBool
)

// Variable is a typed input variable of an expression constraint. The caller
// supplies values as strings; Bind type-checks them against the declared
// bounds.
type Variable struct {
	// Name is the input key, also addressable as input.<name> in the
	// expression.
	Name string

	// DisplayName is the human readable name.
	DisplayName string

	// Type of the variable.
	Type VariableType

	// MinLen and MaxLen bound string lengths. MaxLen 0 means unbounded.
	MinLen, MaxLen int

	// Min and Max bound integer values. Both 0 means unbounded.
	Min, Max int64
}

func (v *Variable) displayName() string {
	if v.DisplayName == "" {
		return v.Name
	}
	return v.DisplayName
}

// Bind converts raw into the variable's native type, enforcing bounds. All
// returned errors wrap errs.ErrInvalidInput.
func (v *Variable) Bind(raw string) (any, error) {
	switch v.Type {
	case VariableTypeString:
		if len(raw) < v.MinLen {
			return nil, fmt.Errorf("%w: %s must be at least %d characters", errs.ErrInvalidInput, v.displayName(), v.MinLen)
		}
		if v.MaxLen > 0 && len(raw) > v.MaxLen {
			return nil, fmt.Errorf("%w: %s must be at most %d characters", errs.ErrInvalidInput, v.displayName(), v.MaxLen)
		}
		return raw, nil
	case VariableTypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", errs.ErrInvalidInput, v.displayName())
		}
		if !(v.Min == 0 && v.Max == 0) && (n < v.Min || n > v.Max) {
			return nil, fmt.Errorf("%w: %s must be in [%d, %d]", errs.ErrInvalidInput, v.displayName(), v.Min, v.Max)
		}
		return n, nil
	case VariableTypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a boolean", errs.ErrInvalidInput, v.displayName())
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s has an unknown type", errs.ErrInvalidInput, v.displayName())
	}
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

// expressionEnv returns the shared CEL environment for expression
// constraints. The input schema is fixed: subject.email,
// subject.principals, group.environment|system|name, and input.<var> per
// declared variable.
func expressionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("group", cel.MapType(cel.StringType, cel.StringType)),
			cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// ExpressionConstraint evaluates a CEL predicate over the subject, the
// group, and typed input variables. The predicate is compiled once per
// constraint instance, lazily.
type ExpressionConstraint struct {
	name        string
	displayName string
	expression  string
	variables   []*Variable

	compileOnce sync.Once
	program     cel.Program
	compileErr  error
}

// NewExpressionConstraint creates an expression constraint.
func NewExpressionConstraint(name, displayName, expression string, variables []*Variable) (*ExpressionConstraint, error) {
	if name == "" {
		return nil, fmt.Errorf("expression constraint name must not be empty")
	}
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("expression for constraint %q must not be empty", name)
	}
	return &ExpressionConstraint{
		name:        name,
		displayName: displayName,
		expression:  expression,
		variables:   variables,
	}, nil
}

func (c *ExpressionConstraint) Name() string { return c.name }

func (c *ExpressionConstraint) DisplayName() string {
	if c.displayName == "" {
		return c.name
	}
	return c.displayName
}

func (c *ExpressionConstraint) Inputs() []Input {
	inputs := make([]Input, 0, len(c.variables))
	for _, v := range c.variables {
		inputs = append(inputs, Input{Name: v.Name, DisplayName: v.displayName()})
	}
	return inputs
}

// Expression returns the predicate source.
func (c *ExpressionConstraint) Expression() string { return c.expression }

func (c *ExpressionConstraint) compile() (cel.Program, error) {
	c.compileOnce.Do(func() {
		env, err := expressionEnv()
		if err != nil {
			c.compileErr = fmt.Errorf("failed to create expression environment: %w", err)
			return
		}
		ast, issues := env.Compile(c.expression)
		if issues != nil && issues.Err() != nil {
			c.compileErr = fmt.Errorf("failed to compile expression for constraint %q: %w", c.name, issues.Err())
			return
		}
		prg, err := env.Program(ast)
		if err != nil {
			c.compileErr = fmt.Errorf("failed to plan expression for constraint %q: %w", c.name, err)
			return
		}
		c.program = prg
	})
	return c.program, c.compileErr
}

func (c *ExpressionConstraint) Check(_ context.Context, ec *EvalContext) (bool, error) {
	inputs := make(map[string]any, len(c.variables))
	for _, v := range c.variables {
		raw, ok := ec.Inputs[v.Name]
		if !ok {
			return false, fmt.Errorf("%w: missing required input %q", errs.ErrInvalidInput, v.displayName())
		}
		bound, err := v.Bind(raw)
		if err != nil {
			return false, err
		}
		inputs[v.Name] = bound
	}

	prg, err := c.compile()
	if err != nil {
		return false, err
	}

	principals := make([]string, 0, 4)
	for _, p := range ec.Subject.Principals() {
		principals = append(principals, p.ID.String())
	}
	out, _, err := prg.Eval(map[string]any{
		"subject": map[string]any{
			"email":      ec.Subject.User().Email,
			"principals": principals,
		},
		"group": map[string]string{
			"environment": ec.Group.Environment,
			"system":      ec.Group.System,
			"name":        ec.Group.Name,
		},
		"input": inputs,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression for constraint %q: %w", c.name, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression for constraint %q returned %T, want bool", c.name, out.Value())
	}
	return b, nil
}
