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

// Package policyutil contains common functions to parse policy document
// files and compile them into policy trees.
package policyutil

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jitgroups/broker/apis/v1alpha1"
	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/policy"
)

// ReadFromPath reads a YAML file at the given path and unmarshals it to a
// PolicyDocument.
func ReadFromPath(path string) (*v1alpha1.PolicyDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file at %q, %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, 64*1_000))
	if err != nil {
		return nil, fmt.Errorf("failed to read file content at %q, %w", path, err)
	}

	var d v1alpha1.PolicyDocument
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml to %T: %w", d, err)
	}

	return &d, nil
}

// LoadEnvironment reads, validates, and compiles the policy document at
// path.
func LoadEnvironment(path string) (*policy.Environment, error) {
	d, err := ReadFromPath(path)
	if err != nil {
		return nil, err
	}
	if err := v1alpha1.ValidatePolicyDocument(d); err != nil {
		return nil, fmt.Errorf("policy document at %q is not valid: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file at %q: %w", path, err)
	}
	return Compile(d, policy.Metadata{Source: path, LastModified: info.ModTime()})
}

// Compile turns a validated document into an environment policy tree.
func Compile(d *v1alpha1.PolicyDocument, metadata policy.Metadata) (*policy.Environment, error) {
	e := d.Environment

	acl, err := compileACL(e.Access)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", e.Name, err)
	}
	constraints, err := compileConstraints(e.Constraints)
	if err != nil {
		return nil, fmt.Errorf("environment %q: %w", e.Name, err)
	}
	env, err := policy.NewEnvironment(e.Name, e.Description, metadata, acl, constraints)
	if err != nil {
		return nil, err
	}

	for _, s := range e.Systems {
		acl, err := compileACL(s.Access)
		if err != nil {
			return nil, fmt.Errorf("system %q: %w", s.Name, err)
		}
		constraints, err := compileConstraints(s.Constraints)
		if err != nil {
			return nil, fmt.Errorf("system %q: %w", s.Name, err)
		}
		sys, err := env.AddSystem(s.Name, s.Description, acl, constraints)
		if err != nil {
			return nil, err
		}

		for _, g := range s.Groups {
			acl, err := compileACL(g.Access)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", g.Name, err)
			}
			constraints, err := compileConstraints(g.Constraints)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", g.Name, err)
			}
			privileges := make([]policy.IamRoleBinding, 0, len(g.Privileges))
			for _, p := range g.Privileges {
				privileges = append(privileges, policy.IamRoleBinding{
					Resource:    p.Resource,
					Role:        p.Role,
					Condition:   p.Condition,
					Description: p.Description,
				})
			}
			if _, err := sys.AddGroup(g.Name, g.Description, acl, constraints, privileges); err != nil {
				return nil, err
			}
		}
	}
	return env, nil
}

func compileACL(entries []*v1alpha1.AccessEntry) (*policy.ACL, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	acl := &policy.ACL{Entries: make([]policy.ACE, 0, len(entries))}
	for _, a := range entries {
		principal, ok := auth.ParsePrincipalID(a.Principal)
		if !ok {
			return nil, fmt.Errorf("principal %q is not valid", a.Principal)
		}
		name := a.Allow
		deny := false
		if name == "" {
			name = a.Deny
			deny = true
		}
		perms, ok := policy.ParsePermission(name)
		if !ok {
			return nil, fmt.Errorf("permission %q is not valid", name)
		}
		acl.Entries = append(acl.Entries, policy.ACE{
			Principal:   principal,
			Permissions: perms,
			Deny:        deny,
		})
	}
	return acl, nil
}

func compileConstraints(c *v1alpha1.ConstraintsSpec) (policy.Constraints, error) {
	if c == nil {
		return nil, nil
	}
	out := policy.Constraints{}
	for class, specs := range map[policy.ConstraintClass][]*v1alpha1.ConstraintSpec{
		policy.ConstraintClassJoin:    c.Join,
		policy.ConstraintClassApprove: c.Approve,
	} {
		for _, spec := range specs {
			constraint, err := compileConstraint(spec)
			if err != nil {
				return nil, err
			}
			out[class] = append(out[class], constraint)
		}
	}
	return out, nil
}

func compileConstraint(c *v1alpha1.ConstraintSpec) (policy.Constraint, error) {
	switch c.Type {
	case "expiry":
		min, err := time.ParseDuration(c.Min)
		if err != nil {
			return nil, fmt.Errorf("expiry min %q is not a duration: %w", c.Min, err)
		}
		max, err := time.ParseDuration(c.Max)
		if err != nil {
			return nil, fmt.Errorf("expiry max %q is not a duration: %w", c.Max, err)
		}
		return policy.NewExpiryConstraint(c.Name, c.DisplayName, min, max)
	case "expression":
		variables := make([]*policy.Variable, 0, len(c.Variables))
		for _, v := range c.Variables {
			variable := &policy.Variable{
				Name:        v.Name,
				DisplayName: v.DisplayName,
				MinLen:      v.MinLen,
				MaxLen:      v.MaxLen,
				Min:         v.Min,
				Max:         v.Max,
			}
			switch v.Type {
			case "", "string":
				variable.Type = policy.VariableTypeString
			case "int":
				variable.Type = policy.VariableTypeInt
			case "bool":
				variable.Type = policy.VariableTypeBool
			default:
				return nil, fmt.Errorf("variable %q has unknown type %q", v.Name, v.Type)
			}
			variables = append(variables, variable)
		}
		return policy.NewExpressionConstraint(c.Name, c.DisplayName, c.Expression, variables)
	default:
		return nil, fmt.Errorf("constraint type %q isn't one of [expiry, expression]", c.Type)
	}
}
