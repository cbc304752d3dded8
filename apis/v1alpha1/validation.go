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

package v1alpha1

import (
	"errors"
	"fmt"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/policy"
)

// ValidatePolicyDocument checks if the PolicyDocument is valid.
func ValidatePolicyDocument(d *PolicyDocument) (retErr error) {
	if d.SchemaVersion != SchemaVersion {
		retErr = errors.Join(retErr, fmt.Errorf("schemaVersion %d is not supported (want %d)", d.SchemaVersion, SchemaVersion))
	}
	if d.Environment == nil {
		return errors.Join(retErr, fmt.Errorf("document has no environment"))
	}

	e := d.Environment
	if err := policy.ValidateName(e.Name); err != nil {
		retErr = errors.Join(retErr, fmt.Errorf("environment name: %w", err))
	}
	retErr = errors.Join(retErr, validateAccess(e.Name, e.Access))
	retErr = errors.Join(retErr, validateConstraints(e.Name, e.Constraints))

	for _, s := range e.Systems {
		scope := e.Name + "/" + s.Name
		if err := policy.ValidateName(s.Name); err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("system name in %q: %w", e.Name, err))
		}
		retErr = errors.Join(retErr, validateAccess(scope, s.Access))
		retErr = errors.Join(retErr, validateConstraints(scope, s.Constraints))

		for _, g := range s.Groups {
			gscope := scope + "/" + g.Name
			if err := policy.ValidateName(g.Name); err != nil {
				retErr = errors.Join(retErr, fmt.Errorf("group name in %q: %w", scope, err))
			}
			retErr = errors.Join(retErr, validateAccess(gscope, g.Access))
			retErr = errors.Join(retErr, validateConstraints(gscope, g.Constraints))

			for _, p := range g.Privileges {
				if p.Resource == "" || p.Role == "" {
					retErr = errors.Join(retErr, fmt.Errorf("privilege of %q must set resource and role", gscope))
				}
			}
		}
	}
	return retErr
}

func validateAccess(scope string, entries []*AccessEntry) (retErr error) {
	for _, a := range entries {
		if _, ok := auth.ParsePrincipalID(a.Principal); !ok {
			retErr = errors.Join(retErr, fmt.Errorf("principal %q of %q is not valid", a.Principal, scope))
		}
		switch {
		case a.Allow == "" && a.Deny == "":
			retErr = errors.Join(retErr, fmt.Errorf("access entry for %q of %q sets neither allow nor deny", a.Principal, scope))
		case a.Allow != "" && a.Deny != "":
			retErr = errors.Join(retErr, fmt.Errorf("access entry for %q of %q sets both allow and deny", a.Principal, scope))
		case a.Allow != "":
			if _, ok := policy.ParsePermission(a.Allow); !ok {
				retErr = errors.Join(retErr, fmt.Errorf("permission %q of %q is not valid", a.Allow, scope))
			}
		default:
			if _, ok := policy.ParsePermission(a.Deny); !ok {
				retErr = errors.Join(retErr, fmt.Errorf("permission %q of %q is not valid", a.Deny, scope))
			}
		}
	}
	return retErr
}

func validateConstraints(scope string, c *ConstraintsSpec) (retErr error) {
	if c == nil {
		return nil
	}
	for _, spec := range append(append([]*ConstraintSpec{}, c.Join...), c.Approve...) {
		retErr = errors.Join(retErr, validateConstraint(scope, spec))
	}
	return retErr
}

func validateConstraint(scope string, c *ConstraintSpec) (retErr error) {
	switch c.Type {
	case "expiry":
		min, err := time.ParseDuration(c.Min)
		if err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("expiry min %q of %q is not a duration", c.Min, scope))
		}
		max, err := time.ParseDuration(c.Max)
		if err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("expiry max %q of %q is not a duration", c.Max, scope))
		}
		if retErr == nil {
			if _, err := policy.NewExpiryConstraint(c.Name, c.DisplayName, min, max); err != nil {
				retErr = errors.Join(retErr, fmt.Errorf("expiry constraint of %q: %w", scope, err))
			}
		}
	case "expression":
		if c.Name == "" {
			retErr = errors.Join(retErr, fmt.Errorf("expression constraint of %q has no name", scope))
		}
		if c.Expression == "" {
			retErr = errors.Join(retErr, fmt.Errorf("expression constraint %q of %q has no expression", c.Name, scope))
		}
		for _, v := range c.Variables {
			if v.Name == "" {
				retErr = errors.Join(retErr, fmt.Errorf("variable of constraint %q of %q has no name", c.Name, scope))
			}
			switch v.Type {
			case "", "string", "int", "bool":
				// Ok.
			default:
				retErr = errors.Join(retErr, fmt.Errorf("variable %q of constraint %q has unknown type %q", v.Name, c.Name, v.Type))
			}
		}
	default:
		retErr = errors.Join(retErr, fmt.Errorf("constraint type %q of %q isn't one of [expiry, expression]", c.Type, scope))
	}
	return retErr
}
