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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
)

// maxNameLen bounds environment, system, and group names.
const maxNameLen = 16

// ValidateName checks a node name: non-empty, at most 16 characters, from
// [a-z0-9-].
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("name %q exceeds %d characters", name, maxNameLen)
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

// Metadata describes where a policy came from.
type Metadata struct {
	// Source names the origin of the policy document.
	Source string

	// LastModified is the document's modification timestamp.
	LastModified time.Time
}

// Node is a policy tree node. The parent reference is set once at
// construction and immutable thereafter.
type Node interface {
	// Name of the node, unique among siblings.
	Name() string

	// Parent node, nil for the environment root.
	Parent() Node

	// ACL of the node itself, may be nil below the root.
	ACL() *ACL

	// Constraints declared on the node itself for the given class.
	Constraints(class ConstraintClass) []Constraint
}

// Constraints is a per-class set of constraints declared on one node.
type Constraints map[ConstraintClass][]Constraint

func (c Constraints) validate() error {
	for class, list := range c {
		seen := make(map[string]struct{}, len(list))
		for _, con := range list {
			key := strings.ToLower(con.Name())
			if _, ok := seen[key]; ok {
				return fmt.Errorf("duplicate %s constraint %q", class, con.Name())
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// IamRoleBinding is a declarative privilege: a role granted on a resource to
// the group's members, optionally gated by a condition expression that is
// copied through verbatim.
type IamRoleBinding struct {
	// Resource the role is granted on, e.g. "projects/my-project".
	Resource string

	// Role to grant, e.g. "roles/compute.viewer".
	Role string

	// Condition is an optional CEL condition expression.
	Condition string

	// Description is an optional human readable note, used as the condition
	// title when set.
	Description string
}

// Environment is the root of a policy tree.
type Environment struct {
	name        string
	description string
	metadata    Metadata
	acl         *ACL
	constraints Constraints
	systems     map[string]*System
}

// DefaultEnvironmentACL grants VIEW to all authenticated users. It is
// applied when an environment declares no ACL entries; the environment ACL
// must be non-empty.
func DefaultEnvironmentACL() *ACL {
	return &ACL{Entries: []ACE{Allow(auth.ClassAuthenticatedUsers, PermissionView)}}
}

// NewEnvironment creates an environment policy node.
func NewEnvironment(name, description string, metadata Metadata, acl *ACL, constraints Constraints) (*Environment, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid environment name: %w", err)
	}
	if acl.Empty() {
		acl = DefaultEnvironmentACL()
	}
	if constraints == nil {
		constraints = Constraints{}
	}
	if err := constraints.validate(); err != nil {
		return nil, fmt.Errorf("invalid environment %q: %w", name, err)
	}
	return &Environment{
		name:        name,
		description: description,
		metadata:    metadata,
		acl:         acl,
		constraints: constraints,
		systems:     map[string]*System{},
	}, nil
}

func (e *Environment) Name() string        { return e.name }
func (e *Environment) Description() string { return e.description }
func (e *Environment) Metadata() Metadata  { return e.metadata }
func (e *Environment) Parent() Node        { return nil }
func (e *Environment) ACL() *ACL           { return e.acl }

func (e *Environment) Constraints(class ConstraintClass) []Constraint {
	return e.constraints[class]
}

// AddSystem adds a child system. Sibling names are unique,
// case-insensitively.
func (e *Environment) AddSystem(name, description string, acl *ACL, constraints Constraints) (*System, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid system name: %w", err)
	}
	key := strings.ToLower(name)
	if _, ok := e.systems[key]; ok {
		return nil, fmt.Errorf("system %q already exists in environment %q", name, e.name)
	}
	if constraints == nil {
		constraints = Constraints{}
	}
	if err := constraints.validate(); err != nil {
		return nil, fmt.Errorf("invalid system %q: %w", name, err)
	}
	s := &System{
		parent:      e,
		name:        name,
		description: description,
		acl:         acl,
		constraints: constraints,
		groups:      map[string]*JitGroup{},
	}
	e.systems[key] = s
	return s, nil
}

// System returns the child system with the given name, case-insensitively.
func (e *Environment) System(name string) (*System, bool) {
	s, ok := e.systems[strings.ToLower(name)]
	return s, ok
}

// Systems returns all child systems sorted by name.
func (e *Environment) Systems() []*System {
	out := make([]*System, 0, len(e.systems))
	for _, s := range e.systems {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// System is a mid-level policy node grouping related JIT groups.
type System struct {
	parent      *Environment
	name        string
	description string
	acl         *ACL
	constraints Constraints
	groups      map[string]*JitGroup
}

func (s *System) Name() string        { return s.name }
func (s *System) Description() string { return s.description }
func (s *System) Parent() Node        { return s.parent }
func (s *System) Environment() *Environment {
	return s.parent
}
func (s *System) ACL() *ACL { return s.acl }

func (s *System) Constraints(class ConstraintClass) []Constraint {
	return s.constraints[class]
}

// AddGroup adds a child JIT group. Sibling names are unique,
// case-insensitively.
func (s *System) AddGroup(name, description string, acl *ACL, constraints Constraints, privileges []IamRoleBinding) (*JitGroup, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid group name: %w", err)
	}
	key := strings.ToLower(name)
	if _, ok := s.groups[key]; ok {
		return nil, fmt.Errorf("group %q already exists in system %q", name, s.name)
	}
	if constraints == nil {
		constraints = Constraints{}
	}
	if err := constraints.validate(); err != nil {
		return nil, fmt.Errorf("invalid group %q: %w", name, err)
	}
	g := &JitGroup{
		parent:      s,
		name:        name,
		description: description,
		acl:         acl,
		constraints: constraints,
		privileges:  privileges,
	}
	s.groups[key] = g
	return g, nil
}

// Group returns the child group with the given name, case-insensitively.
func (s *System) Group(name string) (*JitGroup, bool) {
	g, ok := s.groups[strings.ToLower(name)]
	return g, ok
}

// Groups returns all child groups sorted by name.
func (s *System) Groups() []*JitGroup {
	out := make([]*JitGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// JitGroup is a leaf policy node users can request time-bound membership in.
type JitGroup struct {
	parent      *System
	name        string
	description string
	acl         *ACL
	constraints Constraints
	privileges  []IamRoleBinding
}

func (g *JitGroup) Name() string        { return g.name }
func (g *JitGroup) Description() string { return g.description }
func (g *JitGroup) Parent() Node        { return g.parent }
func (g *JitGroup) System() *System     { return g.parent }
func (g *JitGroup) ACL() *ACL           { return g.acl }

func (g *JitGroup) Constraints(class ConstraintClass) []Constraint {
	return g.constraints[class]
}

// Privileges returns the group's declared IAM role bindings.
func (g *JitGroup) Privileges() []IamRoleBinding {
	return g.privileges
}

// ID returns the group's logical identity.
func (g *JitGroup) ID() auth.JitGroupID {
	return auth.JitGroupID{
		Environment: g.parent.parent.name,
		System:      g.parent.name,
		Name:        g.name,
	}
}

// ancestry returns the chain from the root to n, root first.
func ancestry(n Node) []Node {
	var chain []Node
	for cur := n; cur != nil; cur = cur.Parent() {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// EffectiveACL concatenates the ACLs from the root to n, root first.
func EffectiveACL(n Node) []ACE {
	var entries []ACE
	for _, node := range ancestry(n) {
		if acl := node.ACL(); acl != nil {
			entries = append(entries, acl.Entries...)
		}
	}
	return entries
}

// IsAllowed evaluates the effective ACL of n for the subject and required
// permission mask.
func IsAllowed(n Node, s *auth.Subject, required Permission, now time.Time) bool {
	return evaluate(EffectiveACL(n), s, required, now)
}

// EffectiveConstraints collects the constraints of the given class along the
// ancestor chain of n. A child constraint overrides an ancestor's constraint
// with the same name.
func EffectiveConstraints(n Node, class ConstraintClass) []Constraint {
	var out []Constraint
	index := make(map[string]int)
	for _, node := range ancestry(n) {
		for _, c := range node.Constraints(class) {
			key := strings.ToLower(c.Name())
			if i, ok := index[key]; ok {
				out[i] = c
				continue
			}
			index[key] = len(out)
			out = append(out, c)
		}
	}
	return out
}
