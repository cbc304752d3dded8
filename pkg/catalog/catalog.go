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

// Package catalog exposes subject-scoped views of the loaded policy trees
// and evaluates access against them.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/errs"
	"github.com/jitgroups/broker/pkg/policy"
)

// Catalog holds the loaded environment policies. The set is swapped
// atomically on reload; in-flight requests keep the version they started
// with.
type Catalog struct {
	envs atomic.Pointer[map[string]*policy.Environment]

	// now is the clock, overridable in tests.
	now func() time.Time
}

// New creates a Catalog serving the given environments.
func New(envs ...*policy.Environment) *Catalog {
	c := &Catalog{now: time.Now}
	c.Reload(envs...)
	return c
}

// Reload atomically replaces the whole environment set.
func (c *Catalog) Reload(envs ...*policy.Environment) {
	m := make(map[string]*policy.Environment, len(envs))
	for _, e := range envs {
		m[strings.ToLower(e.Name())] = e
	}
	c.envs.Store(&m)
}

func (c *Catalog) environments() map[string]*policy.Environment {
	return *c.envs.Load()
}

// Environments returns the environments whose effective ACL grants the
// subject VIEW, sorted by name.
func (c *Catalog) Environments(s *auth.Subject) []*policy.Environment {
	now := c.now()
	var out []*policy.Environment
	for _, e := range c.environments() {
		if policy.IsAllowed(e, s, policy.PermissionView, now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// EnvironmentView is an environment as visible to one subject.
type EnvironmentView struct {
	policy  *policy.Environment
	subject *auth.Subject
	now     time.Time
}

// Policy returns the underlying environment policy.
func (v *EnvironmentView) Policy() *policy.Environment { return v.policy }

// Systems returns the child systems visible to the subject, sorted by name.
func (v *EnvironmentView) Systems() []*policy.System {
	var out []*policy.System
	for _, s := range v.policy.Systems() {
		if policy.IsAllowed(s, v.subject, policy.PermissionView, v.now) {
			out = append(out, s)
		}
	}
	return out
}

// SystemView is a system as visible to one subject.
type SystemView struct {
	policy  *policy.System
	subject *auth.Subject
	now     time.Time
}

// Policy returns the underlying system policy.
func (v *SystemView) Policy() *policy.System { return v.policy }

// Groups returns the child groups visible to the subject, sorted by name.
func (v *SystemView) Groups() []*policy.JitGroup {
	var out []*policy.JitGroup
	for _, g := range v.policy.Groups() {
		if policy.IsAllowed(g, v.subject, policy.PermissionView, v.now) {
			out = append(out, g)
		}
	}
	return out
}

// GroupView is a JIT group as visible to one subject.
type GroupView struct {
	policy *policy.JitGroup
}

// Policy returns the underlying group policy.
func (v *GroupView) Policy() *policy.JitGroup { return v.policy }

// Environment resolves an environment by name for the subject. Names that do
// not resolve, including those the subject cannot view, yield not-found.
func (c *Catalog) Environment(s *auth.Subject, name string) (*EnvironmentView, error) {
	now := c.now()
	e, ok := c.environments()[strings.ToLower(name)]
	if !ok || !policy.IsAllowed(e, s, policy.PermissionView, now) {
		return nil, fmt.Errorf("%w: environment %q", errs.ErrNotFound, name)
	}
	return &EnvironmentView{policy: e, subject: s, now: now}, nil
}

// System resolves a system by environment and name for the subject.
func (c *Catalog) System(s *auth.Subject, environment, name string) (*SystemView, error) {
	ev, err := c.Environment(s, environment)
	if err != nil {
		return nil, err
	}
	sys, ok := ev.policy.System(name)
	if !ok || !policy.IsAllowed(sys, s, policy.PermissionView, ev.now) {
		return nil, fmt.Errorf("%w: system %q in environment %q", errs.ErrNotFound, name, environment)
	}
	return &SystemView{policy: sys, subject: s, now: ev.now}, nil
}

// Group resolves a JIT group by id for the subject.
func (c *Catalog) Group(s *auth.Subject, id auth.JitGroupID) (*GroupView, error) {
	sv, err := c.System(s, id.Environment, id.System)
	if err != nil {
		return nil, err
	}
	g, ok := sv.policy.Group(id.Name)
	if !ok || !policy.IsAllowed(g, s, policy.PermissionView, sv.now) {
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, id)
	}
	return &GroupView{policy: g}, nil
}
