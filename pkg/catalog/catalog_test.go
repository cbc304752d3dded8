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
	"errors"
	"testing"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/errs"
	"github.com/jitgroups/broker/pkg/policy"
)

func mustEnvironment(t *testing.T, name string, acl *policy.ACL) *policy.Environment {
	t.Helper()
	env, err := policy.NewEnvironment(name, "", policy.Metadata{}, acl, nil)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestEnvironments(t *testing.T) {
	t.Parallel()

	alice := auth.UserID{Email: "alice@example.com"}
	subject := auth.NewSubject(alice)

	visible := mustEnvironment(t, "prod", nil) // default ACL grants VIEW to all
	hidden := mustEnvironment(t, "secret", &policy.ACL{Entries: []policy.ACE{
		policy.Allow(auth.UserID{Email: "bob@example.com"}, policy.PermissionView),
	}})

	c := New(hidden, visible)
	got := c.Environments(subject)
	if len(got) != 1 || got[0].Name() != "prod" {
		t.Errorf("Environments() = %v, want [prod]", names(got))
	}
}

func names(envs []*policy.Environment) []string {
	var out []string
	for _, e := range envs {
		out = append(out, e.Name())
	}
	return out
}

func TestEnvironmentLookup(t *testing.T) {
	t.Parallel()

	alice := auth.UserID{Email: "alice@example.com"}
	subject := auth.NewSubject(alice)

	c := New(mustEnvironment(t, "prod", nil))

	if _, err := c.Environment(subject, "PROD"); err != nil {
		t.Errorf("case-insensitive lookup failed: %v", err)
	}
	if _, err := c.Environment(subject, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Environment(missing) err = %v, want %v", err, errs.ErrNotFound)
	}
}

func TestHiddenEnvironmentIsNotFound(t *testing.T) {
	t.Parallel()

	subject := auth.NewSubject(auth.UserID{Email: "alice@example.com"})
	hidden := mustEnvironment(t, "secret", &policy.ACL{Entries: []policy.ACE{
		policy.Allow(auth.UserID{Email: "bob@example.com"}, policy.PermissionView),
	}})

	c := New(hidden)
	if _, err := c.Environment(subject, "secret"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("hidden environment err = %v, want %v", err, errs.ErrNotFound)
	}
}

func TestGroupLookupAndChildFiltering(t *testing.T) {
	t.Parallel()

	alice := auth.UserID{Email: "alice@example.com"}
	bob := auth.UserID{Email: "bob@example.com"}
	subject := auth.NewSubject(alice)

	env := mustEnvironment(t, "prod", nil)
	sys, err := env.AddSystem("sys", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sys.AddGroup("ops", "", nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	// A group only bob can view: deny everything to others by granting only
	// to bob after a deny for alice.
	if _, err := sys.AddGroup("secret", "", &policy.ACL{Entries: []policy.ACE{
		policy.Deny(alice, policy.PermissionView),
		policy.Allow(bob, policy.PermissionView),
	}}, nil, nil); err != nil {
		t.Fatal(err)
	}

	c := New(env)

	sv, err := c.System(subject, "prod", "sys")
	if err != nil {
		t.Fatal(err)
	}
	groups := sv.Groups()
	if len(groups) != 1 || groups[0].Name() != "ops" {
		t.Errorf("Groups() filtered wrong, got %d groups", len(groups))
	}

	if _, err := c.Group(subject, auth.JitGroupID{Environment: "prod", System: "sys", Name: "ops"}); err != nil {
		t.Errorf("Group(ops) err = %v", err)
	}
	if _, err := c.Group(subject, auth.JitGroupID{Environment: "prod", System: "sys", Name: "secret"}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Group(secret) err = %v, want %v", err, errs.ErrNotFound)
	}
	if _, err := c.Group(subject, auth.JitGroupID{Environment: "prod", System: "sys", Name: "nope"}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Group(nope) err = %v, want %v", err, errs.ErrNotFound)
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	t.Parallel()

	subject := auth.NewSubject(auth.UserID{Email: "alice@example.com"})
	c := New(mustEnvironment(t, "prod", nil))
	c.Reload(mustEnvironment(t, "dev", nil))

	if _, err := c.Environment(subject, "prod"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("stale environment still resolvable after reload")
	}
	if _, err := c.Environment(subject, "dev"); err != nil {
		t.Errorf("new environment not resolvable after reload: %v", err)
	}
}
