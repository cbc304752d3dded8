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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jitgroups/broker/pkg/auth"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "prod", false},
		{"valid_with_dash", "ops-oncall", false},
		{"valid_with_digits", "env1", false},
		{"empty", "", true},
		{"too_long", "a-very-long-name-indeed", true},
		{"uppercase", "Prod", true},
		{"underscore", "ops_oncall", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateName(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateName(%q) = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestNewEnvironmentDefaultACL(t *testing.T) {
	t.Parallel()

	env, err := NewEnvironment("prod", "", Metadata{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []ACE{Allow(auth.ClassAuthenticatedUsers, PermissionView)}
	if diff := cmp.Diff(want, env.ACL().Entries); diff != "" {
		t.Errorf("default environment ACL (-want,+got):\n%s", diff)
	}
}

func TestSiblingUniqueness(t *testing.T) {
	t.Parallel()

	env, err := NewEnvironment("prod", "", Metadata{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("sys", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.AddSystem("SYS", "", nil, nil); err == nil {
		t.Errorf("AddSystem with case-insensitive duplicate succeeded, want error")
	}
	if _, err := sys.AddGroup("ops", "", nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := sys.AddGroup("OPS", "", nil, nil, nil); err == nil {
		t.Errorf("AddGroup with case-insensitive duplicate succeeded, want error")
	}

	// Lookups are case-insensitive.
	if _, ok := env.System("SyS"); !ok {
		t.Errorf("System lookup should be case-insensitive")
	}
	if _, ok := sys.Group("OpS"); !ok {
		t.Errorf("Group lookup should be case-insensitive")
	}
}

func TestJitGroupID(t *testing.T) {
	t.Parallel()

	env, err := NewEnvironment("prod", "", Metadata{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("sys", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	group, err := sys.AddGroup("ops-oncall", "", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := auth.JitGroupID{Environment: "prod", System: "sys", Name: "ops-oncall"}
	if diff := cmp.Diff(want, group.ID()); diff != "" {
		t.Errorf("ID() (-want,+got):\n%s", diff)
	}
}

func TestEffectiveACLOrder(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alice := auth.UserID{Email: "alice@example.com"}
	subject := auth.NewSubject(alice)

	envACL := &ACL{Entries: []ACE{Allow(alice, PermissionJoin)}}
	groupACL := &ACL{Entries: []ACE{Deny(alice, PermissionJoin)}}

	env, err := NewEnvironment("prod", "", Metadata{}, envACL, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("sys", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	group, err := sys.AddGroup("ops", "", groupACL, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Effective order is root first, so the environment ALLOW precedes the
	// group DENY and wins.
	entries := EffectiveACL(group)
	want := []ACE{Allow(alice, PermissionJoin), Deny(alice, PermissionJoin)}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("EffectiveACL (-want,+got):\n%s", diff)
	}
	if !IsAllowed(group, subject, PermissionJoin, now) {
		t.Errorf("IsAllowed = false, want true: ancestor ALLOW precedes descendant DENY")
	}
}

func TestEffectiveACLDenyBeforeAllow(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alice := auth.UserID{Email: "alice@example.com"}
	subject := auth.NewSubject(alice)

	envACL := &ACL{Entries: []ACE{Deny(alice, PermissionJoin)}}
	groupACL := &ACL{Entries: []ACE{Allow(alice, PermissionJoin)}}

	env, err := NewEnvironment("prod", "", Metadata{}, envACL, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("sys", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	group, err := sys.AddGroup("ops", "", groupACL, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if IsAllowed(group, subject, PermissionJoin, now) {
		t.Errorf("IsAllowed = true, want false: ancestor DENY precedes descendant ALLOW")
	}
}

func TestEffectiveConstraintsOverride(t *testing.T) {
	t.Parallel()

	envExpiry, err := NewExpiryConstraint("expiry", "", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	groupExpiry, err := NewExpiryConstraint("expiry", "", 5*time.Minute, 2*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	envOnly, err := NewExpressionConstraint("ticket", "", `input.ticket != ""`, []*Variable{{Name: "ticket"}})
	if err != nil {
		t.Fatal(err)
	}

	env, err := NewEnvironment("prod", "", Metadata{}, nil, Constraints{
		ConstraintClassJoin: {envExpiry, envOnly},
	})
	if err != nil {
		t.Fatal(err)
	}
	sys, err := env.AddSystem("sys", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	group, err := sys.AddGroup("ops", "", nil, Constraints{
		ConstraintClassJoin: {groupExpiry},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	effective := EffectiveConstraints(group, ConstraintClassJoin)
	if got, want := len(effective), 2; got != want {
		t.Fatalf("len(EffectiveConstraints) = %d, want %d", got, want)
	}
	var foundExpiry *ExpiryConstraint
	for _, c := range effective {
		if e, ok := c.(*ExpiryConstraint); ok {
			foundExpiry = e
		}
	}
	if foundExpiry == nil {
		t.Fatal("no expiry constraint in effective set")
	}
	if got, want := foundExpiry.Max(), 2*time.Hour; got != want {
		t.Errorf("child constraint did not override ancestor: Max() = %s, want %s", got, want)
	}

	// The approve class is untouched.
	if got := EffectiveConstraints(group, ConstraintClassApprove); len(got) != 0 {
		t.Errorf("EffectiveConstraints(approve) = %d constraints, want 0", len(got))
	}
}

func TestDuplicateConstraintRejected(t *testing.T) {
	t.Parallel()

	c1, err := NewExpiryConstraint("expiry", "", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := NewExpiryConstraint("expiry", "", time.Minute, 2*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewEnvironment("prod", "", Metadata{}, nil, Constraints{
		ConstraintClassJoin: {c1, c2},
	}); err == nil {
		t.Errorf("NewEnvironment with duplicate constraints succeeded, want error")
	}
}
