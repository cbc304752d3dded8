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

	"github.com/jitgroups/broker/pkg/auth"
)

func TestPermissionCovers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		p        Permission
		required Permission
		want     bool
	}{
		{"join_implies_view", PermissionJoin, PermissionView, true},
		{"approve_self_implies_view", PermissionApproveSelf, PermissionView, true},
		{"view_does_not_cover_join", PermissionView, PermissionJoin, false},
		{"join_covers_join", PermissionJoin, PermissionJoin, true},
		{"join_does_not_cover_approve", PermissionJoin, PermissionApproveOthers, false},
		{"combined_mask", PermissionJoin | PermissionApproveSelf, PermissionApproveSelf, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.p.Covers(tc.required); got != tc.want {
				t.Errorf("Covers() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParsePermission(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input  string
		want   Permission
		wantOK bool
	}{
		{"VIEW", PermissionView, true},
		{"join", PermissionJoin, true},
		{" Approve_Others ", PermissionApproveOthers, true},
		{"APPROVE_SELF", PermissionApproveSelf, true},
		{"EXPORT", PermissionExport, true},
		{"RECONCILE", PermissionReconcile, true},
		{"ADMIN", 0, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()

			got, ok := ParsePermission(tc.input)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("ParsePermission(%q) = (%v, %v), want (%v, %v)", tc.input, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestACLEvaluate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alice := auth.UserID{Email: "alice@example.com"}
	devs := auth.GroupID{Email: "devs@example.com"}
	subject := auth.NewSubject(alice, auth.Principal{ID: devs})

	cases := []struct {
		name     string
		entries  []ACE
		required Permission
		want     bool
	}{
		{
			name:     "empty_denies",
			entries:  nil,
			required: PermissionView,
			want:     false,
		},
		{
			name:     "allow_matches_user",
			entries:  []ACE{Allow(alice, PermissionJoin)},
			required: PermissionJoin,
			want:     true,
		},
		{
			name:     "allow_matches_group",
			entries:  []ACE{Allow(devs, PermissionJoin)},
			required: PermissionJoin,
			want:     true,
		},
		{
			name:     "allow_matches_class",
			entries:  []ACE{Allow(auth.ClassAuthenticatedUsers, PermissionView)},
			required: PermissionView,
			want:     true,
		},
		{
			name:     "allow_insufficient_mask_continues",
			entries:  []ACE{Allow(alice, PermissionView), Allow(devs, PermissionJoin)},
			required: PermissionJoin,
			want:     true,
		},
		{
			name:     "deny_before_allow_wins",
			entries:  []ACE{Deny(alice, PermissionJoin), Allow(alice, PermissionJoin)},
			required: PermissionJoin,
			want:     false,
		},
		{
			name:     "allow_before_deny_wins",
			entries:  []ACE{Allow(alice, PermissionJoin), Deny(alice, PermissionJoin)},
			required: PermissionJoin,
			want:     true,
		},
		{
			name:     "deny_intersecting_bit_denies",
			entries:  []ACE{Deny(alice, PermissionView), Allow(alice, PermissionJoin)},
			required: PermissionJoin,
			want:     false,
		},
		{
			name:     "deny_disjoint_permission_skipped",
			entries:  []ACE{Deny(alice, PermissionExport &^ PermissionView), Allow(alice, PermissionJoin)},
			required: PermissionJoin,
			want:     true,
		},
		{
			name:     "unrelated_principal_skipped",
			entries:  []ACE{Allow(auth.UserID{Email: "bob@example.com"}, PermissionJoin)},
			required: PermissionJoin,
			want:     false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := evaluate(tc.entries, subject, tc.required, now); got != tc.want {
				t.Errorf("evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestACLEvaluateExpiredPrincipal(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alice := auth.UserID{Email: "alice@example.com"}
	devs := auth.GroupID{Email: "devs@example.com"}
	subject := auth.NewSubject(alice, auth.Principal{ID: devs, Expiry: now.Add(-time.Minute)})

	entries := []ACE{Allow(devs, PermissionJoin)}
	if evaluate(entries, subject, PermissionJoin, now) {
		t.Errorf("evaluate() = true for expired principal, want false")
	}
}
