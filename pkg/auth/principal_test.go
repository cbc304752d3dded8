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

package auth

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParsePrincipalID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  string
		want   PrincipalID
		wantOK bool
	}{
		{
			name:   "user",
			input:  "user:alice@example.com",
			want:   UserID{Email: "alice@example.com"},
			wantOK: true,
		},
		{
			name:   "user_mixed_case_and_whitespace",
			input:  "  User:Alice@Example.com ",
			want:   UserID{Email: "alice@example.com"},
			wantOK: true,
		},
		{
			name:   "bare_email_rejected",
			input:  "alice@example.com",
			wantOK: false,
		},
		{
			name:   "group",
			input:  "group:devs@example.com",
			want:   GroupID{Email: "devs@example.com"},
			wantOK: true,
		},
		{
			name:   "service_account",
			input:  "serviceAccount:robot@project.iam.gserviceaccount.com",
			want:   ServiceAccountID{Email: "robot@project.iam.gserviceaccount.com"},
			wantOK: true,
		},
		{
			name:   "jit_group",
			input:  "jit-group:prod.sys.ops-oncall",
			want:   JitGroupID{Environment: "prod", System: "sys", Name: "ops-oncall"},
			wantOK: true,
		},
		{
			name:   "jit_group_too_few_parts",
			input:  "jit-group:prod.sys",
			wantOK: false,
		},
		{
			name:   "jit_group_bad_chars",
			input:  "jit-group:prod.sys.ops_oncall",
			wantOK: false,
		},
		{
			name:   "class_authenticated_users",
			input:  "class:authenticated-users",
			want:   ClassAuthenticatedUsers,
			wantOK: true,
		},
		{
			name:   "class_iap_users",
			input:  "class:iap-users",
			want:   ClassIAPUsers,
			wantOK: true,
		},
		{
			name:   "class_unknown",
			input:  "class:everyone",
			wantOK: false,
		},
		{
			name:   "user_invalid_email",
			input:  "user:not-an-email",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
		{
			name:   "prefix_only",
			input:  "user:",
			wantOK: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParsePrincipalID(tc.input)
			if ok != tc.wantOK {
				t.Fatalf("ParsePrincipalID(%q) ok = %v, want %v", tc.input, ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParsePrincipalID(%q) got unexpected id (-want,+got):\n%s", tc.input, diff)
			}
		})
	}
}

func TestPrincipalIDString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		id   PrincipalID
		want string
	}{
		{"user", UserID{Email: "a@b.com"}, "user:a@b.com"},
		{"group", GroupID{Email: "g@b.com"}, "group:g@b.com"},
		{"service_account", ServiceAccountID{Email: "s@p.iam.gserviceaccount.com"}, "serviceAccount:s@p.iam.gserviceaccount.com"},
		{"jit_group", JitGroupID{Environment: "e", System: "s", Name: "n"}, "jit-group:e.s.n"},
		{"class", ClassAuthenticatedUsers, "class:authenticated-users"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.id.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPrincipalValid(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	cases := []struct {
		name string
		p    Principal
		want bool
	}{
		{"no_expiry", Principal{ID: UserID{Email: "a@b.com"}}, true},
		{"future_expiry", Principal{ID: UserID{Email: "a@b.com"}, Expiry: now.Add(time.Hour)}, true},
		{"past_expiry", Principal{ID: UserID{Email: "a@b.com"}, Expiry: now.Add(-time.Hour)}, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.p.Valid(now); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alice := UserID{Email: "alice@example.com"}
	jit := JitGroupID{Environment: "prod", System: "sys", Name: "ops"}

	s := NewSubject(alice,
		Principal{ID: GroupID{Email: "devs@example.com"}},
		Principal{ID: jit, Expiry: now.Add(time.Hour)},
	)

	if got, want := s.User(), alice; got != want {
		t.Errorf("User() = %v, want %v", got, want)
	}
	if !s.HasValidPrincipal(alice, now) {
		t.Errorf("subject must contain the user itself")
	}
	if !s.HasValidPrincipal(ClassAuthenticatedUsers, now) {
		t.Errorf("subject must contain the authenticated-users class")
	}
	if !s.HasValidPrincipal(jit, now) {
		t.Errorf("expected valid jit-group principal")
	}
	if s.HasValidPrincipal(jit, now.Add(2*time.Hour)) {
		t.Errorf("jit-group principal must be invalid after expiry")
	}
	if s.HasValidPrincipal(UserID{Email: "bob@example.com"}, now) {
		t.Errorf("unexpected principal for unrelated user")
	}
	if got, want := len(s.Principals()), 4; got != want {
		t.Errorf("len(Principals()) = %d, want %d", got, want)
	}
}
