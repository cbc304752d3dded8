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

package directory

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jitgroups/broker/pkg/errs"
	"google.golang.org/api/cloudidentity/v1"
	"google.golang.org/api/googleapi"
)

func TestTranslateErr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unauthenticated",
			err:  &googleapi.Error{Code: http.StatusUnauthorized},
			want: errs.ErrUnauthenticated,
		},
		{
			name: "not_found",
			err:  &googleapi.Error{Code: http.StatusNotFound},
			want: errs.ErrNotFound,
		},
		{
			name: "forbidden_maps_to_not_found",
			err:  &googleapi.Error{Code: http.StatusForbidden},
			want: errs.ErrNotFound,
		},
		{
			name: "server_error",
			err:  &googleapi.Error{Code: http.StatusInternalServerError},
			want: errs.ErrUpstream,
		},
		{
			name: "plain_error",
			err:  errors.New("boom"),
			want: errs.ErrUpstream,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := translateErr(tc.err); !errors.Is(got, tc.want) {
				t.Errorf("translateErr(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestContainsQuote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  bool
	}{
		{"jit.prod.", false},
		{"alice@example.com", false},
		{"a'b", true},
		{`a"b`, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()

			if got := containsQuote(tc.input); got != tc.want {
				t.Errorf("containsQuote(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestToMembership(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		input   *cloudidentity.Membership
		want    *Membership
		wantErr bool
	}{
		{
			name: "member_with_expiry",
			input: &cloudidentity.Membership{
				Name: "groups/g/memberships/m",
				Roles: []*cloudidentity.MembershipRole{
					{
						Name:         "MEMBER",
						ExpiryDetail: &cloudidentity.ExpiryDetail{ExpireTime: expiry.Format(time.RFC3339)},
					},
				},
			},
			want: &Membership{ID: "groups/g/memberships/m", Expiry: expiry},
		},
		{
			name: "member_without_expiry",
			input: &cloudidentity.Membership{
				Name:  "groups/g/memberships/m",
				Roles: []*cloudidentity.MembershipRole{{Name: "MEMBER"}},
			},
			want: &Membership{ID: "groups/g/memberships/m"},
		},
		{
			name: "owner_role_ignored",
			input: &cloudidentity.Membership{
				Name: "groups/g/memberships/m",
				Roles: []*cloudidentity.MembershipRole{
					{
						Name:         "OWNER",
						ExpiryDetail: &cloudidentity.ExpiryDetail{ExpireTime: expiry.Format(time.RFC3339)},
					},
				},
			},
			want: &Membership{ID: "groups/g/memberships/m"},
		},
		{
			name: "bad_expiry",
			input: &cloudidentity.Membership{
				Name: "groups/g/memberships/m",
				Roles: []*cloudidentity.MembershipRole{
					{
						Name:         "MEMBER",
						ExpiryDetail: &cloudidentity.ExpiryDetail{ExpireTime: "yesterday"},
					},
				},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := toMembership(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("toMembership() err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("toMembership() (-want,+got):\n%s", diff)
			}
		})
	}
}
