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
	"strings"
	"testing"
)

func validDocument() *PolicyDocument {
	return &PolicyDocument{
		SchemaVersion: 1,
		Environment: &EnvironmentSpec{
			Name: "prod",
			Access: []*AccessEntry{
				{Principal: "class:authenticated-users", Allow: "VIEW"},
			},
			Systems: []*SystemSpec{
				{
					Name: "payments",
					Groups: []*GroupSpec{
						{
							Name: "ops",
							Access: []*AccessEntry{
								{Principal: "user:alice@example.com", Allow: "JOIN"},
								{Principal: "group:leads@example.com", Allow: "APPROVE_OTHERS"},
							},
							Constraints: &ConstraintsSpec{
								Join: []*ConstraintSpec{
									{Type: "expiry", Name: "expiry", Min: "30m", Max: "8h"},
									{
										Type:       "expression",
										Name:       "ticket",
										Expression: `input.ticket.matches('^JIRA-\\d+$')`,
										Variables:  []*VariableSpec{{Name: "ticket"}},
									},
								},
							},
							Privileges: []*PrivilegeSpec{
								{Resource: "projects/payments-prod", Role: "roles/compute.viewer"},
							},
						},
					},
				},
			},
		},
	}
}

func TestValidatePolicyDocument(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		mutate     func(d *PolicyDocument)
		wantErrSub string
	}{
		{
			name:   "valid",
			mutate: func(d *PolicyDocument) {},
		},
		{
			name:       "bad_schema_version",
			mutate:     func(d *PolicyDocument) { d.SchemaVersion = 2 },
			wantErrSub: "schemaVersion 2 is not supported",
		},
		{
			name:       "missing_environment",
			mutate:     func(d *PolicyDocument) { d.Environment = nil },
			wantErrSub: "no environment",
		},
		{
			name:       "bad_environment_name",
			mutate:     func(d *PolicyDocument) { d.Environment.Name = "Prod Env" },
			wantErrSub: "environment name",
		},
		{
			name: "bad_principal",
			mutate: func(d *PolicyDocument) {
				d.Environment.Access[0].Principal = "alice@example.com"
			},
			wantErrSub: `principal "alice@example.com"`,
		},
		{
			name: "allow_and_deny",
			mutate: func(d *PolicyDocument) {
				d.Environment.Access[0].Deny = "JOIN"
			},
			wantErrSub: "both allow and deny",
		},
		{
			name: "bad_permission",
			mutate: func(d *PolicyDocument) {
				d.Environment.Access[0].Allow = "ADMIN"
			},
			wantErrSub: `permission "ADMIN"`,
		},
		{
			name: "bad_expiry_duration",
			mutate: func(d *PolicyDocument) {
				d.Environment.Systems[0].Groups[0].Constraints.Join[0].Min = "PT30M"
			},
			wantErrSub: "is not a duration",
		},
		{
			name: "inverted_expiry_range",
			mutate: func(d *PolicyDocument) {
				d.Environment.Systems[0].Groups[0].Constraints.Join[0].Min = "9h"
			},
			wantErrSub: "expiry constraint",
		},
		{
			name: "expression_without_source",
			mutate: func(d *PolicyDocument) {
				d.Environment.Systems[0].Groups[0].Constraints.Join[1].Expression = ""
			},
			wantErrSub: "has no expression",
		},
		{
			name: "unknown_constraint_type",
			mutate: func(d *PolicyDocument) {
				d.Environment.Systems[0].Groups[0].Constraints.Join[0].Type = "quota"
			},
			wantErrSub: `constraint type "quota"`,
		},
		{
			name: "unknown_variable_type",
			mutate: func(d *PolicyDocument) {
				d.Environment.Systems[0].Groups[0].Constraints.Join[1].Variables[0].Type = "float"
			},
			wantErrSub: `unknown type "float"`,
		},
		{
			name: "privilege_without_role",
			mutate: func(d *PolicyDocument) {
				d.Environment.Systems[0].Groups[0].Privileges[0].Role = ""
			},
			wantErrSub: "must set resource and role",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := validDocument()
			tc.mutate(d)
			err := ValidatePolicyDocument(d)
			if tc.wantErrSub == "" {
				if err != nil {
					t.Fatalf("ValidatePolicyDocument() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErrSub) {
				t.Errorf("ValidatePolicyDocument() = %v, want substring %q", err, tc.wantErrSub)
			}
		})
	}
}
