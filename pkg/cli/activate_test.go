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

package cli

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
	"github.com/jitgroups/broker/pkg/activation"
	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/token"
)

type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, user auth.UserID) (*auth.Subject, error) {
	if r.err != nil {
		return nil, r.err
	}
	return auth.NewSubject(user), nil
}

type fakeActivationService struct {
	request *activation.Request
	pending *activation.Pending
	err     error

	jitCalls int
	mpaCalls int

	gotGroup     auth.JitGroupID
	gotInputs    map[string]string
	gotDuration  time.Duration
	gotReviewers []auth.UserID
	gotToken     string
}

func (a *fakeActivationService) CreateJit(_ context.Context, _ *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, _ string, duration time.Duration) (*activation.Request, error) {
	a.jitCalls++
	a.gotGroup, a.gotInputs, a.gotDuration = groupID, inputs, duration
	return a.request, a.err
}

func (a *fakeActivationService) CreateMpa(_ context.Context, _ *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, _ string, duration time.Duration, reviewers []auth.UserID) (*activation.Pending, error) {
	a.mpaCalls++
	a.gotGroup, a.gotInputs, a.gotDuration, a.gotReviewers = groupID, inputs, duration, reviewers
	return a.pending, a.err
}

func (a *fakeActivationService) ApproveMpa(_ context.Context, _ *auth.Subject, rawToken string) (*activation.Request, error) {
	a.gotToken = rawToken
	return a.request, a.err
}

func (a *fakeActivationService) Introspect(_ context.Context, _ *auth.Subject, rawToken string) (*activation.Request, error) {
	a.gotToken = rawToken
	return a.request, a.err
}

func testRequest(kind activation.Kind) *activation.Request {
	return &activation.Request{
		ID:            "req-1",
		Kind:          kind,
		Requester:     auth.UserID{Email: "alice@example.com"},
		Group:         auth.JitGroupID{Environment: "prod", System: "payments", Name: "ops"},
		Justification: "incident 42",
		Start:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:      time.Hour,
	}
}

func TestActivateRequestCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		args      []string
		activator *fakeActivationService
		resolver  *fakeResolver
		expJit    int
		expMpa    int
		expOut    []string
		expErr    string
	}{
		{
			name: "jit_success",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
				"-inputs", "ticket=JIRA-123",
			},
			activator: &fakeActivationService{request: testRequest(activation.KindJit)},
			resolver:  &fakeResolver{},
			expJit:    1,
			expOut:    []string{"Activated Membership", "id: req-1", "group: prod/payments/ops"},
		},
		{
			name: "mpa_success",
			args: []string{
				"-group", "jit-group:prod.payments.ops",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
				"-reviewers", "bob@example.com,carol@example.com",
			},
			activator: &fakeActivationService{pending: &activation.Pending{
				Request: testRequest(activation.KindMpa),
				Token:   &token.SignedToken{Token: "signed-token"},
			}},
			resolver: &fakeResolver{},
			expMpa:   1,
			expOut:   []string{"Pending Approval Request", "token: signed-token"},
		},
		{
			name: "bad_group",
			args: []string{
				"-group", "prod",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
			},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    `group "prod" is not a valid group reference`,
		},
		{
			name: "bad_inputs",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
				"-inputs", "ticket",
			},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    `input "ticket" is not a key=value pair`,
		},
		{
			name: "bad_reviewer",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
				"-reviewers", "not-an-email",
			},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    `reviewer user "not-an-email" is not a valid email`,
		},
		{
			name: "missing_duration",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-justification", "incident 42",
			},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    "duration is required",
		},
		{
			name: "missing_justification",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-duration", "1h",
			},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    "justification is required",
		},
		{
			name: "resolver_error",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
			},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{err: fmt.Errorf("directory unavailable")},
			expErr:    `failed to resolve subject "alice@example.com"`,
		},
		{
			name: "activation_error",
			args: []string{
				"-group", "prod/payments/ops",
				"-user", "alice@example.com",
				"-duration", "1h",
				"-justification", "incident 42",
			},
			activator: &fakeActivationService{err: fmt.Errorf("constraint unsatisfied")},
			resolver:  &fakeResolver{},
			expJit:    1,
			expErr:    "failed to activate membership",
		},
		{
			name:      "unexpected_args",
			args:      []string{"foo"},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    `unexpected arguments: ["foo"]`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			cmd := ActivateRequestCommand{
				testActivator: tc.activator,
				testResolver:  tc.resolver,
			}
			_, stdout, _ := cmd.Pipe()

			err := cmd.Run(ctx, append([]string{}, tc.args...))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Errorf("Process(%+v) got error diff (-want, +got):\n%s", tc.name, diff)
			}
			if got, want := tc.activator.jitCalls, tc.expJit; got != want {
				t.Errorf("CreateJit called %d times, want %d", got, want)
			}
			if got, want := tc.activator.mpaCalls, tc.expMpa; got != want {
				t.Errorf("CreateMpa called %d times, want %d", got, want)
			}
			for _, want := range tc.expOut {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("output missing %q:\n%s", want, stdout.String())
				}
			}
		})
	}
}

func TestActivateRequestCommandArguments(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	activator := &fakeActivationService{pending: &activation.Pending{
		Request: testRequest(activation.KindMpa),
		Token:   &token.SignedToken{Token: "signed-token"},
	}}
	cmd := ActivateRequestCommand{
		testActivator: activator,
		testResolver:  &fakeResolver{},
	}
	cmd.Pipe()

	args := []string{
		"-group", "prod/payments/ops",
		"-user", "alice@example.com",
		"-duration", "90m",
		"-justification", "incident 42",
		"-inputs", "ticket=JIRA-123,reason=oncall",
		"-reviewers", "bob@example.com",
	}
	if err := cmd.Run(ctx, args); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(auth.JitGroupID{Environment: "prod", System: "payments", Name: "ops"}, activator.gotGroup); diff != "" {
		t.Errorf("group diff (-want, +got):\n%s", diff)
	}
	if got, want := activator.gotDuration, 90*time.Minute; got != want {
		t.Errorf("duration = %s, want %s", got, want)
	}
	if diff := cmp.Diff(map[string]string{"ticket": "JIRA-123", "reason": "oncall"}, activator.gotInputs); diff != "" {
		t.Errorf("inputs diff (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]auth.UserID{{Email: "bob@example.com"}}, activator.gotReviewers); diff != "" {
		t.Errorf("reviewers diff (-want, +got):\n%s", diff)
	}
}

func TestActivateApproveCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		args      []string
		activator *fakeActivationService
		resolver  *fakeResolver
		expOut    string
		expErr    string
	}{
		{
			name:      "success",
			args:      []string{"-token", "signed-token", "-user", "bob@example.com"},
			activator: &fakeActivationService{request: testRequest(activation.KindMpa)},
			resolver:  &fakeResolver{},
			expOut:    "Approved Activation",
		},
		{
			name:      "missing_token",
			args:      []string{"-user", "bob@example.com"},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    "token is required",
		},
		{
			name:      "missing_user",
			args:      []string{"-token", "signed-token"},
			activator: &fakeActivationService{},
			resolver:  &fakeResolver{},
			expErr:    "user is required",
		},
		{
			name:      "approval_error",
			args:      []string{"-token", "signed-token", "-user", "mallory@example.com"},
			activator: &fakeActivationService{err: fmt.Errorf("access denied")},
			resolver:  &fakeResolver{},
			expErr:    "failed to approve activation",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			cmd := ActivateApproveCommand{
				testActivator: tc.activator,
				testResolver:  tc.resolver,
			}
			_, stdout, _ := cmd.Pipe()

			err := cmd.Run(ctx, append([]string{}, tc.args...))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Errorf("Process(%+v) got error diff (-want, +got):\n%s", tc.name, diff)
			}
			if tc.expOut != "" && !strings.Contains(stdout.String(), tc.expOut) {
				t.Errorf("output missing %q:\n%s", tc.expOut, stdout.String())
			}
			if tc.expErr == "" && tc.activator.gotToken != "signed-token" {
				t.Errorf("ApproveMpa got token %q, want %q", tc.activator.gotToken, "signed-token")
			}
		})
	}
}

func TestActivateIntrospectCommand(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

		activator := &fakeActivationService{request: testRequest(activation.KindMpa)}
		cmd := ActivateIntrospectCommand{
			testActivator: activator,
			testResolver:  &fakeResolver{},
		}
		_, stdout, _ := cmd.Pipe()

		if err := cmd.Run(ctx, []string{"-token", "signed-token", "-user", "alice@example.com"}); err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"Pending Activation", "id: req-1", "requester: alice@example.com"} {
			if !strings.Contains(stdout.String(), want) {
				t.Errorf("output missing %q:\n%s", want, stdout.String())
			}
		}
	})

	t.Run("denied", func(t *testing.T) {
		t.Parallel()

		ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

		cmd := ActivateIntrospectCommand{
			testActivator: &fakeActivationService{err: fmt.Errorf("access denied")},
			testResolver:  &fakeResolver{},
		}
		cmd.Pipe()

		err := cmd.Run(ctx, []string{"-token", "signed-token", "-user", "mallory@example.com"})
		if diff := testutil.DiffErrString(err, "failed to inspect token"); diff != "" {
			t.Errorf("got error diff (-want, +got):\n%s", diff)
		}
	})
}
