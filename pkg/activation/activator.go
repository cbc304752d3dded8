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

// Package activation drives the JIT and multi-party activation flows: access
// analysis, token issuance and approval, and provisioning handoff.
package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/uuid"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/catalog"
	"github.com/jitgroups/broker/pkg/errs"
	"github.com/jitgroups/broker/pkg/notify"
	"github.com/jitgroups/broker/pkg/policy"
	"github.com/jitgroups/broker/pkg/token"
)

const (
	defaultMinReviewers = 1
	defaultMaxReviewers = 10
)

// Provisioner materializes an approved activation as a directory membership
// plus reconciled IAM bindings.
type Provisioner interface {
	// ProvisionMembership adds the user to the group until expiry and
	// reconciles the group's IAM bindings.
	ProvisionMembership(ctx context.Context, group *policy.JitGroup, user auth.UserID, expiry time.Time) error
}

// Activator runs the activation state machine. Multi-party request state
// lives entirely in the signed token, the Activator itself is stateless.
type Activator struct {
	catalog     *catalog.Catalog
	provisioner Provisioner
	signer      *token.Signer
	dispatcher  notify.Dispatcher

	minReviewers int
	maxReviewers int

	// now is the clock and newID the request id source, overridable in
	// tests.
	now   func() time.Time
	newID func() string
}

// Option configures an Activator.
type Option func(a *Activator)

// WithReviewerBounds overrides the allowed reviewer count range for
// multi-party requests.
func WithReviewerBounds(min, max int) Option {
	return func(a *Activator) {
		a.minReviewers = min
		a.maxReviewers = max
	}
}

// WithDispatcher sets the notification dispatcher.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(a *Activator) { a.dispatcher = d }
}

// withNow overrides the clock in tests.
func withNow(now func() time.Time) Option {
	return func(a *Activator) { a.now = now }
}

// withNewID overrides the request id source in tests.
func withNewID(newID func() string) Option {
	return func(a *Activator) { a.newID = newID }
}

// NewActivator creates an Activator.
func NewActivator(cat *catalog.Catalog, p Provisioner, s *token.Signer, opts ...Option) (*Activator, error) {
	if cat == nil || p == nil || s == nil {
		return nil, fmt.Errorf("catalog, provisioner, and signer must not be nil")
	}
	a := &Activator{
		catalog:      cat,
		provisioner:  p,
		signer:       s,
		dispatcher:   notify.Discard{},
		minReviewers: defaultMinReviewers,
		maxReviewers: defaultMaxReviewers,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.minReviewers < 1 || a.minReviewers > a.maxReviewers {
		return nil, fmt.Errorf("reviewer bounds [%d, %d] are invalid", a.minReviewers, a.maxReviewers)
	}
	return a, nil
}

// Pending is an issued multi-party request awaiting approval.
type Pending struct {
	// Request as encoded into the token.
	Request *Request

	// Token carries the request until a reviewer approves it.
	Token *token.SignedToken
}

// CreateJit activates a self-approved membership: the subject must satisfy
// the join ACL and constraints and additionally hold APPROVE_SELF on the
// group. On success the membership is provisioned immediately.
func (a *Activator) CreateJit(ctx context.Context, subject *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, justification string, duration time.Duration) (*Request, error) {
	logger := logging.FromContext(ctx)
	now := a.now()

	group, err := a.analyzeJoin(ctx, subject, groupID, inputs, duration)
	if err != nil {
		return nil, err
	}
	if !policy.IsAllowed(group, subject, policy.PermissionApproveSelf, now) {
		return nil, fmt.Errorf("%w: missing %s permission on %s", errs.ErrAccessDenied, policy.PermissionApproveSelf, groupID)
	}

	req := &Request{
		ID:            a.newID(),
		Kind:          KindJit,
		Requester:     subject.User(),
		Group:         groupID,
		Justification: justification,
		Start:         now.UTC().Truncate(time.Second),
		Duration:      duration,
		Inputs:        inputs,
	}
	if err := a.provisioner.ProvisionMembership(ctx, group, req.Requester, req.Expiry()); err != nil {
		return nil, fmt.Errorf("failed to provision membership for %s: %w", groupID, err)
	}
	logger.InfoContext(ctx, "activated jit membership",
		"request_id", req.ID,
		"user", req.Requester.Email,
		"group", groupID.String(),
		"expiry", req.Expiry())

	a.dispatch(ctx, &notify.Notification{
		Type:          notify.TypeActivated,
		Recipients:    []auth.UserID{req.Requester},
		Requester:     req.Requester,
		Group:         groupID,
		RequestID:     req.ID,
		Justification: justification,
	})
	return req, nil
}

// CreateMpa issues a multi-party activation request as a signed token. The
// subject must satisfy the join ACL and constraints and must not hold
// APPROVE_SELF on the group. No server state is kept.
func (a *Activator) CreateMpa(ctx context.Context, subject *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, justification string, duration time.Duration, reviewers []auth.UserID) (*Pending, error) {
	logger := logging.FromContext(ctx)
	now := a.now()

	if n := len(reviewers); n < a.minReviewers || n > a.maxReviewers {
		return nil, fmt.Errorf("%w: reviewer count %d outside [%d, %d]", errs.ErrInvalidInput, n, a.minReviewers, a.maxReviewers)
	}
	seen := make(map[auth.UserID]struct{}, len(reviewers))
	for _, rev := range reviewers {
		if rev == subject.User() {
			return nil, fmt.Errorf("%w: requester cannot review their own request", errs.ErrInvalidInput)
		}
		if _, dup := seen[rev]; dup {
			return nil, fmt.Errorf("%w: duplicate reviewer %s", errs.ErrInvalidInput, rev.Email)
		}
		seen[rev] = struct{}{}
	}

	group, err := a.analyzeJoin(ctx, subject, groupID, inputs, duration)
	if err != nil {
		return nil, err
	}
	if policy.IsAllowed(group, subject, policy.PermissionApproveSelf, now) {
		return nil, fmt.Errorf("%w: subject can self-approve on %s, use a jit activation", errs.ErrInvalidInput, groupID)
	}

	req := &Request{
		ID:            a.newID(),
		Kind:          KindMpa,
		Requester:     subject.User(),
		Group:         groupID,
		Justification: justification,
		Start:         now.UTC().Truncate(time.Second),
		Duration:      duration,
		Reviewers:     reviewers,
		Inputs:        inputs,
	}
	signed, err := a.signer.Sign(ctx, req.claims())
	if err != nil {
		return nil, fmt.Errorf("failed to sign activation token: %w", err)
	}
	logger.InfoContext(ctx, "issued mpa activation token",
		"request_id", req.ID,
		"user", req.Requester.Email,
		"group", groupID.String(),
		"reviewers", len(reviewers),
		"token_expiry", signed.ExpiresAt)

	a.dispatch(ctx, &notify.Notification{
		Type:          notify.TypeApprovalRequested,
		Recipients:    reviewers,
		Requester:     req.Requester,
		Group:         groupID,
		RequestID:     req.ID,
		Justification: justification,
	})
	return &Pending{Request: req, Token: signed}, nil
}

// ApproveMpa approves a pending multi-party request. The token is verified
// before any authorization check so an expired token reads as expired, not
// denied. The approver must be a named reviewer other than the requester and
// must hold APPROVE_OTHERS with satisfied approve-class constraints.
func (a *Activator) ApproveMpa(ctx context.Context, approver *auth.Subject, rawToken string) (*Request, error) {
	logger := logging.FromContext(ctx)

	claims, err := a.signer.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	req, err := requestFromClaims(claims)
	if err != nil {
		return nil, err
	}

	if !req.HasReviewer(approver.User()) {
		return nil, fmt.Errorf("%w: %s is not a reviewer of request %s", errs.ErrAccessDenied, approver.User().Email, req.ID)
	}
	if approver.User() == req.Requester {
		return nil, fmt.Errorf("%w: requester cannot approve their own request", errs.ErrAccessDenied)
	}

	view, err := a.catalog.Group(approver, req.Group)
	if err != nil {
		return nil, err
	}
	group := view.Policy()

	analysis := catalog.NewAnalysis(approver, group, policy.PermissionApproveOthers, policy.ConstraintClassApprove,
		catalog.WithDuration(req.Duration),
		catalog.WithInputs(req.Inputs))
	result, err := analysis.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := result.Verify(); err != nil {
		return nil, err
	}

	if err := a.provisioner.ProvisionMembership(ctx, group, req.Requester, req.Expiry()); err != nil {
		return nil, fmt.Errorf("failed to provision membership for %s: %w", req.Group, err)
	}
	logger.InfoContext(ctx, "approved mpa activation",
		"request_id", req.ID,
		"user", req.Requester.Email,
		"approver", approver.User().Email,
		"group", req.Group.String(),
		"expiry", req.Expiry())

	a.dispatch(ctx, &notify.Notification{
		Type:          notify.TypeApproved,
		Recipients:    []auth.UserID{req.Requester},
		Requester:     req.Requester,
		Group:         req.Group,
		RequestID:     req.ID,
		Justification: req.Justification,
	})
	return req, nil
}

// Introspect verifies a token and returns its request if the subject is the
// requester or one of the reviewers. It never has side effects.
func (a *Activator) Introspect(ctx context.Context, subject *auth.Subject, rawToken string) (*Request, error) {
	claims, err := a.signer.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	req, err := requestFromClaims(claims)
	if err != nil {
		return nil, err
	}
	if subject.User() != req.Requester && !req.HasReviewer(subject.User()) {
		return nil, fmt.Errorf("%w: not a party to request %s", errs.ErrAccessDenied, req.ID)
	}
	return req, nil
}

// analyzeJoin resolves the group for the subject and verifies the join ACL
// and constraints.
func (a *Activator) analyzeJoin(ctx context.Context, subject *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, duration time.Duration) (*policy.JitGroup, error) {
	view, err := a.catalog.Group(subject, groupID)
	if err != nil {
		return nil, err
	}
	group := view.Policy()

	analysis := catalog.NewAnalysis(subject, group, policy.PermissionJoin, policy.ConstraintClassJoin,
		catalog.WithDuration(duration),
		catalog.WithInputs(inputs))
	result, err := analysis.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := result.Verify(); err != nil {
		return nil, err
	}
	return group, nil
}

// dispatch delivers a notification, logging delivery failures instead of
// surfacing them.
func (a *Activator) dispatch(ctx context.Context, n *notify.Notification) {
	if err := a.dispatcher.Dispatch(ctx, n); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "failed to dispatch notification",
			"type", string(n.Type),
			"request_id", n.RequestID,
			"error", err)
	}
}
