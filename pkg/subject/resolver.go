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

// Package subject resolves an authenticated end user into the full set of
// principals used for authorization.
package subject

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/abcxyz/pkg/logging"
	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/directory"
	"github.com/jitgroups/broker/pkg/errs"
	"golang.org/x/sync/errgroup"
)

// defaultLookupConcurrency bounds the membership detail fan-out.
const defaultLookupConcurrency = 10

// Resolver expands an end user into a Subject.
type Resolver struct {
	directory directory.Client
	mapping   *auth.Mapping
	// Optional fan-out bound, default 10.
	concurrency int
}

// Option is the option to set up a Resolver.
type Option func(r *Resolver) (*Resolver, error)

// WithConcurrency bounds the membership lookup fan-out.
func WithConcurrency(n int) Option {
	return func(r *Resolver) (*Resolver, error) {
		if n <= 0 {
			return nil, fmt.Errorf("concurrency must be positive, got %d", n)
		}
		r.concurrency = n
		return r, nil
	}
}

// NewResolver creates a Resolver backed by the given directory client.
func NewResolver(client directory.Client, mapping *auth.Mapping, opts ...Option) (*Resolver, error) {
	r := &Resolver{}
	for _, opt := range opts {
		var err error
		r, err = opt(r)
		if err != nil {
			return nil, fmt.Errorf("failed to apply resolver options: %w", err)
		}
	}
	r.directory = client
	r.mapping = mapping

	if r.concurrency == 0 {
		r.concurrency = defaultLookupConcurrency
	}
	return r, nil
}

// Resolve expands the user's direct directory memberships into a Subject.
// JIT-backed groups contribute jit-group principals carrying the membership
// expiry; ordinary groups contribute plain group principals. Individual
// membership detail lookups may fail without discarding the rest; a subject
// containing at least the user itself is returned unless the user is
// unknown.
func (r *Resolver) Resolve(ctx context.Context, user auth.UserID) (*auth.Subject, error) {
	logger := logging.FromContext(ctx)

	memberships, err := r.directory.ListMembershipsByUser(ctx, user)
	if err != nil {
		// An unknown user cannot be credited with anything.
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %q is not known to the directory", errs.ErrAccessDenied, user.Email)
		}
		return nil, fmt.Errorf("failed to list memberships of %q: %w", user.Email, err)
	}

	var (
		principals []auth.Principal
		jitGroups  []struct {
			email string
			id    auth.JitGroupID
		}
	)
	for _, m := range memberships {
		if id, ok := r.mapping.JitGroupFromEmail(m.GroupEmail); ok {
			jitGroups = append(jitGroups, struct {
				email string
				id    auth.JitGroupID
			}{email: m.GroupEmail, id: id})
			continue
		}
		principals = append(principals, auth.Principal{ID: auth.GroupID{Email: m.GroupEmail}})
	}

	// Fan out one membership detail lookup per JIT-backed group to learn its
	// expiry. Lookups fail independently; failed lookups are logged and the
	// aggregate error reported, but successful results are kept.
	var (
		mu         sync.Mutex
		jitResults []auth.Principal
		lookupErrs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, jg := range jitGroups {
		jg := jg
		g.Go(func() error {
			m, err := r.directory.GetMembership(gctx, jg.email, user)
			if err != nil {
				// A vanished membership is a race with revocation.
				if errors.Is(err, errs.ErrNotFound) {
					return nil
				}
				mu.Lock()
				lookupErrs = append(lookupErrs, fmt.Errorf("failed to look up membership in %q: %w", jg.email, err))
				mu.Unlock()
				return nil
			}
			if m.Expiry.IsZero() {
				logger.WarnContext(gctx, "JIT-backed membership has no expiry, skipping",
					"group", jg.email,
					"user", user.Email)
				return nil
			}
			mu.Lock()
			jitResults = append(jitResults, auth.Principal{ID: jg.id, Expiry: m.Expiry})
			mu.Unlock()
			return nil
		})
	}
	// Tasks never return errors; the group only propagates cancellation.
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("membership lookups cancelled: %w", err)
	}
	if agg := errors.Join(lookupErrs...); agg != nil {
		logger.ErrorContext(ctx, "some membership lookups failed",
			"user", user.Email,
			"error", agg)
	}
	principals = append(principals, jitResults...)

	return auth.NewSubject(user, principals...), nil
}
