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

package activation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/errs"
)

// Kind distinguishes self-approved from multi-party activations.
type Kind string

const (
	// KindJit is a self-approved activation.
	KindJit = Kind("JIT")

	// KindMpa is a multi-party approved activation.
	KindMpa = Kind("MPA")
)

// Request describes one activation. For multi-party activations the request
// travels inside the signed token and nowhere else.
type Request struct {
	// ID uniquely identifies the request.
	ID string

	// Kind of activation.
	Kind Kind

	// Requester is the user whose membership is being activated.
	Requester auth.UserID

	// Group the activation targets.
	Group auth.JitGroupID

	// Justification given by the requester.
	Justification string

	// Start of the membership, truncated to seconds.
	Start time.Time

	// Duration of the membership.
	Duration time.Duration

	// Reviewers who may approve a multi-party request.
	Reviewers []auth.UserID

	// Inputs are the constraint inputs supplied by the requester.
	Inputs map[string]string
}

// Expiry returns the end of the requested membership.
func (r *Request) Expiry() time.Time {
	return r.Start.Add(r.Duration)
}

// HasReviewer reports whether the user is one of the request's reviewers.
func (r *Request) HasReviewer(user auth.UserID) bool {
	for _, rev := range r.Reviewers {
		if rev == user {
			return true
		}
	}
	return false
}

const (
	claimID            = "id"
	claimRequester     = "requester"
	claimGroup         = "group"
	claimJustification = "justification"
	claimStart         = "start"
	claimDuration      = "duration"
	claimReviewers     = "reviewers"
	claimInputs        = "inputs"
)

// claims converts the request into token private claims. Start is carried as
// unix seconds and duration as whole seconds.
func (r *Request) claims() map[string]any {
	reviewers := make([]string, 0, len(r.Reviewers))
	for _, rev := range r.Reviewers {
		reviewers = append(reviewers, rev.Email)
	}
	return map[string]any{
		claimID:            r.ID,
		claimRequester:     r.Requester.Email,
		claimGroup:         r.Group.String(),
		claimJustification: r.Justification,
		claimStart:         r.Start.Unix(),
		claimDuration:      int64(r.Duration / time.Second),
		claimReviewers:     reviewers,
		claimInputs:        r.Inputs,
	}
}

// requestFromClaims rebuilds a multi-party request from verified token
// claims. All decoding failures wrap errs.ErrTokenInvalid.
func requestFromClaims(claims map[string]any) (*Request, error) {
	id, err := stringClaim(claims, claimID)
	if err != nil {
		return nil, err
	}
	requesterRaw, err := stringClaim(claims, claimRequester)
	if err != nil {
		return nil, err
	}
	requester, ok := auth.ParseUserID("user:" + requesterRaw)
	if !ok {
		return nil, fmt.Errorf("%w: bad requester %q", errs.ErrTokenInvalid, requesterRaw)
	}
	groupRaw, err := stringClaim(claims, claimGroup)
	if err != nil {
		return nil, err
	}
	group, ok := auth.ParseJitGroupID(groupRaw)
	if !ok {
		return nil, fmt.Errorf("%w: bad group %q", errs.ErrTokenInvalid, groupRaw)
	}
	justification, err := stringClaim(claims, claimJustification)
	if err != nil {
		return nil, err
	}
	start, err := intClaim(claims, claimStart)
	if err != nil {
		return nil, err
	}
	durationSec, err := intClaim(claims, claimDuration)
	if err != nil {
		return nil, err
	}
	if durationSec <= 0 {
		return nil, fmt.Errorf("%w: non-positive duration", errs.ErrTokenInvalid)
	}

	var reviewers []auth.UserID
	if raw, ok := claims[claimReviewers]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: claim %q is not a list", errs.ErrTokenInvalid, claimReviewers)
		}
		for _, item := range list {
			email, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: claim %q holds a non-string reviewer", errs.ErrTokenInvalid, claimReviewers)
			}
			rev, ok := auth.ParseUserID("user:" + email)
			if !ok {
				return nil, fmt.Errorf("%w: bad reviewer %q", errs.ErrTokenInvalid, email)
			}
			reviewers = append(reviewers, rev)
		}
	}

	inputs := map[string]string{}
	if raw, ok := claims[claimInputs]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: claim %q is not a map", errs.ErrTokenInvalid, claimInputs)
		}
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: claim %q holds a non-string value for %q", errs.ErrTokenInvalid, claimInputs, k)
			}
			inputs[k] = s
		}
	}

	return &Request{
		ID:            id,
		Kind:          KindMpa,
		Requester:     requester,
		Group:         group,
		Justification: justification,
		Start:         time.Unix(start, 0).UTC(),
		Duration:      time.Duration(durationSec) * time.Second,
		Reviewers:     reviewers,
		Inputs:        inputs,
	}, nil
}

func stringClaim(claims map[string]any, key string) (string, error) {
	raw, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("%w: missing claim %q", errs.ErrTokenInvalid, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: claim %q is not a string", errs.ErrTokenInvalid, key)
	}
	return s, nil
}

// intClaim reads an integer claim, tolerating the numeric types JSON
// decoding produces.
func intClaim(claims map[string]any, key string) (int64, error) {
	raw, ok := claims[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing claim %q", errs.ErrTokenInvalid, key)
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: claim %q is not an integer", errs.ErrTokenInvalid, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: claim %q is not a number", errs.ErrTokenInvalid, key)
	}
}
