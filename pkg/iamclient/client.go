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

// Package iamclient performs read-modify-write updates of resource IAM
// policies under optimistic concurrency control.
package iamclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"github.com/abcxyz/pkg/logging"
	"github.com/googleapis/gax-go/v2"
	"github.com/jitgroups/broker/pkg/errs"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// policyVersion is the IAM policy schema version requested on reads;
// version 3 is required to round-trip conditional bindings.
const policyVersion = 3

// PolicyClient gets and sets IAM policies for one GCP resource kind.
type PolicyClient interface {
	GetIamPolicy(context.Context, *iampb.GetIamPolicyRequest, ...gax.CallOption) (*iampb.Policy, error)
	SetIamPolicy(context.Context, *iampb.SetIamPolicyRequest, ...gax.CallOption) (*iampb.Policy, error)
}

// Mutator edits a policy in place during a read-modify-write round.
type Mutator func(p *iampb.Policy) error

// Client applies policy mutations to resources.
type Client interface {
	// ModifyIamPolicy reads the resource's policy, applies mutate, and
	// writes the result back, retrying on concurrent modification. The
	// reason is recorded in the logs.
	ModifyIamPolicy(ctx context.Context, resource string, mutate Mutator, reason string) error
}

// ResourceClient implements Client for projects. Additional resource kinds
// can be added by registering more policy clients.
type ResourceClient struct {
	projectsClient PolicyClient
	// Optional retry backoff strategy, default is 4 attempts with a constant
	// 200ms backoff.
	retry retry.Backoff
}

var _ Client = (*ResourceClient)(nil)

// Option is the option to set up a ResourceClient.
type Option func(c *ResourceClient) (*ResourceClient, error)

// WithRetry provides retry strategy to the client.
func WithRetry(b retry.Backoff) Option {
	return func(c *ResourceClient) (*ResourceClient, error) {
		c.retry = b
		return c, nil
	}
}

// NewResourceClient creates a ResourceClient with the provided projects
// policy client and options.
func NewResourceClient(projectsClient PolicyClient, opts ...Option) (*ResourceClient, error) {
	c := &ResourceClient{}
	for _, opt := range opts {
		var err error
		c, err = opt(c)
		if err != nil {
			return nil, fmt.Errorf("failed to apply client options: %w", err)
		}
	}
	c.projectsClient = projectsClient

	if c.retry == nil {
		c.retry = retry.WithMaxRetries(4, retry.NewConstant(200*time.Millisecond))
	}
	return c, nil
}

func (c *ResourceClient) ModifyIamPolicy(ctx context.Context, resource string, mutate Mutator, reason string) error {
	logger := logging.FromContext(ctx)

	var pc PolicyClient
	switch strings.Split(resource, "/")[0] {
	case "projects":
		pc = c.projectsClient
	default:
		return fmt.Errorf("%w: resource %q is not a project", errs.ErrInvalidInput, resource)
	}

	if err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		cp, err := pc.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
			Resource: resource,
			Options:  &iampb.GetPolicyOptions{RequestedPolicyVersion: policyVersion},
		})
		if err != nil {
			return fmt.Errorf("failed to get IAM policy: %w", err)
		}
		cp.Version = policyVersion

		if err := mutate(cp); err != nil {
			return fmt.Errorf("failed to mutate IAM policy: %w", err)
		}

		// The policy carries the etag from the read; a concurrent writer
		// fails the precondition and the round is retried from a fresh read.
		if _, err := pc.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
			Resource: resource,
			Policy:   cp,
		}); err != nil {
			if isConcurrentModification(err) {
				logger.DebugContext(ctx, "IAM policy write lost a race, retrying",
					"resource", resource,
					"reason", reason)
				return retry.RetryableError(fmt.Errorf("%w: failed to set IAM policy: %v", errs.ErrConflict, err))
			}
			return fmt.Errorf("failed to set IAM policy: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to modify IAM policy of %s (%s): %w", resource, reason, err)
	}

	logger.InfoContext(ctx, "modified IAM policy",
		"resource", resource,
		"reason", reason)
	return nil
}

// isConcurrentModification reports whether err indicates the optimistic
// concurrency precondition failed.
func isConcurrentModification(err error) bool {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.FailedPrecondition, codes.Aborted:
			return true
		}
	}
	return errors.Is(err, errs.ErrConflict)
}
