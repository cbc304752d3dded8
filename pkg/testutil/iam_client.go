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

// testutil package provides utilities that are intended to enable easier
// and more concise writing of unit test code.
package testutil

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"github.com/abcxyz/pkg/testutil"
	"github.com/jitgroups/broker/pkg/iamclient"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
)

// FakeIAMServer fakes the projects IAM surface of the resource manager.
type FakeIAMServer struct {
	resourcemanagerpb.UnimplementedProjectsServer

	mu sync.Mutex

	// Policies keyed by resource name.
	Policies map[string]*iampb.Policy

	GetIAMPolicyErr error
	SetIAMPolicyErr error

	// FailSetWithPrecondition makes that many SetIamPolicy calls fail with
	// a FailedPrecondition status before succeeding.
	FailSetWithPrecondition int

	GetCalls int
	SetCalls int
}

func (s *FakeIAMServer) GetIamPolicy(_ context.Context, r *iampb.GetIamPolicyRequest) (*iampb.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.GetCalls++
	if s.GetIAMPolicyErr != nil {
		return nil, s.GetIAMPolicyErr
	}
	if s.Policies == nil {
		s.Policies = map[string]*iampb.Policy{}
	}
	p, ok := s.Policies[r.Resource]
	if !ok {
		p = &iampb.Policy{}
		s.Policies[r.Resource] = p
	}
	return p, nil
}

func (s *FakeIAMServer) SetIamPolicy(_ context.Context, r *iampb.SetIamPolicyRequest) (*iampb.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SetCalls++
	if s.SetIAMPolicyErr != nil {
		return nil, s.SetIAMPolicyErr
	}
	if s.FailSetWithPrecondition > 0 {
		s.FailSetWithPrecondition--
		return nil, status.Error(codes.FailedPrecondition, "etag mismatch")
	}
	if s.Policies == nil {
		s.Policies = map[string]*iampb.Policy{}
	}
	s.Policies[r.Resource] = r.Policy
	return r.Policy, nil
}

// Policy returns the stored policy for resource, nil if absent.
func (s *FakeIAMServer) Policy(resource string) *iampb.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Policies[resource]
}

// Calls returns the numbers of Get and Set calls observed so far.
func (s *FakeIAMServer) Calls() (gets, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.GetCalls, s.SetCalls
}

// SetupFakeIAMClient starts a fake projects gRPC server and returns a policy
// client connected to it.
func SetupFakeIAMClient(t *testing.T, ctx context.Context, s *FakeIAMServer) iamclient.PolicyClient {
	t.Helper()

	addr, conn := testutil.FakeGRPCServer(t, func(srv *grpc.Server) {
		resourcemanagerpb.RegisterProjectsServer(srv, s)
	})
	t.Cleanup(func() {
		conn.Close()
	})
	fakeClient, err := resourcemanager.NewProjectsClient(ctx, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("creating client for fake at %q: %v", addr, err)
	}
	return fakeClient
}
