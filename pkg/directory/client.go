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

// Package directory defines the directory groups client the broker consumes
// and its Cloud Identity implementation.
package directory

import (
	"context"
	"strings"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
)

// Group is a directory group.
type Group struct {
	// Key is the group's resource name, e.g. "groups/0123abc".
	Key string

	// Email is the group's address.
	Email string

	// DisplayName is the group's display name.
	DisplayName string

	// Description is the group's description. The provisioner stores the IAM
	// binding checksum as a suffix here.
	Description string
}

// Membership is a group membership record.
type Membership struct {
	// ID is the membership's resource name.
	ID string

	// Expiry is when the membership lapses, zero if it does not expire.
	Expiry time.Time
}

// UserMembership is one group a user is a direct member of.
type UserMembership struct {
	// GroupEmail is the containing group's address.
	GroupEmail string

	// MembershipID is the membership's resource name.
	MembershipID string
}

// Client is the directory groups collaborator. All operations are
// potentially blocking network calls and honor the context's deadline.
// Errors wrap the kinds in pkg/errs.
type Client interface {
	// LookupGroup resolves a group email to its key.
	LookupGroup(ctx context.Context, email string) (string, error)

	// GetGroup fetches a group by email.
	GetGroup(ctx context.Context, email string) (*Group, error)

	// CreateGroup creates a group, restricted to internal users and service
	// accounts. Idempotent: returns the existing key on conflict.
	CreateGroup(ctx context.Context, email, displayName, description string) (string, error)

	// PatchGroupDescription replaces a group's description.
	PatchGroupDescription(ctx context.Context, key, description string) error

	// AddMembership adds user to the group with the given expiry, which must
	// be strictly in the future. Idempotent: an existing membership has its
	// expiry updated.
	AddMembership(ctx context.Context, groupKey string, user auth.UserID, expiry time.Time) (string, error)

	// GetMembership fetches user's membership in the group by email.
	GetMembership(ctx context.Context, groupEmail string, user auth.UserID) (*Membership, error)

	// DeleteMembership removes user's membership. Idempotent: not-found is
	// success.
	DeleteMembership(ctx context.Context, groupEmail string, user auth.UserID) error

	// ListMemberships lists all memberships of the group.
	ListMemberships(ctx context.Context, groupEmail string) ([]*Membership, error)

	// ListMembershipsByUser lists the groups user is a direct member of.
	// An unknown user is an error.
	ListMembershipsByUser(ctx context.Context, user auth.UserID) ([]*UserMembership, error)

	// SearchGroupsByPrefix lists groups whose email starts with prefix.
	// Inputs containing quote characters are rejected.
	SearchGroupsByPrefix(ctx context.Context, prefix string) ([]*Group, error)
}

// containsQuote reports whether s carries a quote character that could break
// out of a search query literal.
func containsQuote(s string) bool {
	return strings.ContainsAny(s, `'"`)
}
