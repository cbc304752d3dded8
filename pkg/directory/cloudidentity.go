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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/errs"
	"google.golang.org/api/cloudidentity/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// memberRestriction limits group membership to internal users and service
// accounts.
const memberRestriction = "member.type == 1 || member.type == 2"

// memberRole is the only membership role the broker manages.
const memberRole = "MEMBER"

// discussionForumLabel marks the created groups as plain discussion forums.
const discussionForumLabel = "cloudidentity.googleapis.com/groups.discussion_forum"

var _ Client = (*CloudIdentityClient)(nil)

// CloudIdentityClient implements Client on the Cloud Identity Groups API.
type CloudIdentityClient struct {
	service  *cloudidentity.Service
	customer string
}

// NewCloudIdentityClient creates a client scoped to the given customer, e.g.
// "customers/C0123abcd".
func NewCloudIdentityClient(ctx context.Context, customer string, opts ...option.ClientOption) (*CloudIdentityClient, error) {
	if customer == "" {
		return nil, fmt.Errorf("customer must not be empty")
	}
	service, err := cloudidentity.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudidentity service: %w", err)
	}
	return &CloudIdentityClient{service: service, customer: customer}, nil
}

// translateErr maps googleapi errors to the broker's error kinds.
func translateErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", errs.ErrUnauthenticated, err)
		case http.StatusForbidden, http.StatusNotFound:
			// The API hides denied resources as not-found; callers cannot
			// distinguish the two.
			return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", errs.ErrUpstream, err)
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func (c *CloudIdentityClient) LookupGroup(ctx context.Context, email string) (string, error) {
	resp, err := c.service.Groups.Lookup().GroupKeyId(email).Context(ctx).Do()
	if err != nil {
		return "", translateErr(err)
	}
	return resp.Name, nil
}

func (c *CloudIdentityClient) GetGroup(ctx context.Context, email string) (*Group, error) {
	key, err := c.LookupGroup(ctx, email)
	if err != nil {
		return nil, err
	}
	g, err := c.service.Groups.Get(key).Context(ctx).Do()
	if err != nil {
		return nil, translateErr(err)
	}
	return &Group{
		Key:         g.Name,
		Email:       g.GroupKey.Id,
		DisplayName: g.DisplayName,
		Description: g.Description,
	}, nil
}

func (c *CloudIdentityClient) CreateGroup(ctx context.Context, email, displayName, description string) (string, error) {
	group := &cloudidentity.Group{
		Parent:      c.customer,
		GroupKey:    &cloudidentity.EntityKey{Id: email},
		DisplayName: displayName,
		Description: description,
		Labels:      map[string]string{discussionForumLabel: ""},
	}
	op, err := c.service.Groups.Create(group).InitialGroupConfig("WITH_INITIAL_OWNER").Context(ctx).Do()
	if err != nil {
		if isConflict(err) {
			// The group already exists; resolve and return its key.
			return c.LookupGroup(ctx, email)
		}
		return "", translateErr(err)
	}
	if !op.Done {
		return "", fmt.Errorf("%w: group creation for %q has not completed", errs.ErrUpstream, email)
	}
	var created cloudidentity.Group
	if err := json.Unmarshal(op.Response, &created); err != nil {
		return "", fmt.Errorf("%w: failed to decode group creation response: %v", errs.ErrUpstream, err)
	}

	settings := &cloudidentity.SecuritySettings{
		MemberRestriction: &cloudidentity.MemberRestriction{Query: memberRestriction},
	}
	if _, err := c.service.Groups.UpdateSecuritySettings(created.Name+"/securitySettings", settings).
		UpdateMask("memberRestriction.query").Context(ctx).Do(); err != nil {
		return "", translateErr(err)
	}
	return created.Name, nil
}

func (c *CloudIdentityClient) PatchGroupDescription(ctx context.Context, key, description string) error {
	group := &cloudidentity.Group{
		Description:     description,
		ForceSendFields: []string{"Description"},
	}
	if _, err := c.service.Groups.Patch(key, group).UpdateMask("description").Context(ctx).Do(); err != nil {
		return translateErr(err)
	}
	return nil
}

func (c *CloudIdentityClient) AddMembership(ctx context.Context, groupKey string, user auth.UserID, expiry time.Time) (string, error) {
	if !expiry.After(time.Now()) {
		return "", fmt.Errorf("%w: membership expiry %s is not in the future", errs.ErrInvalidInput, expiry.Format(time.RFC3339))
	}
	role := &cloudidentity.MembershipRole{
		Name: memberRole,
		ExpiryDetail: &cloudidentity.ExpiryDetail{
			ExpireTime: expiry.UTC().Format(time.RFC3339),
		},
	}
	membership := &cloudidentity.Membership{
		PreferredMemberKey: &cloudidentity.EntityKey{Id: user.Email},
		Roles:              []*cloudidentity.MembershipRole{role},
	}
	op, err := c.service.Groups.Memberships.Create(groupKey, membership).Context(ctx).Do()
	if err != nil {
		if isConflict(err) {
			return c.updateMembershipExpiry(ctx, groupKey, user, role)
		}
		return "", translateErr(err)
	}
	if !op.Done {
		return "", fmt.Errorf("%w: membership creation for %q has not completed", errs.ErrUpstream, user.Email)
	}
	var created cloudidentity.Membership
	if err := json.Unmarshal(op.Response, &created); err != nil {
		return "", fmt.Errorf("%w: failed to decode membership creation response: %v", errs.ErrUpstream, err)
	}
	return created.Name, nil
}

// updateMembershipExpiry refreshes the expiry of an existing membership.
func (c *CloudIdentityClient) updateMembershipExpiry(ctx context.Context, groupKey string, user auth.UserID, role *cloudidentity.MembershipRole) (string, error) {
	lookup, err := c.service.Groups.Memberships.Lookup(groupKey).MemberKeyId(user.Email).Context(ctx).Do()
	if err != nil {
		return "", translateErr(err)
	}
	req := &cloudidentity.ModifyMembershipRolesRequest{
		UpdateRolesParams: []*cloudidentity.UpdateMembershipRolesParams{
			{
				FieldMask:      "expiryDetail.expire_time",
				MembershipRole: role,
			},
		},
	}
	if _, err := c.service.Groups.Memberships.ModifyMembershipRoles(lookup.Name, req).Context(ctx).Do(); err != nil {
		return "", translateErr(err)
	}
	return lookup.Name, nil
}

func (c *CloudIdentityClient) GetMembership(ctx context.Context, groupEmail string, user auth.UserID) (*Membership, error) {
	groupKey, err := c.LookupGroup(ctx, groupEmail)
	if err != nil {
		return nil, err
	}
	lookup, err := c.service.Groups.Memberships.Lookup(groupKey).MemberKeyId(user.Email).Context(ctx).Do()
	if err != nil {
		return nil, translateErr(err)
	}
	m, err := c.service.Groups.Memberships.Get(lookup.Name).Context(ctx).Do()
	if err != nil {
		return nil, translateErr(err)
	}
	return toMembership(m)
}

func toMembership(m *cloudidentity.Membership) (*Membership, error) {
	out := &Membership{ID: m.Name}
	for _, role := range m.Roles {
		if role.Name != memberRole || role.ExpiryDetail == nil || role.ExpiryDetail.ExpireTime == "" {
			continue
		}
		expiry, err := time.Parse(time.RFC3339, role.ExpiryDetail.ExpireTime)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse membership expiry %q: %v", errs.ErrUpstream, role.ExpiryDetail.ExpireTime, err)
		}
		out.Expiry = expiry
	}
	return out, nil
}

func (c *CloudIdentityClient) DeleteMembership(ctx context.Context, groupEmail string, user auth.UserID) error {
	groupKey, err := c.LookupGroup(ctx, groupEmail)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	lookup, err := c.service.Groups.Memberships.Lookup(groupKey).MemberKeyId(user.Email).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return translateErr(err)
	}
	if _, err := c.service.Groups.Memberships.Delete(lookup.Name).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return nil
		}
		return translateErr(err)
	}
	return nil
}

func (c *CloudIdentityClient) ListMemberships(ctx context.Context, groupEmail string) ([]*Membership, error) {
	groupKey, err := c.LookupGroup(ctx, groupEmail)
	if err != nil {
		return nil, err
	}
	var out []*Membership
	err = c.service.Groups.Memberships.List(groupKey).Context(ctx).Pages(ctx, func(resp *cloudidentity.ListMembershipsResponse) error {
		for _, m := range resp.Memberships {
			membership, err := toMembership(m)
			if err != nil {
				return err
			}
			out = append(out, membership)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrUpstream) {
			return nil, err
		}
		return nil, translateErr(err)
	}
	return out, nil
}

func (c *CloudIdentityClient) ListMembershipsByUser(ctx context.Context, user auth.UserID) ([]*UserMembership, error) {
	if containsQuote(user.Email) {
		return nil, fmt.Errorf("%w: email %q contains quote characters", errs.ErrInvalidInput, user.Email)
	}
	query := fmt.Sprintf("member_key_id == '%s'", user.Email)
	var out []*UserMembership
	err := c.service.Groups.Memberships.SearchDirectGroups("groups/-").Query(query).Context(ctx).
		Pages(ctx, func(resp *cloudidentity.SearchDirectGroupsResponse) error {
			for _, rel := range resp.Memberships {
				if rel.GroupKey == nil {
					continue
				}
				out = append(out, &UserMembership{
					GroupEmail:   rel.GroupKey.Id,
					MembershipID: rel.Membership,
				})
			}
			return nil
		})
	if err != nil {
		return nil, translateErr(err)
	}
	return out, nil
}

func (c *CloudIdentityClient) SearchGroupsByPrefix(ctx context.Context, prefix string) ([]*Group, error) {
	if containsQuote(prefix) {
		return nil, fmt.Errorf("%w: prefix %q contains quote characters", errs.ErrInvalidInput, prefix)
	}
	query := fmt.Sprintf("parent == '%s' && group_key.startsWith('%s')", c.customer, prefix)
	var out []*Group
	err := c.service.Groups.Search().Query(query).Context(ctx).
		Pages(ctx, func(resp *cloudidentity.SearchGroupsResponse) error {
			for _, g := range resp.Groups {
				out = append(out, &Group{
					Key:         g.Name,
					Email:       g.GroupKey.Id,
					DisplayName: g.DisplayName,
					Description: g.Description,
				})
			}
			return nil
		})
	if err != nil {
		return nil, translateErr(err)
	}
	return out, nil
}
