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

package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/directory"
	"github.com/jitgroups/broker/pkg/errs"
)

// FakeDirectory is an in-memory directory.Client.
type FakeDirectory struct {
	mu sync.Mutex

	// groups keyed by email.
	groups map[string]*directory.Group

	// memberships keyed by group email then user email.
	memberships map[string]map[string]*directory.Membership

	// ListMembershipsByUserErr, when set for a user email, fails the call.
	ListMembershipsByUserErr map[string]error

	// GetMembershipErr, when set for a group email, fails membership reads.
	GetMembershipErr map[string]error

	CreateGroupCalls   int
	AddMembershipCalls int
	PatchCalls         int

	nextMembership int
}

var _ directory.Client = (*FakeDirectory)(nil)

// NewFakeDirectory creates an empty fake directory.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		groups:      map[string]*directory.Group{},
		memberships: map[string]map[string]*directory.Membership{},
	}
}

// SeedGroup inserts a group and returns its key.
func (d *FakeDirectory) SeedGroup(email, displayName, description string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seedGroupLocked(email, displayName, description)
}

func (d *FakeDirectory) seedGroupLocked(email, displayName, description string) string {
	key := "groups/" + email
	d.groups[email] = &directory.Group{
		Key:         key,
		Email:       email,
		DisplayName: displayName,
		Description: description,
	}
	if d.memberships[email] == nil {
		d.memberships[email] = map[string]*directory.Membership{}
	}
	return key
}

// SeedMembership inserts a membership for user in the group with the given
// email and returns its id. A zero expiry means no expiry.
func (d *FakeDirectory) SeedMembership(groupEmail string, user auth.UserID, expiry time.Time) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.groups[groupEmail]; !ok {
		d.seedGroupLocked(groupEmail, groupEmail, "")
	}
	d.nextMembership++
	m := &directory.Membership{
		ID:     fmt.Sprintf("groups/%s/memberships/%d", groupEmail, d.nextMembership),
		Expiry: expiry,
	}
	d.memberships[groupEmail][user.Email] = m
	return m.ID
}

// GroupDescription returns the stored description of the group.
func (d *FakeDirectory) GroupDescription(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[email]; ok {
		return g.Description
	}
	return ""
}

func (d *FakeDirectory) emailByKey(key string) (string, bool) {
	for email, g := range d.groups {
		if g.Key == key {
			return email, true
		}
	}
	return "", false
}

func (d *FakeDirectory) LookupGroup(_ context.Context, email string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[email]
	if !ok {
		return "", fmt.Errorf("%w: group %q", errs.ErrNotFound, email)
	}
	return g.Key, nil
}

func (d *FakeDirectory) GetGroup(_ context.Context, email string) (*directory.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[email]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, email)
	}
	cp := *g
	return &cp, nil
}

func (d *FakeDirectory) CreateGroup(_ context.Context, email, displayName, description string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.CreateGroupCalls++
	if g, ok := d.groups[email]; ok {
		return g.Key, nil
	}
	return d.seedGroupLocked(email, displayName, description), nil
}

func (d *FakeDirectory) PatchGroupDescription(_ context.Context, key, description string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.PatchCalls++
	email, ok := d.emailByKey(key)
	if !ok {
		return fmt.Errorf("%w: group key %q", errs.ErrNotFound, key)
	}
	d.groups[email].Description = description
	return nil
}

func (d *FakeDirectory) AddMembership(_ context.Context, groupKey string, user auth.UserID, expiry time.Time) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.AddMembershipCalls++
	if !expiry.After(time.Now()) {
		return "", fmt.Errorf("%w: membership expiry is not in the future", errs.ErrInvalidInput)
	}
	email, ok := d.emailByKey(groupKey)
	if !ok {
		return "", fmt.Errorf("%w: group key %q", errs.ErrNotFound, groupKey)
	}
	if m, ok := d.memberships[email][user.Email]; ok {
		m.Expiry = expiry
		return m.ID, nil
	}
	d.nextMembership++
	m := &directory.Membership{
		ID:     fmt.Sprintf("groups/%s/memberships/%d", email, d.nextMembership),
		Expiry: expiry,
	}
	d.memberships[email][user.Email] = m
	return m.ID, nil
}

func (d *FakeDirectory) GetMembership(_ context.Context, groupEmail string, user auth.UserID) (*directory.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.GetMembershipErr[groupEmail]; err != nil {
		return nil, err
	}
	m, ok := d.memberships[groupEmail][user.Email]
	if !ok {
		return nil, fmt.Errorf("%w: no membership of %q in %q", errs.ErrNotFound, user.Email, groupEmail)
	}
	cp := *m
	return &cp, nil
}

func (d *FakeDirectory) DeleteMembership(_ context.Context, groupEmail string, user auth.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.memberships[groupEmail], user.Email)
	return nil
}

func (d *FakeDirectory) ListMemberships(_ context.Context, groupEmail string) ([]*directory.Membership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ms, ok := d.memberships[groupEmail]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, groupEmail)
	}
	out := make([]*directory.Membership, 0, len(ms))
	for _, m := range ms {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *FakeDirectory) ListMembershipsByUser(_ context.Context, user auth.UserID) ([]*directory.UserMembership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ListMembershipsByUserErr[user.Email]; err != nil {
		return nil, err
	}
	var out []*directory.UserMembership
	for groupEmail, ms := range d.memberships {
		if m, ok := ms[user.Email]; ok {
			out = append(out, &directory.UserMembership{
				GroupEmail:   groupEmail,
				MembershipID: m.ID,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupEmail < out[j].GroupEmail })
	return out, nil
}

func (d *FakeDirectory) SearchGroupsByPrefix(_ context.Context, prefix string) ([]*directory.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.ContainsAny(prefix, `'"`) {
		return nil, fmt.Errorf("%w: prefix %q contains quote characters", errs.ErrInvalidInput, prefix)
	}
	var out []*directory.Group
	for email, g := range d.groups {
		if strings.HasPrefix(email, prefix) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
