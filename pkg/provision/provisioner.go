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

// Package provision materializes approved activations: it creates the
// backing directory group, adds the member, and reconciles the group's IAM
// role bindings against the declared privileges.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"github.com/abcxyz/pkg/logging"
	"google.golang.org/genproto/googleapis/type/expr"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/directory"
	"github.com/jitgroups/broker/pkg/errs"
	"github.com/jitgroups/broker/pkg/iamclient"
	"github.com/jitgroups/broker/pkg/policy"
)

// Provisioner creates directory groups and reconciles their IAM bindings.
// All operations are idempotent so concurrent or repeated activations of the
// same group converge to one net effect.
type Provisioner struct {
	directory directory.Client
	iam       iamclient.Client
	mapping   *auth.Mapping
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(dir directory.Client, iam iamclient.Client, mapping *auth.Mapping) (*Provisioner, error) {
	if dir == nil || iam == nil || mapping == nil {
		return nil, fmt.Errorf("directory client, iam client, and mapping must not be nil")
	}
	return &Provisioner{directory: dir, iam: iam, mapping: mapping}, nil
}

// ProvisionMembership adds user to the group's backing directory group until
// expiry and reconciles the group's IAM bindings. The group is created on
// first use. The membership commit is not rolled back if reconciliation
// fails; a later call retries reconciliation because the description checksum
// was not advanced.
func (p *Provisioner) ProvisionMembership(ctx context.Context, group *policy.JitGroup, user auth.UserID, expiry time.Time) error {
	logger := logging.FromContext(ctx)
	id := group.ID()
	email := p.mapping.GroupEmail(id)

	key, err := p.directory.CreateGroup(ctx, email, groupDisplayName(id), group.Description())
	if err != nil {
		return fmt.Errorf("failed to create group %s: %w", email, err)
	}

	membershipID, err := p.directory.AddMembership(ctx, key, user, expiry)
	if err != nil {
		return fmt.Errorf("failed to add %s to group %s: %w", user.Email, email, err)
	}
	logger.InfoContext(ctx, "added membership",
		"user", user.Email,
		"group", email,
		"membership_id", membershipID,
		"expiry", expiry)

	if err := p.reconcile(ctx, group, key, email); err != nil {
		return fmt.Errorf("failed to reconcile IAM bindings of %s: %w", email, err)
	}
	return nil
}

// Reconcile re-runs IAM binding reconciliation for the group. It is a no-op
// when the group has not been provisioned yet.
func (p *Provisioner) Reconcile(ctx context.Context, group *policy.JitGroup) error {
	email := p.mapping.GroupEmail(group.ID())
	g, err := p.directory.GetGroup(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get group %s: %w", email, err)
	}
	if err := p.reconcile(ctx, group, g.Key, email); err != nil {
		return fmt.Errorf("failed to reconcile IAM bindings of %s: %w", email, err)
	}
	return nil
}

// ProvisionedGroups lists the JIT groups of an environment that have a
// backing directory group.
func (p *Provisioner) ProvisionedGroups(ctx context.Context, environment string) ([]auth.JitGroupID, error) {
	groups, err := p.directory.SearchGroupsByPrefix(ctx, p.mapping.EnvironmentPrefix(environment))
	if err != nil {
		return nil, fmt.Errorf("failed to search groups of environment %q: %w", environment, err)
	}
	var out []auth.JitGroupID
	for _, g := range groups {
		if id, ok := p.mapping.JitGroupFromEmail(g.Email); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// reconcile converges the IAM bindings of every resource the group's
// privileges touch, then advances the description checksum. The checksum is
// written last so any failed resource leaves the group marked stale.
func (p *Provisioner) reconcile(ctx context.Context, group *policy.JitGroup, key, email string) error {
	logger := logging.FromContext(ctx)

	g, err := p.directory.GetGroup(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to get group: %w", err)
	}

	privileges := group.Privileges()
	expected := Checksum(privileges)
	if actual := parseChecksum(g.Description); actual == expected {
		logger.DebugContext(ctx, "IAM bindings already reconciled",
			"group", email,
			"checksum", fmt.Sprintf("%08x", expected))
		return nil
	}

	member := "group:" + email
	// Resources are visited sequentially in declaration order so a single
	// call's writes never interleave on the same policy.
	for _, resource := range distinctResources(privileges) {
		resource := resource
		mutate := func(cp *iampb.Policy) error {
			removeMember(cp, member)
			for _, b := range privileges {
				if b.Resource != resource {
					continue
				}
				cp.Bindings = append(cp.Bindings, newBinding(b, member))
			}
			return nil
		}
		reason := fmt.Sprintf("reconcile bindings of %s", group.ID())
		if err := p.iam.ModifyIamPolicy(ctx, resource, mutate, reason); err != nil {
			return err
		}
	}

	if err := p.directory.PatchGroupDescription(ctx, key, embedChecksum(g.Description, expected)); err != nil {
		return fmt.Errorf("failed to update group description: %w", err)
	}
	logger.InfoContext(ctx, "reconciled IAM bindings",
		"group", email,
		"bindings", len(privileges),
		"checksum", fmt.Sprintf("%08x", expected))
	return nil
}

func groupDisplayName(id auth.JitGroupID) string {
	return fmt.Sprintf("JIT group %s/%s/%s", id.Environment, id.System, id.Name)
}

// distinctResources returns the target resources in first-seen order.
func distinctResources(bindings []policy.IamRoleBinding) []string {
	seen := make(map[string]struct{}, len(bindings))
	var out []string
	for _, b := range bindings {
		if _, ok := seen[b.Resource]; ok {
			continue
		}
		seen[b.Resource] = struct{}{}
		out = append(out, b.Resource)
	}
	return out
}

// removeMember strips the member from every binding and drops bindings left
// empty.
func removeMember(p *iampb.Policy, member string) {
	kept := p.Bindings[:0]
	for _, b := range p.Bindings {
		members := b.Members[:0]
		for _, m := range b.Members {
			if m != member {
				members = append(members, m)
			}
		}
		b.Members = members
		if len(b.Members) > 0 {
			kept = append(kept, b)
		}
	}
	p.Bindings = kept
}

// newBinding builds the group's binding for one declared privilege. The
// condition expression is copied through verbatim.
func newBinding(b policy.IamRoleBinding, member string) *iampb.Binding {
	binding := &iampb.Binding{
		Role:    b.Role,
		Members: []string{member},
	}
	if b.Condition != "" {
		title := b.Description
		if title == "" {
			title = "-"
		}
		binding.Condition = &expr.Expr{
			Title:      title,
			Expression: b.Condition,
		}
	}
	return binding
}
