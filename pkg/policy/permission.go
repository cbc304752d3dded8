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

// Package policy implements the hierarchical policy model: environments,
// systems, and JIT groups with access control lists, typed constraints, and
// declarative IAM privileges.
package policy

import (
	"strings"
)

// Permission is a bitset of permissions on a policy node. Every permission
// other than VIEW includes the VIEW bit, so holding any permission implies
// view access.
type Permission uint32

const (
	// PermissionView allows viewing a node and its policy.
	PermissionView Permission = 1

	// PermissionJoin allows requesting to join a JIT group.
	PermissionJoin Permission = 3

	// PermissionApproveOthers allows approving other users' requests.
	PermissionApproveOthers Permission = 5

	// PermissionApproveSelf allows self-approving one's own request.
	PermissionApproveSelf Permission = 9

	// PermissionExport allows exporting policy and membership data.
	PermissionExport Permission = 17

	// PermissionReconcile allows triggering IAM reconciliation.
	PermissionReconcile Permission = 33
)

var permissionNames = []struct {
	name string
	p    Permission
}{
	{"JOIN", PermissionJoin},
	{"APPROVE_OTHERS", PermissionApproveOthers},
	{"APPROVE_SELF", PermissionApproveSelf},
	{"EXPORT", PermissionExport},
	{"RECONCILE", PermissionReconcile},
	{"VIEW", PermissionView},
}

// Covers reports whether p includes every bit of required.
func (p Permission) Covers(required Permission) bool {
	return p&required == required
}

// Intersects reports whether p shares any bit with required.
func (p Permission) Intersects(required Permission) bool {
	return p&required != 0
}

// String renders the permission as a "|"-separated list of names.
func (p Permission) String() string {
	var names []string
	rest := p
	for _, e := range permissionNames {
		if rest.Covers(e.p) {
			names = append(names, e.name)
			rest &^= e.p &^ PermissionView
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ParsePermission parses a single permission name, case-insensitively.
func ParsePermission(s string) (Permission, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, e := range permissionNames {
		if e.name == s {
			return e.p, true
		}
	}
	return 0, false
}
