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

package policy

import (
	"fmt"
	"time"

	"github.com/jitgroups/broker/pkg/auth"
)

// ACE is a single access control entry. Entries are ordered; evaluation is
// first-match over the effective (root-first) entry sequence.
type ACE struct {
	// Principal this entry applies to. Class principals match by containment
	// in the subject's principal set.
	Principal auth.PrincipalID

	// Permissions is the permission mask granted or denied.
	Permissions Permission

	// Deny marks the entry as a denial instead of a grant.
	Deny bool
}

func (e ACE) String() string {
	kind := "allow"
	if e.Deny {
		kind = "deny"
	}
	return fmt.Sprintf("%s %s %s", kind, e.Principal, e.Permissions)
}

// Allow builds an ALLOW entry.
func Allow(p auth.PrincipalID, permissions Permission) ACE {
	return ACE{Principal: p, Permissions: permissions}
}

// Deny builds a DENY entry.
func Deny(p auth.PrincipalID, permissions Permission) ACE {
	return ACE{Principal: p, Permissions: permissions, Deny: true}
}

// ACL is an ordered list of access control entries.
type ACL struct {
	Entries []ACE
}

// Empty reports whether the ACL carries no entries.
func (a *ACL) Empty() bool {
	return a == nil || len(a.Entries) == 0
}

// evaluate walks entries in order. The first matching ALLOW entry whose mask
// covers every bit of required allows; the first matching entry that denies
// any bit of required denies; otherwise the result is deny.
func evaluate(entries []ACE, s *auth.Subject, required Permission, now time.Time) bool {
	for _, e := range entries {
		if !s.HasValidPrincipal(e.Principal, now) {
			continue
		}
		if e.Deny {
			if e.Permissions.Intersects(required) {
				return false
			}
			continue
		}
		if e.Permissions.Covers(required) {
			return true
		}
	}
	return false
}
