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

package auth

import (
	"sort"
	"time"
)

// Subject is an authenticated end user together with the full set of
// principals the system credits them with. The set always contains the user
// itself and the authenticated-users class; membership is keyed by id, the
// expiry is metadata. Subjects are immutable after construction.
type Subject struct {
	user       UserID
	principals map[PrincipalID]Principal
}

// NewSubject creates a Subject for user carrying the given principals plus
// the user itself and the authenticated-users class. When the same id appears
// more than once the last principal wins.
func NewSubject(user UserID, principals ...Principal) *Subject {
	m := make(map[PrincipalID]Principal, len(principals)+2)
	m[user] = Principal{ID: user}
	m[ClassAuthenticatedUsers] = Principal{ID: ClassAuthenticatedUsers}
	for _, p := range principals {
		m[p.ID] = p
	}
	return &Subject{user: user, principals: m}
}

// User returns the authenticated end user.
func (s *Subject) User() UserID {
	return s.user
}

// Principals returns the subject's principals sorted by id string form.
func (s *Subject) Principals() []Principal {
	out := make([]Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Principal returns the principal with the given id, if present.
func (s *Subject) Principal(id PrincipalID) (Principal, bool) {
	p, ok := s.principals[id]
	return p, ok
}

// HasValidPrincipal reports whether the subject carries id with a membership
// that is valid at t.
func (s *Subject) HasValidPrincipal(id PrincipalID, t time.Time) bool {
	p, ok := s.principals[id]
	return ok && p.Valid(t)
}
