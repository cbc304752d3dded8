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

// Package auth defines typed principal identities and the subject model used
// for authorization decisions.
package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	userPrefix           = "user:"
	groupPrefix          = "group:"
	serviceAccountPrefix = "serviceAccount:"
	jitGroupPrefix       = "jit-group:"
	classPrefix          = "class:"
)

// PrincipalID is a typed identity. Implementations are comparable values so
// ids can be used as map keys; equality is by canonical string form.
type PrincipalID interface {
	fmt.Stringer
	isPrincipalID()
}

// UserID identifies an end user by email.
type UserID struct {
	Email string
}

func (u UserID) String() string { return userPrefix + u.Email }
func (UserID) isPrincipalID()   {}

// GroupID identifies a directory group by email.
type GroupID struct {
	Email string
}

func (g GroupID) String() string { return groupPrefix + g.Email }
func (GroupID) isPrincipalID()   {}

// ServiceAccountID identifies a service account by email.
type ServiceAccountID struct {
	Email string
}

func (s ServiceAccountID) String() string { return serviceAccountPrefix + s.Email }
func (ServiceAccountID) isPrincipalID()   {}

// JitGroupID is the logical identity of a JIT group. It is not a directory
// principal; its directory counterpart is derived by a Mapping.
type JitGroupID struct {
	Environment string
	System      string
	Name        string
}

func (j JitGroupID) String() string {
	return jitGroupPrefix + j.Environment + "." + j.System + "." + j.Name
}
func (JitGroupID) isPrincipalID() {}

// ClassID identifies a class of principals rather than an individual.
type ClassID string

const (
	// ClassAuthenticatedUsers matches any authenticated user.
	ClassAuthenticatedUsers = ClassID("authenticated-users")

	// ClassIAPUsers matches users authenticated through the identity-aware
	// proxy.
	ClassIAPUsers = ClassID("iap-users")
)

func (c ClassID) String() string { return classPrefix + string(c) }
func (ClassID) isPrincipalID()   {}

// parseEmail canonicalizes and validates an email address. Surrounding
// whitespace is tolerated, the result is lowercase.
func parseEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return "", false
	}
	return s, true
}

// parsePrefixed strips prefix from s after trimming whitespace. The prefix
// match is case-insensitive.
func parsePrefixed(s, prefix string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) <= len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// ParseUserID parses a "user:<email>" string. Bare emails do not parse.
func ParseUserID(s string) (UserID, bool) {
	rest, ok := parsePrefixed(s, userPrefix)
	if !ok {
		return UserID{}, false
	}
	email, ok := parseEmail(rest)
	if !ok {
		return UserID{}, false
	}
	return UserID{Email: email}, true
}

// ParseGroupID parses a "group:<email>" string.
func ParseGroupID(s string) (GroupID, bool) {
	rest, ok := parsePrefixed(s, groupPrefix)
	if !ok {
		return GroupID{}, false
	}
	email, ok := parseEmail(rest)
	if !ok {
		return GroupID{}, false
	}
	return GroupID{Email: email}, true
}

// ParseServiceAccountID parses a "serviceAccount:<email>" string.
func ParseServiceAccountID(s string) (ServiceAccountID, bool) {
	rest, ok := parsePrefixed(s, serviceAccountPrefix)
	if !ok {
		return ServiceAccountID{}, false
	}
	email, ok := parseEmail(rest)
	if !ok {
		return ServiceAccountID{}, false
	}
	return ServiceAccountID{Email: email}, true
}

// ParseJitGroupID parses a "jit-group:<env>.<system>.<name>" string.
func ParseJitGroupID(s string) (JitGroupID, bool) {
	rest, ok := parsePrefixed(s, jitGroupPrefix)
	if !ok {
		return JitGroupID{}, false
	}
	parts := strings.Split(strings.ToLower(rest), ".")
	if len(parts) != 3 {
		return JitGroupID{}, false
	}
	for _, p := range parts {
		if !validNamePart(p) {
			return JitGroupID{}, false
		}
	}
	return JitGroupID{Environment: parts[0], System: parts[1], Name: parts[2]}, true
}

// ParseClassID parses a "class:<name>" string for a known class.
func ParseClassID(s string) (ClassID, bool) {
	rest, ok := parsePrefixed(s, classPrefix)
	if !ok {
		return "", false
	}
	switch c := ClassID(strings.ToLower(rest)); c {
	case ClassAuthenticatedUsers, ClassIAPUsers:
		return c, true
	default:
		return "", false
	}
}

// ParsePrincipalID parses any supported principal string form.
func ParsePrincipalID(s string) (PrincipalID, bool) {
	if id, ok := ParseUserID(s); ok {
		return id, true
	}
	if id, ok := ParseGroupID(s); ok {
		return id, true
	}
	if id, ok := ParseServiceAccountID(s); ok {
		return id, true
	}
	if id, ok := ParseJitGroupID(s); ok {
		return id, true
	}
	if id, ok := ParseClassID(s); ok {
		return id, true
	}
	return nil, false
}

func validNamePart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// Principal pairs an identity with an optional membership expiry. A zero
// Expiry means the membership does not expire.
type Principal struct {
	ID     PrincipalID
	Expiry time.Time
}

// Valid reports whether the principal's membership is valid at t.
func (p Principal) Valid(t time.Time) bool {
	return p.Expiry.IsZero() || p.Expiry.After(t)
}
