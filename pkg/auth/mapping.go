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
	"fmt"
	"regexp"
	"strings"
)

// Mapping is the bijection between logical JIT group ids and the backing
// directory group emails within a single domain. The forward direction is
// jit.<environment>.<system>.<name>@<domain>.
type Mapping struct {
	domain string
	re     *regexp.Regexp
}

// NewMapping creates a Mapping for the given email domain.
func NewMapping(domain string) (*Mapping, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("domain must not be empty")
	}
	re, err := regexp.Compile(`^jit\.([a-z0-9-]+)\.([a-z0-9-]+)\.([a-z0-9-]+)@` + regexp.QuoteMeta(domain) + `$`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile group email pattern: %w", err)
	}
	return &Mapping{domain: domain, re: re}, nil
}

// Domain returns the mapping's email domain.
func (m *Mapping) Domain() string {
	return m.domain
}

// GroupEmail returns the directory email backing the given JIT group.
func (m *Mapping) GroupEmail(id JitGroupID) string {
	return fmt.Sprintf("jit.%s.%s.%s@%s", id.Environment, id.System, id.Name, m.domain)
}

// JitGroupFromEmail is the inverse of GroupEmail.
func (m *Mapping) JitGroupFromEmail(email string) (JitGroupID, bool) {
	match := m.re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(email)))
	if match == nil {
		return JitGroupID{}, false
	}
	return JitGroupID{Environment: match[1], System: match[2], Name: match[3]}, true
}

// IsJitGroupEmail reports whether email names a JIT-backed directory group.
func (m *Mapping) IsJitGroupEmail(email string) bool {
	_, ok := m.JitGroupFromEmail(email)
	return ok
}

// EnvironmentPrefix returns the email prefix shared by all directory groups
// belonging to an environment.
func (m *Mapping) EnvironmentPrefix(environment string) string {
	return "jit." + strings.ToLower(environment) + "."
}
