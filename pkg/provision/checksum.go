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

package provision

import (
	"fmt"
	"hash/crc32"
	"regexp"
	"strconv"
	"strings"

	"github.com/jitgroups/broker/pkg/policy"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// checksumRE matches the checksum suffix embedded in a group description.
var checksumRE = regexp.MustCompile(`#[0-9a-f]{8}$`)

// Checksum computes the order-independent checksum of the declared IAM role
// bindings. An empty set hashes to zero.
func Checksum(bindings []policy.IamRoleBinding) uint32 {
	var sum uint32
	for _, b := range bindings {
		// Fields are quoted so boundary shifts between them cannot collide.
		s := fmt.Sprintf("%q %q %q %q", b.Resource, b.Role, b.Condition, b.Description)
		sum ^= crc32.Checksum([]byte(s), crcTable)
	}
	return sum
}

// parseChecksum reads the checksum suffix from a group description, zero when
// absent.
func parseChecksum(description string) uint32 {
	match := checksumRE.FindString(strings.TrimSpace(description))
	if match == "" {
		return 0
	}
	n, err := strconv.ParseUint(match[1:], 16, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// embedChecksum writes the checksum suffix into a group description,
// replacing a prior suffix in place or appending one.
func embedChecksum(description string, sum uint32) string {
	suffix := fmt.Sprintf("#%08x", sum)
	trimmed := strings.TrimSpace(description)
	if checksumRE.MatchString(trimmed) {
		return checksumRE.ReplaceAllString(trimmed, suffix)
	}
	if trimmed == "" {
		return suffix
	}
	return trimmed + " " + suffix
}
