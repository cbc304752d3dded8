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

package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestPolicyValidateCommand(t *testing.T) {
	t.Parallel()

	// Set up policy document files.
	documentFileContentByName := map[string]string{
		"valid.yaml": `
schemaVersion: 1
environment:
  name: prod
  systems:
  - name: payments
    groups:
    - name: ops
      access:
      - principal: user:alice@example.com
        allow: JOIN
      constraints:
        join:
        - type: expiry
          name: expiry
          min: 30m
          max: 8h
`,
		"invalid.yaml": `
schemaVersion: 1
environment:
  name: prod
  systems:
  - name: payments
    groups:
    - name: ops
      access:
      - principal: alice@example.com
        allow: ADMIN
`,
		"duplicate-group.yaml": `
schemaVersion: 1
environment:
  name: prod
  systems:
  - name: payments
    groups:
    - name: ops
    - name: ops
`,
		"invalid-yaml.yaml": `bananas`,
	}
	dir := t.TempDir()
	for name, content := range documentFileContentByName {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name   string
		args   []string
		expOut string
		expErr string
	}{
		{
			name:   "success",
			args:   []string{"-path", filepath.Join(dir, "valid.yaml")},
			expOut: "Successfully validated policy document",
		},
		{
			name:   "invalid_document",
			args:   []string{"-path", filepath.Join(dir, "invalid.yaml")},
			expErr: "failed to validate *v1alpha1.PolicyDocument",
		},
		{
			name:   "duplicate_group_names",
			args:   []string{"-path", filepath.Join(dir, "duplicate-group.yaml")},
			expErr: "failed to compile policy document",
		},
		{
			name:   "invalid_yaml",
			args:   []string{"-path", filepath.Join(dir, "invalid-yaml.yaml")},
			expErr: "failed to read *v1alpha1.PolicyDocument",
		},
		{
			name:   "unexpected_args",
			args:   []string{"foo"},
			expErr: `unexpected arguments: ["foo"]`,
		},
		{
			name:   "missing_path",
			args:   []string{},
			expErr: `path is required`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			var cmd PolicyValidateCommand
			_, stdout, _ := cmd.Pipe()

			err := cmd.Run(ctx, append([]string{}, tc.args...))
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Errorf("Process(%+v) got error diff (-want, +got):\n%s", tc.name, diff)
			}
			if diff := cmp.Diff(strings.TrimSpace(tc.expOut), strings.TrimSpace(stdout.String())); diff != "" {
				t.Errorf("Process(%+v) got output diff (-want, +got):\n%s", tc.name, diff)
			}
		})
	}
}
