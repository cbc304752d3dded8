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

// Package cli implements the commands for the jitbroker CLI.
package cli

import (
	"context"

	"github.com/abcxyz/pkg/cli"
	"github.com/jitgroups/broker/internal/version"
)

// RootCmd defines the starting command structure.
var RootCmd = func() cli.Command {
	return &cli.RootCommand{
		Name:    "jitbroker",
		Version: version.HumanVersion,
		Commands: map[string]cli.CommandFactory{
			"activate": func() cli.Command {
				return &cli.RootCommand{
					Name:        "activate",
					Description: "Request, approve, and inspect membership activations",
					Commands: map[string]cli.CommandFactory{
						"request": func() cli.Command {
							return &ActivateRequestCommand{}
						},
						"approve": func() cli.Command {
							return &ActivateApproveCommand{}
						},
						"introspect": func() cli.Command {
							return &ActivateIntrospectCommand{}
						},
					},
				}
			},
			"policy": func() cli.Command {
				return &cli.RootCommand{
					Name:        "policy",
					Description: "Inspect and validate policy documents",
					Commands: map[string]cli.CommandFactory{
						"validate": func() cli.Command {
							return &PolicyValidateCommand{}
						},
					},
				}
			},
			"groups": func() cli.Command {
				return &cli.RootCommand{
					Name:        "groups",
					Description: "Inspect and reconcile provisioned JIT groups",
					Commands: map[string]cli.CommandFactory{
						"list": func() cli.Command {
							return &GroupsListCommand{}
						},
						"reconcile": func() cli.Command {
							return &GroupsReconcileCommand{}
						},
					},
				}
			},
		},
	}
}

// Run executes the CLI.
func Run(ctx context.Context, args []string) error {
	return RootCmd().Run(ctx, args) //nolint:wrapcheck // Want passthrough
}
