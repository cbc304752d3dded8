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
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/posener/complete/v2/predict"
)

var _ cli.Command = (*ActivateApproveCommand)(nil)

// ActivateApproveCommand approves a pending multi-party activation token and
// provisions the requester's membership.
type ActivateApproveCommand struct {
	cli.BaseCommand

	flagToken string
	flagUser  string

	flagPath     string
	flagCustomer string
	flagDomain   string
	flagKeyFile  string
	flagIssuer   string
	flagAudience string

	// test seams, used for testing only.
	testActivator activationService
	testResolver  subjectResolver
}

func (c *ActivateApproveCommand) Desc() string {
	return `Approve a pending multi-party activation token`
}

func (c *ActivateApproveCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Approve a pending activation as one of its reviewers:

      jitbroker activate approve -token "eyJhb..." -user "bob@example.com" \
        -path "/path/to/policy.yaml" -customer "customers/C0123abcd" -domain "example.com" \
        -key-file "/path/to/key.pem"
`
}

func (c *ActivateApproveCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()

	// Command options
	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "token",
		Target:  &c.flagToken,
		Example: "eyJhb...",
		Usage:   `The pending activation token to approve.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "user",
		Target:  &c.flagUser,
		Example: "bob@example.com",
		Usage:   `The approving reviewer's email.`,
	})

	b := set.NewSection("BROKER OPTIONS")

	b.StringVar(&cli.StringVar{
		Name:    "path",
		Target:  &c.flagPath,
		Example: "/path/to/file.yaml",
		Predict: predict.Files("*"),
		Usage:   `The path of the policy document file, in YAML format.`,
	})

	b.StringVar(&cli.StringVar{
		Name:    "customer",
		Target:  &c.flagCustomer,
		Example: "customers/C0123abcd",
		Usage:   `The Cloud Identity customer that owns the directory groups.`,
	})

	b.StringVar(&cli.StringVar{
		Name:    "domain",
		Target:  &c.flagDomain,
		Example: "example.com",
		Usage:   `The email domain of the directory groups.`,
	})

	b.StringVar(&cli.StringVar{
		Name:    "key-file",
		Target:  &c.flagKeyFile,
		Example: "/path/to/key.pem",
		Predict: predict.Files("*"),
		Usage:   `The path of the PEM encoded RSA token signing key.`,
	})

	b.StringVar(&cli.StringVar{
		Name:    "issuer",
		Target:  &c.flagIssuer,
		Default: "jitbroker",
		Usage:   `The token issuer.`,
	})

	b.StringVar(&cli.StringVar{
		Name:    "audience",
		Target:  &c.flagAudience,
		Default: "jitbroker",
		Usage:   `The token audience.`,
	})

	return set
}

func (c *ActivateApproveCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	if c.flagToken == "" {
		return fmt.Errorf("token is required")
	}
	if c.flagUser == "" {
		return fmt.Errorf("user is required")
	}

	activator, resolver := c.testActivator, c.testResolver
	if activator == nil {
		stack, err := newActivationStack(ctx, c.flagPath, c.flagCustomer, c.flagDomain, c.flagKeyFile, c.flagIssuer, c.flagAudience)
		if err != nil {
			return err
		}
		defer stack.closer.Close()
		activator, resolver = stack.activator, stack.resolver
	}

	return c.approve(ctx, activator, resolver)
}

func (c *ActivateApproveCommand) approve(ctx context.Context, activator activationService, resolver subjectResolver) error {
	user, err := parseUserFlag(c.flagUser)
	if err != nil {
		return err
	}
	s, err := resolver.Resolve(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to resolve subject %q: %w", user.Email, err)
	}

	req, err := activator.ApproveMpa(ctx, s, c.flagToken)
	if err != nil {
		return fmt.Errorf("failed to approve activation: %w", err)
	}

	printHeader(c.Stdout(), "Approved Activation")
	if err := encodeYaml(c.Stdout(), newRequestOutput(req)); err != nil {
		return fmt.Errorf("failed to output request: %w", err)
	}
	return nil
}
