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
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/posener/complete/v2/predict"
)

var _ cli.Command = (*ActivateRequestCommand)(nil)

// ActivateRequestCommand requests a group membership activation. Without
// reviewers the request is self-approved and provisions immediately; with
// reviewers it issues a signed approval token instead.
type ActivateRequestCommand struct {
	cli.BaseCommand

	flagGroup         string
	flagUser          string
	flagDuration      time.Duration
	flagJustification string
	flagInputs        string
	flagReviewers     string

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

func (c *ActivateRequestCommand) Desc() string {
	return `Request a just-in-time group membership activation`
}

func (c *ActivateRequestCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Activate a self-approved membership:

      jitbroker activate request -group "prod/payments/ops" -user "alice@example.com" \
        -duration "1h" -justification "incident 42" \
        -path "/path/to/policy.yaml" -customer "customers/C0123abcd" -domain "example.com" \
        -key-file "/path/to/key.pem"

Request a multi-party approval instead by naming reviewers:

      jitbroker activate request -group "prod/payments/ops" -user "alice@example.com" \
        -duration "1h" -justification "incident 42" -reviewers "bob@example.com" ...
`
}

func (c *ActivateRequestCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()

	// Command options
	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "group",
		Target:  &c.flagGroup,
		Example: "prod/payments/ops",
		Usage:   `The JIT group to activate, as "environment/system/name".`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "user",
		Target:  &c.flagUser,
		Example: "alice@example.com",
		Usage:   `The requesting user's email.`,
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "duration",
		Target:  &c.flagDuration,
		Example: "1h",
		Usage:   `The requested membership duration.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "justification",
		Target:  &c.flagJustification,
		Example: "incident 42",
		Usage:   `The justification for the activation.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "inputs",
		Target:  &c.flagInputs,
		Example: "ticket=JIRA-123",
		Usage:   `Comma separated key=value constraint inputs.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "reviewers",
		Target:  &c.flagReviewers,
		Example: "bob@example.com,carol@example.com",
		Usage:   `Comma separated reviewer emails. When set, a multi-party approval token is issued instead of activating immediately.`,
	})

	c.stackFlags(set)

	return set
}

// stackFlags declares the flags shared by the activate commands for building
// the production stack.
func (c *ActivateRequestCommand) stackFlags(set *cli.FlagSet) {
	f := set.NewSection("BROKER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "path",
		Target:  &c.flagPath,
		Example: "/path/to/file.yaml",
		Predict: predict.Files("*"),
		Usage:   `The path of the policy document file, in YAML format.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "customer",
		Target:  &c.flagCustomer,
		Example: "customers/C0123abcd",
		Usage:   `The Cloud Identity customer that owns the directory groups.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "domain",
		Target:  &c.flagDomain,
		Example: "example.com",
		Usage:   `The email domain of the directory groups.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "key-file",
		Target:  &c.flagKeyFile,
		Example: "/path/to/key.pem",
		Predict: predict.Files("*"),
		Usage:   `The path of the PEM encoded RSA token signing key.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "issuer",
		Target:  &c.flagIssuer,
		Default: "jitbroker",
		Usage:   `The token issuer.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "audience",
		Target:  &c.flagAudience,
		Default: "jitbroker",
		Usage:   `The token audience.`,
	})
}

func (c *ActivateRequestCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	if c.flagGroup == "" {
		return fmt.Errorf("group is required")
	}
	if c.flagUser == "" {
		return fmt.Errorf("user is required")
	}
	if c.flagDuration <= 0 {
		return fmt.Errorf("duration is required")
	}
	if c.flagJustification == "" {
		return fmt.Errorf("justification is required")
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

	return c.request(ctx, activator, resolver)
}

func (c *ActivateRequestCommand) request(ctx context.Context, activator activationService, resolver subjectResolver) error {
	group, err := parseGroupFlag(c.flagGroup)
	if err != nil {
		return err
	}
	user, err := parseUserFlag(c.flagUser)
	if err != nil {
		return err
	}
	inputs, err := parseInputsFlag(c.flagInputs)
	if err != nil {
		return err
	}
	reviewers, err := parseReviewersFlag(c.flagReviewers)
	if err != nil {
		return err
	}

	s, err := resolver.Resolve(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to resolve subject %q: %w", user.Email, err)
	}

	if len(reviewers) == 0 {
		req, err := activator.CreateJit(ctx, s, group, inputs, c.flagJustification, c.flagDuration)
		if err != nil {
			return fmt.Errorf("failed to activate membership: %w", err)
		}
		printHeader(c.Stdout(), "Activated Membership")
		if err := encodeYaml(c.Stdout(), newRequestOutput(req)); err != nil {
			return fmt.Errorf("failed to output request: %w", err)
		}
		return nil
	}

	pending, err := activator.CreateMpa(ctx, s, group, inputs, c.flagJustification, c.flagDuration, reviewers)
	if err != nil {
		return fmt.Errorf("failed to request approval: %w", err)
	}
	out := newRequestOutput(pending.Request)
	out.Token = pending.Token.Token
	printHeader(c.Stdout(), "Pending Approval Request")
	if err := encodeYaml(c.Stdout(), out); err != nil {
		return fmt.Errorf("failed to output request: %w", err)
	}
	return nil
}
