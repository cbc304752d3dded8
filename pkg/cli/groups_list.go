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

	"github.com/jitgroups/broker/pkg/auth"
)

var _ cli.Command = (*GroupsListCommand)(nil)

// groupsLister lists the provisioned JIT groups of an environment.
type groupsLister interface {
	ProvisionedGroups(ctx context.Context, environment string) ([]auth.JitGroupID, error)
}

// GroupsListCommand lists the JIT groups of an environment that have a
// backing directory group.
type GroupsListCommand struct {
	cli.BaseCommand

	flagEnvironment string
	flagCustomer    string
	flagDomain      string

	// testLister is used for testing only.
	testLister groupsLister
}

func (c *GroupsListCommand) Desc() string {
	return `List the provisioned JIT groups of an environment`
}

func (c *GroupsListCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

List the provisioned JIT groups of an environment:

      jitbroker groups list -environment "prod" -customer "customers/C0123abcd" -domain "example.com"
`
}

func (c *GroupsListCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()

	// Command options
	f := set.NewSection("COMMAND OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "environment",
		Target:  &c.flagEnvironment,
		Example: "prod",
		Usage:   `The environment whose groups to list.`,
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

	return set
}

func (c *GroupsListCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	if c.flagEnvironment == "" {
		return fmt.Errorf("environment is required")
	}

	lister := c.testLister
	if lister == nil {
		if c.flagCustomer == "" || c.flagDomain == "" {
			return fmt.Errorf("customer and domain are required")
		}
		p, closer, err := newProvisioner(ctx, c.flagCustomer, c.flagDomain)
		if err != nil {
			if closer != nil {
				defer closer.Close()
			}
			return err
		}
		defer closer.Close()
		lister = p
	}

	return c.list(ctx, lister)
}

func (c *GroupsListCommand) list(ctx context.Context, lister groupsLister) error {
	groups, err := lister.ProvisionedGroups(ctx, c.flagEnvironment)
	if err != nil {
		return fmt.Errorf("failed to list groups of %q: %w", c.flagEnvironment, err)
	}

	printHeader(c.Stdout(), fmt.Sprintf("Provisioned Groups of %s", c.flagEnvironment))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, fmt.Sprintf("%s/%s/%s", g.Environment, g.System, g.Name))
	}
	if err := encodeYaml(c.Stdout(), ids); err != nil {
		return fmt.Errorf("failed to output groups: %w", err)
	}
	return nil
}
