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

	"github.com/jitgroups/broker/pkg/policy"
	"github.com/jitgroups/broker/pkg/policyutil"
)

var _ cli.Command = (*GroupsReconcileCommand)(nil)

// groupsReconciler re-runs IAM binding reconciliation for one group.
type groupsReconciler interface {
	Reconcile(ctx context.Context, group *policy.JitGroup) error
}

// GroupsReconcileCommand reconciles the IAM bindings of the JIT groups
// declared in a policy document.
type GroupsReconcileCommand struct {
	cli.BaseCommand

	flagPath     string
	flagCustomer string
	flagDomain   string

	// testReconciler is used for testing only.
	testReconciler groupsReconciler
}

func (c *GroupsReconcileCommand) Desc() string {
	return `Reconcile the IAM bindings of the groups in a policy document`
}

func (c *GroupsReconcileCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Reconcile the IAM bindings of every provisioned group declared in the policy
document at the given path:

      jitbroker groups reconcile -path "/path/to/file.yaml" -customer "customers/C0123abcd" -domain "example.com"
`
}

func (c *GroupsReconcileCommand) Flags() *cli.FlagSet {
	set := c.NewFlagSet()

	// Command options
	f := set.NewSection("COMMAND OPTIONS")

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

	return set
}

func (c *GroupsReconcileCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	if c.flagPath == "" {
		return fmt.Errorf("path is required")
	}

	reconciler := c.testReconciler
	if reconciler == nil {
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
		reconciler = p
	}

	return c.reconcile(ctx, reconciler)
}

func (c *GroupsReconcileCommand) reconcile(ctx context.Context, reconciler groupsReconciler) error {
	env, err := policyutil.LoadEnvironment(c.flagPath)
	if err != nil {
		return fmt.Errorf("failed to load policy document: %w", err)
	}

	var reconciled []string
	for _, sys := range env.Systems() {
		for _, group := range sys.Groups() {
			if err := reconciler.Reconcile(ctx, group); err != nil {
				return fmt.Errorf("failed to reconcile %s: %w", group.ID(), err)
			}
			reconciled = append(reconciled, fmt.Sprintf("%s/%s/%s", env.Name(), sys.Name(), group.Name()))
		}
	}

	printHeader(c.Stdout(), "Successfully Reconciled Groups")
	if err := encodeYaml(c.Stdout(), reconciled); err != nil {
		return fmt.Errorf("failed to output groups: %w", err)
	}
	return nil
}
