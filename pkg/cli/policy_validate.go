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

	"github.com/jitgroups/broker/apis/v1alpha1"
	"github.com/jitgroups/broker/pkg/policyutil"
)

var _ cli.Command = (*PolicyValidateCommand)(nil)

// PolicyValidateCommand validates policy documents.
type PolicyValidateCommand struct {
	cli.BaseCommand

	flagPath string
}

func (c *PolicyValidateCommand) Desc() string {
	return `Validate the policy document YAML file at the given path`
}

func (c *PolicyValidateCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

Validate the policy document YAML file at the given path:

      jitbroker policy validate -path "/path/to/file.yaml"
`
}

func (c *PolicyValidateCommand) Flags() *cli.FlagSet {
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

	return set
}

func (c *PolicyValidateCommand) Run(ctx context.Context, args []string) error {
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

	return c.validate(ctx)
}

func (c *PolicyValidateCommand) validate(_ context.Context) error {
	d, err := policyutil.ReadFromPath(c.flagPath)
	if err != nil {
		return fmt.Errorf("failed to read %T: %w", d, err)
	}

	if err := v1alpha1.ValidatePolicyDocument(d); err != nil {
		return fmt.Errorf("failed to validate %T: %w", d, err)
	}

	// Compiling catches what schema validation cannot, e.g. duplicate
	// sibling names and duplicate constraint names.
	if _, err := policyutil.LoadEnvironment(c.flagPath); err != nil {
		return fmt.Errorf("failed to compile policy document: %w", err)
	}
	c.Outf("Successfully validated policy document")

	return nil
}
