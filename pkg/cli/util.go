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
	"io"

	"github.com/abcxyz/pkg/multicloser"
	"gopkg.in/yaml.v3"

	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/directory"
	"github.com/jitgroups/broker/pkg/iamclient"
	"github.com/jitgroups/broker/pkg/provision"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
)

// encodeYaml writes YAML encoding of v to w.
func encodeYaml(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode to yaml: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close yaml encoder: %w", err)
	}

	return nil
}

// printHeader prints the header to w.
func printHeader(w io.Writer, header string) {
	fmt.Fprintf(w, "------%s------\n", header)
}

// newProvisioner builds a Provisioner backed by the Cloud Identity and
// resource manager APIs.
func newProvisioner(ctx context.Context, customer, domain string) (*provision.Provisioner, *multicloser.Closer, error) {
	_, _, p, closer, err := newClients(ctx, customer, domain)
	return p, closer, err
}

// newClients builds the directory, mapping, and provisioning collaborators
// shared by the commands that talk to GCP.
func newClients(ctx context.Context, customer, domain string) (directory.Client, *auth.Mapping, *provision.Provisioner, *multicloser.Closer, error) {
	var closer *multicloser.Closer

	directoryClient, err := directory.NewCloudIdentityClient(ctx, customer)
	if err != nil {
		return nil, nil, nil, closer, fmt.Errorf("failed to create directory client: %w", err)
	}

	projectsClient, err := resourcemanager.NewProjectsClient(ctx)
	if err != nil {
		return nil, nil, nil, closer, fmt.Errorf("failed to create projects client: %w", err)
	}
	closer = multicloser.Append(closer, projectsClient.Close)

	iamClient, err := iamclient.NewResourceClient(projectsClient)
	if err != nil {
		return nil, nil, nil, closer, fmt.Errorf("failed to create IAM client: %w", err)
	}

	mapping, err := auth.NewMapping(domain)
	if err != nil {
		return nil, nil, nil, closer, fmt.Errorf("failed to create group mapping: %w", err)
	}

	p, err := provision.NewProvisioner(directoryClient, iamClient, mapping)
	if err != nil {
		return nil, nil, nil, closer, fmt.Errorf("failed to create provisioner: %w", err)
	}
	return directoryClient, mapping, p, closer, nil
}
