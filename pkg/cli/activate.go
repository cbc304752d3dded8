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
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abcxyz/pkg/multicloser"

	"github.com/jitgroups/broker/pkg/activation"
	"github.com/jitgroups/broker/pkg/auth"
	"github.com/jitgroups/broker/pkg/catalog"
	"github.com/jitgroups/broker/pkg/policyutil"
	"github.com/jitgroups/broker/pkg/subject"
	"github.com/jitgroups/broker/pkg/token"
)

// activationService runs the activation flows.
type activationService interface {
	CreateJit(ctx context.Context, subject *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, justification string, duration time.Duration) (*activation.Request, error)
	CreateMpa(ctx context.Context, subject *auth.Subject, groupID auth.JitGroupID, inputs map[string]string, justification string, duration time.Duration, reviewers []auth.UserID) (*activation.Pending, error)
	ApproveMpa(ctx context.Context, approver *auth.Subject, rawToken string) (*activation.Request, error)
	Introspect(ctx context.Context, subject *auth.Subject, rawToken string) (*activation.Request, error)
}

// subjectResolver expands a user into the subject used for authorization.
type subjectResolver interface {
	Resolve(ctx context.Context, user auth.UserID) (*auth.Subject, error)
}

// activationStack bundles the collaborators of the activate commands.
type activationStack struct {
	activator activationService
	resolver  subjectResolver
	closer    *multicloser.Closer
}

// newActivationStack builds the production activation stack from the policy
// document at path, the Cloud Identity customer and domain, and the RSA
// signing key at keyFile.
func newActivationStack(ctx context.Context, path, customer, domain, keyFile, issuer, audience string) (*activationStack, error) {
	env, err := policyutil.LoadEnvironment(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy document: %w", err)
	}

	directoryClient, mapping, provisioner, closer, err := newClients(ctx, customer, domain)
	if err != nil {
		return nil, err
	}

	key, err := readSigningKey(keyFile)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to read signing key: %w", err), closer.Close())
	}
	signer, err := token.NewSigner(key, issuer, audience)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create token signer: %w", err), closer.Close())
	}

	activator, err := activation.NewActivator(catalog.New(env), provisioner, signer)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create activator: %w", err), closer.Close())
	}
	resolver, err := subject.NewResolver(directoryClient, mapping)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create subject resolver: %w", err), closer.Close())
	}

	return &activationStack{
		activator: activator,
		resolver:  resolver,
		closer:    closer,
	}, nil
}

// readSigningKey loads an RSA private key from a PEM file, accepting PKCS#1
// and PKCS#8 encodings.
func readSigningKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file at %q: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("file at %q holds no PEM block", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key at %q: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key at %q is %T, want *rsa.PrivateKey", path, parsed)
	}
	return key, nil
}

// parseGroupFlag accepts a group as "environment/system/name" or as the
// canonical "jit-group:" form.
func parseGroupFlag(s string) (auth.JitGroupID, error) {
	if id, ok := auth.ParseJitGroupID(s); ok {
		return id, nil
	}
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 3 {
		if id, ok := auth.ParseJitGroupID("jit-group:" + strings.Join(parts, ".")); ok {
			return id, nil
		}
	}
	return auth.JitGroupID{}, fmt.Errorf("group %q is not a valid group reference", s)
}

// parseUserFlag accepts a bare user email.
func parseUserFlag(s string) (auth.UserID, error) {
	user, ok := auth.ParseUserID("user:" + s)
	if !ok {
		return auth.UserID{}, fmt.Errorf("user %q is not a valid email", s)
	}
	return user, nil
}

// parseInputsFlag parses a comma separated list of key=value pairs.
func parseInputsFlag(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	inputs := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("input %q is not a key=value pair", pair)
		}
		inputs[k] = v
	}
	return inputs, nil
}

// parseReviewersFlag parses a comma separated list of reviewer emails.
func parseReviewersFlag(s string) ([]auth.UserID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var reviewers []auth.UserID
	for _, email := range strings.Split(s, ",") {
		rev, err := parseUserFlag(strings.TrimSpace(email))
		if err != nil {
			return nil, fmt.Errorf("reviewer %w", err)
		}
		reviewers = append(reviewers, rev)
	}
	return reviewers, nil
}

// requestOutput is the YAML rendering of an activation request.
type requestOutput struct {
	ID            string            `yaml:"id"`
	Kind          string            `yaml:"kind"`
	Requester     string            `yaml:"requester"`
	Group         string            `yaml:"group"`
	Justification string            `yaml:"justification,omitempty"`
	Start         string            `yaml:"start"`
	Duration      string            `yaml:"duration"`
	Expiry        string            `yaml:"expiry"`
	Reviewers     []string          `yaml:"reviewers,omitempty"`
	Inputs        map[string]string `yaml:"inputs,omitempty"`
	Token         string            `yaml:"token,omitempty"`
}

func newRequestOutput(r *activation.Request) *requestOutput {
	out := &requestOutput{
		ID:            r.ID,
		Kind:          string(r.Kind),
		Requester:     r.Requester.Email,
		Group:         fmt.Sprintf("%s/%s/%s", r.Group.Environment, r.Group.System, r.Group.Name),
		Justification: r.Justification,
		Start:         r.Start.Format(time.RFC3339),
		Duration:      r.Duration.String(),
		Expiry:        r.Expiry().Format(time.RFC3339),
		Inputs:        r.Inputs,
	}
	for _, rev := range r.Reviewers {
		out.Reviewers = append(out.Reviewers, rev.Email)
	}
	return out
}
