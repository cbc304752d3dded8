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

// Package errs defines the error kinds surfaced by the broker core. All
// errors returned by the core wrap exactly one of these sentinels so callers
// can classify failures with errors.Is without string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a malformed principal, an out-of-range
	// duration, or a missing required constraint input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated indicates an external client reported missing
	// credentials.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrAccessDenied indicates the subject lacked a required permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrConstraintUnsatisfied indicates one or more constraint checks
	// returned false.
	ErrConstraintUnsatisfied = errors.New("constraint unsatisfied")

	// ErrConstraintFailed indicates one or more constraint checks errored
	// during evaluation.
	ErrConstraintFailed = errors.New("constraint evaluation failed")

	// ErrNotFound indicates an environment, system, or group name did not
	// resolve for the subject.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates optimistic concurrency was exhausted on an IAM
	// policy write.
	ErrConflict = errors.New("conflict")

	// ErrTokenInvalid indicates an activation token was malformed, carried a
	// bad signature, or named the wrong issuer or audience.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired indicates an activation token was past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrUpstream indicates any other external failure.
	ErrUpstream = errors.New("upstream error")
)

// ConstraintUnsatisfiedError names the first constraint whose check returned
// false. It unwraps to ErrConstraintUnsatisfied.
type ConstraintUnsatisfiedError struct {
	// Name is the constraint name within its class.
	Name string

	// DisplayName is the human readable constraint name.
	DisplayName string
}

func (e *ConstraintUnsatisfiedError) Error() string {
	name := e.DisplayName
	if name == "" {
		name = e.Name
	}
	return fmt.Sprintf("constraint %q unsatisfied", name)
}

func (e *ConstraintUnsatisfiedError) Unwrap() error {
	return ErrConstraintUnsatisfied
}
