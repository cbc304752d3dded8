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

// Package v1alpha1 defines the YAML policy document schema.
package v1alpha1

// SchemaVersion is the document schema version this package understands.
const SchemaVersion = 1

// PolicyDocument is one environment policy file.
type PolicyDocument struct {
	// SchemaVersion of the document, must be 1.
	SchemaVersion int `yaml:"schemaVersion"`

	// Environment is the policy tree root.
	Environment *EnvironmentSpec `yaml:"environment"`
}

// EnvironmentSpec declares an environment and its systems.
type EnvironmentSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Access entries of the environment's own ACL. When empty, a default
	// entry grants VIEW to all authenticated users.
	Access []*AccessEntry `yaml:"access,omitempty"`

	// Constraints declared at environment scope, inherited by all groups.
	Constraints *ConstraintsSpec `yaml:"constraints,omitempty"`

	Systems []*SystemSpec `yaml:"systems,omitempty"`
}

// SystemSpec declares a system and its JIT groups.
type SystemSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Access      []*AccessEntry   `yaml:"access,omitempty"`
	Constraints *ConstraintsSpec `yaml:"constraints,omitempty"`

	Groups []*GroupSpec `yaml:"groups,omitempty"`
}

// GroupSpec declares a JIT group, its ACL, constraints, and the IAM role
// bindings its members receive.
type GroupSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Access      []*AccessEntry   `yaml:"access,omitempty"`
	Constraints *ConstraintsSpec `yaml:"constraints,omitempty"`

	Privileges []*PrivilegeSpec `yaml:"privileges,omitempty"`
}

// AccessEntry is one ACL entry. Exactly one of Allow or Deny names a
// permission, e.g. "JOIN" or "APPROVE_OTHERS".
type AccessEntry struct {
	// Principal in prefixed form, e.g. "user:alice@example.com",
	// "group:devs@example.com", or "class:authenticated-users".
	Principal string `yaml:"principal"`

	Allow string `yaml:"allow,omitempty"`
	Deny  string `yaml:"deny,omitempty"`
}

// ConstraintsSpec groups constraints by the operation they gate.
type ConstraintsSpec struct {
	Join    []*ConstraintSpec `yaml:"join,omitempty"`
	Approve []*ConstraintSpec `yaml:"approve,omitempty"`
}

// ConstraintSpec declares one constraint. Type selects the fields that
// apply: "expiry" uses Min and Max, "expression" uses Expression and
// Variables.
type ConstraintSpec struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName,omitempty"`

	// Min and Max are Go duration strings, e.g. "30m", "8h".
	Min string `yaml:"min,omitempty"`
	Max string `yaml:"max,omitempty"`

	// Expression is a CEL predicate over subject, group, and input.
	Expression string `yaml:"expression,omitempty"`

	Variables []*VariableSpec `yaml:"variables,omitempty"`
}

// VariableSpec declares a typed input variable of an expression constraint.
type VariableSpec struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName,omitempty"`

	// Type is one of "string", "int", "bool"; empty means "string".
	Type string `yaml:"type,omitempty"`

	MinLen int `yaml:"minLen,omitempty"`
	MaxLen int `yaml:"maxLen,omitempty"`

	Min int64 `yaml:"min,omitempty"`
	Max int64 `yaml:"max,omitempty"`
}

// PrivilegeSpec is one IAM role binding granted to the group's members.
type PrivilegeSpec struct {
	// Resource the role is granted on, e.g. "projects/my-project".
	Resource string `yaml:"resource"`

	// Role to grant, e.g. "roles/compute.viewer".
	Role string `yaml:"role"`

	// Condition is an optional CEL condition copied into the binding
	// verbatim.
	Condition string `yaml:"condition,omitempty"`

	// Description is an optional note, used as the condition title.
	Description string `yaml:"description,omitempty"`
}
