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

// Package notify delivers activation lifecycle notifications. Delivery is
// best effort, a failed dispatch never fails the operation that triggered it.
package notify

import (
	"context"

	"github.com/jitgroups/broker/pkg/auth"
)

// Type identifies the lifecycle event a notification reports.
type Type string

const (
	// TypeApprovalRequested asks reviewers to act on a pending request.
	TypeApprovalRequested = Type("approval-requested")

	// TypeActivated tells the requester their membership is active.
	TypeActivated = Type("activated")

	// TypeApproved tells the requester a reviewer approved their request.
	TypeApproved = Type("approved")
)

// Notification is one lifecycle event addressed to a set of recipients.
type Notification struct {
	// Type of the event.
	Type Type

	// Recipients to deliver to.
	Recipients []auth.UserID

	// Requester is the user whose activation the event concerns.
	Requester auth.UserID

	// Group the activation targets.
	Group auth.JitGroupID

	// RequestID identifies the activation request.
	RequestID string

	// Justification given by the requester.
	Justification string
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	// Dispatch delivers one notification.
	Dispatch(ctx context.Context, n *Notification) error
}

// Discard is a Dispatcher that drops every notification.
type Discard struct{}

// Dispatch implements Dispatcher.
func (Discard) Dispatch(_ context.Context, _ *Notification) error { return nil }
