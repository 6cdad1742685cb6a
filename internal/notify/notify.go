// Package notify delivers the messages callers send after an incident
// transition. Delivery is best effort and never undoes a transition.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Notification kinds.
const (
	KindApprovalNeeded   = "approval_needed"
	KindIncidentApproved = "incident_approved"
	KindIncidentRejected = "incident_rejected"
)

type Notification struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	RecipientID string         `json:"recipient_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data"`
	CreatedAt   string         `json:"created_at"`
}

type Gateway interface {
	Send(ctx context.Context, n Notification) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, n Notification) error

func (f GatewayFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi sends to every gateway and joins their failures.
type Multi []Gateway

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, g := range m {
		if g == nil {
			continue
		}
		if err := g.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", g, err))
		}
	}
	return errors.Join(errs...)
}
