package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopfabric/govern/core/plan"
)

// Status is the lifecycle state of a tenant account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

// ErrNotFound indicates the tenant does not exist in durable storage.
var ErrNotFound = errors.New("tenant_not_found")

// InactiveError indicates the tenant exists but is not serving traffic.
// Distinct from ErrNotFound so callers can render a different message.
type InactiveError struct {
	TenantID string
	Status   Status
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("tenant %s is %s", e.TenantID, e.Status)
}

// Record is the registry's view of a tenant account.
type Record struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Tier      plan.Tier         `json:"tier"`
	Status    Status            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Clone returns a deep copy so cached records cannot be mutated by callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Store is the durable tenant storage consumed by the registry. Load returns
// ErrNotFound (possibly wrapped) when no such tenant exists.
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
}
