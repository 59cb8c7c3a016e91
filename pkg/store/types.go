package store

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind distinguishes what an external-ID mapping points at.
type EntityKind string

const (
	EntityKindUser   EntityKind = "user"
	EntityKindTenant EntityKind = "tenant"
)

// Role represents tenant-level roles.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is a locally persisted user. The ID is generated locally and is never
// a provider-issued identifier.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tenant is a locally persisted tenant (organization).
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalIDMapping links an internally generated ID to a provider-issued
// one. (ProviderID, ExternalID) is unique. Keeping the two ID spaces fully
// decoupled is what lets the local system survive a provider migration.
type ExternalIDMapping struct {
	ID         int64      `json:"id"`
	InternalID uuid.UUID  `json:"internal_id"`
	ExternalID string     `json:"external_id"`
	EntityKind EntityKind `json:"entity_kind"`
	ProviderID uuid.UUID  `json:"provider_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Membership links a user to a tenant with a role.
type Membership struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile holds the display data created alongside a user.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Locale      string    `json:"locale,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FailureRecord is the persisted audit artifact written whenever a saga or
// reconciliation cycle fails after at least one forward side effect. It is
// the source of truth for manual reconciliation when compensation itself
// partially failed.
type FailureRecord struct {
	ID                    int64     `json:"id"`
	ExternalUserID        string    `json:"external_user_id,omitempty"`
	ExternalOrgID         string    `json:"external_org_id,omitempty"`
	Email                 string    `json:"email"`
	FirstName             string    `json:"first_name,omitempty"`
	LastName              string    `json:"last_name,omitempty"`
	Workflow              string    `json:"workflow"`
	ErrorMessage          string    `json:"error_message"`
	CompensationSucceeded bool      `json:"compensation_succeeded"`
	OccurredAt            time.Time `json:"occurred_at"`
}
