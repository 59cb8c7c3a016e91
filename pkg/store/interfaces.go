package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a create violates a uniqueness constraint,
// e.g. two onboarding requests racing on the same tenant domain. It surfaces
// as an ordinary forward-step failure and triggers normal compensation.
var ErrDuplicate = errors.New("store: duplicate")

// Store is the transactional store capability consumed by sagas and the
// reconciler. Reads run outside transactions; writes go through a Tx owned
// exclusively by the workflow invocation that opened it.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*Membership, error)
	CountTenantAdmins(ctx context.Context, tenantID uuid.UUID) (int, error)

	GetMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*ExternalIDMapping, error)
	GetMappingByInternalID(ctx context.Context, internalID uuid.UUID, kind EntityKind) (*ExternalIDMapping, error)

	RecordFailure(ctx context.Context, rec *FailureRecord) error
	PurgeFailuresBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tx is one open local transaction. Commit or Rollback must be called
// exactly once; Rollback after Commit is a no-op so it can sit in a defer.
type Tx interface {
	CreateUser(ctx context.Context, user *User) error
	CreateTenant(ctx context.Context, tenant *Tenant) error
	CreateMapping(ctx context.Context, mapping *ExternalIDMapping) error
	CreateMembership(ctx context.Context, membership *Membership) error
	CreateProfile(ctx context.Context, profile *Profile) error

	DeleteUser(ctx context.Context, id uuid.UUID) error
	DeleteMembershipsForUser(ctx context.Context, userID uuid.UUID) error
	DeleteProfile(ctx context.Context, userID uuid.UUID) error
	DeleteMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) error

	Commit() error
	Rollback() error
}
