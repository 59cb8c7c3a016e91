package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the provider has no record for the requested
// identifier. Delete operations on the Client never return it: the provider
// contract treats deleting an absent resource as success, which is what
// keeps compensations idempotent.
var ErrNotFound = errors.New("identity provider: not found")

// ExternalUser is a user account as the provider reports it. The ID is
// provider-issued and never equals an Onramp internal ID.
type ExternalUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Active    bool   `json:"active"`
}

// ExternalOrganization is an organization as the provider reports it.
type ExternalOrganization struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// NewUser describes a user to create in the provider.
type NewUser struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// RequirePasswordReset marks the account as needing a credential
	// reset before first login. Set when a deleted account is restored
	// from a snapshot: the original credentials are unrecoverable.
	RequirePasswordReset bool `json:"require_password_reset,omitempty"`
}

// NewOrganization describes an organization to create in the provider.
type NewOrganization struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// RegistrationEvent is a provider-side registration not originated by a
// saga, e.g. a self-service invite acceptance.
type RegistrationEvent struct {
	ExternalUserID string    `json:"external_user_id"`
	ExternalOrgID  string    `json:"external_org_id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Client is the consumed capability interface over the external identity
// provider. Implementations are stateless per call beyond the service
// credential; every method honors the caller's context deadline.
type Client interface {
	CreateUser(ctx context.Context, user NewUser) (*ExternalUser, error)
	GetUser(ctx context.Context, externalID string) (*ExternalUser, error)
	FindUserByEmail(ctx context.Context, email string) (*ExternalUser, error)
	// DeleteUser removes a user; deleting an unknown ID succeeds.
	DeleteUser(ctx context.Context, externalID string) error

	CreateOrganization(ctx context.Context, org NewOrganization) error
	FindOrganizationByDomain(ctx context.Context, domain string) (*ExternalOrganization, error)
	// DeleteOrganization removes an organization; unknown IDs succeed.
	DeleteOrganization(ctx context.Context, externalID string) error

	AddUserToOrganization(ctx context.Context, userID, orgID string) error
	RemoveUserFromOrganization(ctx context.Context, userID, orgID string) error

	// ListRecentRegistrationEvents returns registrations newer than the
	// given window. Callers poll with a window wider than their interval,
	// so overlap (and duplicate events) is expected.
	ListRecentRegistrationEvents(ctx context.Context, window time.Duration) ([]RegistrationEvent, error)
}
