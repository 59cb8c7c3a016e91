package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Begin opens a local transaction owned by the calling workflow.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

// GetUser retrieves a user by internal ID.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, first_name, last_name, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetTenant retrieves a tenant by internal ID.
func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `
		SELECT id, name, domain, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	tenant := &Tenant{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.Domain,
		&tenant.IsActive, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// GetMembership retrieves the membership linking a user to a tenant.
func (s *PostgresStore) GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*Membership, error) {
	query := `
		SELECT id, user_id, tenant_id, role, created_at
		FROM memberships
		WHERE user_id = $1 AND tenant_id = $2
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, userID, tenantID).Scan(
		&m.ID, &m.UserID, &m.TenantID, &m.Role, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// CountTenantAdmins counts holders of the administrator role in a tenant.
func (s *PostgresStore) CountTenantAdmins(ctx context.Context, tenantID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM memberships
		WHERE tenant_id = $1 AND role = $2
	`
	var count int
	err := s.db.QueryRowContext(ctx, query, tenantID, RoleAdmin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tenant admins: %w", err)
	}
	return count, nil
}

// GetMappingByExternalID retrieves the mapping for a provider-issued ID.
func (s *PostgresStore) GetMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*ExternalIDMapping, error) {
	query := `
		SELECT id, internal_id, external_id, entity_kind, provider_id, created_at
		FROM external_id_mappings
		WHERE provider_id = $1 AND external_id = $2
	`
	return s.scanMapping(s.db.QueryRowContext(ctx, query, providerID, externalID))
}

// GetMappingByInternalID retrieves the mapping for a local entity.
func (s *PostgresStore) GetMappingByInternalID(ctx context.Context, internalID uuid.UUID, kind EntityKind) (*ExternalIDMapping, error) {
	query := `
		SELECT id, internal_id, external_id, entity_kind, provider_id, created_at
		FROM external_id_mappings
		WHERE internal_id = $1 AND entity_kind = $2
	`
	return s.scanMapping(s.db.QueryRowContext(ctx, query, internalID, kind))
}

func (s *PostgresStore) scanMapping(row *sql.Row) (*ExternalIDMapping, error) {
	m := &ExternalIDMapping{}
	err := row.Scan(&m.ID, &m.InternalID, &m.ExternalID, &m.EntityKind, &m.ProviderID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return m, nil
}

// postgresTx implements Tx over *sql.Tx.
type postgresTx struct {
	tx   *sql.Tx
	done bool
}

// CreateUser inserts a user row.
func (t *postgresTx) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		user.ID, user.Email, user.FirstName, user.LastName, user.IsActive).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return wrapWrite("failed to create user", err)
	}
	return nil
}

// CreateTenant inserts a tenant row.
func (t *postgresTx) CreateTenant(ctx context.Context, tenant *Tenant) error {
	query := `
		INSERT INTO tenants (id, name, domain, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Domain, tenant.IsActive).
		Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return wrapWrite("failed to create tenant", err)
	}
	return nil
}

// CreateMapping inserts an external-ID mapping row.
func (t *postgresTx) CreateMapping(ctx context.Context, mapping *ExternalIDMapping) error {
	query := `
		INSERT INTO external_id_mappings (internal_id, external_id, entity_kind, provider_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		mapping.InternalID, mapping.ExternalID, mapping.EntityKind, mapping.ProviderID).
		Scan(&mapping.ID, &mapping.CreatedAt)
	if err != nil {
		return wrapWrite("failed to create mapping", err)
	}
	return nil
}

// CreateMembership inserts a membership row.
func (t *postgresTx) CreateMembership(ctx context.Context, membership *Membership) error {
	query := `
		INSERT INTO memberships (user_id, tenant_id, role, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		membership.UserID, membership.TenantID, membership.Role).
		Scan(&membership.ID, &membership.CreatedAt)
	if err != nil {
		return wrapWrite("failed to create membership", err)
	}
	return nil
}

// CreateProfile inserts a profile row.
func (t *postgresTx) CreateProfile(ctx context.Context, profile *Profile) error {
	query := `
		INSERT INTO profiles (user_id, display_name, locale, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		profile.UserID, profile.DisplayName, profile.Locale).
		Scan(&profile.CreatedAt)
	if err != nil {
		return wrapWrite("failed to create profile", err)
	}
	return nil
}

// DeleteUser removes a user row.
func (t *postgresTx) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// DeleteMembershipsForUser removes all of a user's memberships.
func (t *postgresTx) DeleteMembershipsForUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	return nil
}

// DeleteProfile removes a user's profile row.
func (t *postgresTx) DeleteProfile(ctx context.Context, userID uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// DeleteMappingByExternalID removes a mapping row.
func (t *postgresTx) DeleteMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) error {
	query := `DELETE FROM external_id_mappings WHERE provider_id = $1 AND external_id = $2`
	if _, err := t.tx.ExecContext(ctx, query, providerID, externalID); err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// Commit commits the transaction.
func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.done = true
	return nil
}

// Rollback rolls the transaction back. After a successful Commit it is a
// no-op, so callers can keep it in a defer.
func (t *postgresTx) Rollback() error {
	if t.done {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// wrapWrite maps unique-constraint violations onto ErrDuplicate so callers
// can distinguish races on domains/emails from infrastructure failures.
func wrapWrite(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%s: %w", msg, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
