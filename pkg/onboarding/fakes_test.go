package onboarding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/store"
)

// fakeProvider is an in-memory identity.Client with per-method error
// injection. findOrgFailures fails the first N FindOrganizationByDomain
// calls, for exercising the created-but-not-refetched compensation path.
type fakeProvider struct {
	nextID int

	usersByID    map[string]*identity.ExternalUser
	usersByEmail map[string]*identity.ExternalUser
	orgsByDomain map[string]*identity.ExternalOrganization
	links        map[string]bool

	createRequests []identity.NewUser
	deletedUsers   []string
	deletedOrgs    []string
	removedLinks   []string

	createUserErr   error
	createOrgErr    error
	addUserErr      error
	deleteUserErr   error
	findOrgFailures int

	events []identity.RegistrationEvent
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		usersByID:    make(map[string]*identity.ExternalUser),
		usersByEmail: make(map[string]*identity.ExternalUser),
		orgsByDomain: make(map[string]*identity.ExternalOrganization),
		links:        make(map[string]bool),
	}
}

func (p *fakeProvider) addUser(id, email string) *identity.ExternalUser {
	u := &identity.ExternalUser{ID: id, Email: email, Active: true}
	p.usersByID[id] = u
	p.usersByEmail[email] = u
	return u
}

func (p *fakeProvider) CreateUser(ctx context.Context, user identity.NewUser) (*identity.ExternalUser, error) {
	p.createRequests = append(p.createRequests, user)
	if p.createUserErr != nil {
		return nil, p.createUserErr
	}
	p.nextID++
	u := &identity.ExternalUser{
		ID:        fmt.Sprintf("ext-user-%d", p.nextID),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Active:    true,
	}
	p.usersByID[u.ID] = u
	p.usersByEmail[u.Email] = u
	return u, nil
}

func (p *fakeProvider) GetUser(ctx context.Context, externalID string) (*identity.ExternalUser, error) {
	u, ok := p.usersByID[externalID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (p *fakeProvider) FindUserByEmail(ctx context.Context, email string) (*identity.ExternalUser, error) {
	u, ok := p.usersByEmail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (p *fakeProvider) DeleteUser(ctx context.Context, externalID string) error {
	if p.deleteUserErr != nil {
		return p.deleteUserErr
	}
	p.deletedUsers = append(p.deletedUsers, externalID)
	if u, ok := p.usersByID[externalID]; ok {
		delete(p.usersByEmail, u.Email)
		delete(p.usersByID, externalID)
	}
	return nil
}

func (p *fakeProvider) CreateOrganization(ctx context.Context, org identity.NewOrganization) error {
	if p.createOrgErr != nil {
		return p.createOrgErr
	}
	p.nextID++
	p.orgsByDomain[org.Domain] = &identity.ExternalOrganization{
		ID:     fmt.Sprintf("ext-org-%d", p.nextID),
		Name:   org.Name,
		Domain: org.Domain,
	}
	return nil
}

func (p *fakeProvider) FindOrganizationByDomain(ctx context.Context, domain string) (*identity.ExternalOrganization, error) {
	if p.findOrgFailures > 0 {
		p.findOrgFailures--
		return nil, fmt.Errorf("provider temporarily unavailable")
	}
	org, ok := p.orgsByDomain[domain]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return org, nil
}

func (p *fakeProvider) DeleteOrganization(ctx context.Context, externalID string) error {
	p.deletedOrgs = append(p.deletedOrgs, externalID)
	for domain, org := range p.orgsByDomain {
		if org.ID == externalID {
			delete(p.orgsByDomain, domain)
		}
	}
	return nil
}

func (p *fakeProvider) AddUserToOrganization(ctx context.Context, userID, orgID string) error {
	if p.addUserErr != nil {
		return p.addUserErr
	}
	p.links[userID+"|"+orgID] = true
	return nil
}

func (p *fakeProvider) RemoveUserFromOrganization(ctx context.Context, userID, orgID string) error {
	p.removedLinks = append(p.removedLinks, userID+"|"+orgID)
	delete(p.links, userID+"|"+orgID)
	return nil
}

func (p *fakeProvider) ListRecentRegistrationEvents(ctx context.Context, window time.Duration) ([]identity.RegistrationEvent, error) {
	return p.events, nil
}

// fakeTx records every write in order and supports error injection per
// operation plus on Commit.
type fakeTx struct {
	ops []string

	users       []*store.User
	tenants     []*store.Tenant
	mappings    []*store.ExternalIDMapping
	memberships []*store.Membership
	profiles    []*store.Profile

	committed  bool
	rolledBack bool

	createUserErr       error
	createTenantErr     error
	createMappingErr    error
	createMembershipErr error
	createProfileErr    error
	deleteUserErr       error
	commitErr           error
}

func (t *fakeTx) CreateUser(ctx context.Context, user *store.User) error {
	t.ops = append(t.ops, "create_user")
	if t.createUserErr != nil {
		return t.createUserErr
	}
	t.users = append(t.users, user)
	return nil
}

func (t *fakeTx) CreateTenant(ctx context.Context, tenant *store.Tenant) error {
	t.ops = append(t.ops, "create_tenant")
	if t.createTenantErr != nil {
		return t.createTenantErr
	}
	t.tenants = append(t.tenants, tenant)
	return nil
}

func (t *fakeTx) CreateMapping(ctx context.Context, mapping *store.ExternalIDMapping) error {
	t.ops = append(t.ops, "create_mapping")
	if t.createMappingErr != nil {
		return t.createMappingErr
	}
	t.mappings = append(t.mappings, mapping)
	return nil
}

func (t *fakeTx) CreateMembership(ctx context.Context, membership *store.Membership) error {
	t.ops = append(t.ops, "create_membership")
	if t.createMembershipErr != nil {
		return t.createMembershipErr
	}
	t.memberships = append(t.memberships, membership)
	return nil
}

func (t *fakeTx) CreateProfile(ctx context.Context, profile *store.Profile) error {
	t.ops = append(t.ops, "create_profile")
	if t.createProfileErr != nil {
		return t.createProfileErr
	}
	t.profiles = append(t.profiles, profile)
	return nil
}

func (t *fakeTx) DeleteUser(ctx context.Context, id uuid.UUID) error {
	t.ops = append(t.ops, "delete_user")
	return t.deleteUserErr
}

func (t *fakeTx) DeleteMembershipsForUser(ctx context.Context, userID uuid.UUID) error {
	t.ops = append(t.ops, "delete_memberships")
	return nil
}

func (t *fakeTx) DeleteProfile(ctx context.Context, userID uuid.UUID) error {
	t.ops = append(t.ops, "delete_profile")
	return nil
}

func (t *fakeTx) DeleteMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) error {
	t.ops = append(t.ops, "delete_mapping")
	return nil
}

func (t *fakeTx) Commit() error {
	t.ops = append(t.ops, "commit")
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.committed {
		return nil
	}
	t.ops = append(t.ops, "rollback")
	t.rolledBack = true
	return nil
}

// fakeStore is an in-memory store.Store. Begin hands out the preconfigured
// tx so tests can inspect it afterwards.
type fakeStore struct {
	tx       *fakeTx
	beginErr error

	// honorCtx makes the fake fail like a real database/sql store would
	// when the caller's context is already cancelled.
	honorCtx bool

	users       map[uuid.UUID]*store.User
	tenants     map[uuid.UUID]*store.Tenant
	memberships map[string]*store.Membership
	mappings    map[string]*store.ExternalIDMapping
	adminCounts map[uuid.UUID]int

	failures []*store.FailureRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tx:          &fakeTx{},
		users:       make(map[uuid.UUID]*store.User),
		tenants:     make(map[uuid.UUID]*store.Tenant),
		memberships: make(map[string]*store.Membership),
		mappings:    make(map[string]*store.ExternalIDMapping),
		adminCounts: make(map[uuid.UUID]int),
	}
}

func (s *fakeStore) addMapping(providerID uuid.UUID, externalID string, internalID uuid.UUID, kind store.EntityKind) {
	s.mappings[providerID.String()+"|"+externalID] = &store.ExternalIDMapping{
		InternalID: internalID,
		ExternalID: externalID,
		EntityKind: kind,
		ProviderID: providerID,
	}
}

func (s *fakeStore) Begin(ctx context.Context) (store.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return s.tx, nil
}

func (s *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*store.Membership, error) {
	m, ok := s.memberships[userID.String()+"|"+tenantID.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) CountTenantAdmins(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.adminCounts[tenantID], nil
}

func (s *fakeStore) GetMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*store.ExternalIDMapping, error) {
	m, ok := s.mappings[providerID.String()+"|"+externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) GetMappingByInternalID(ctx context.Context, internalID uuid.UUID, kind store.EntityKind) (*store.ExternalIDMapping, error) {
	for _, m := range s.mappings {
		if m.InternalID == internalID && m.EntityKind == kind {
			return m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) RecordFailure(ctx context.Context, rec *store.FailureRecord) error {
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	s.failures = append(s.failures, rec)
	return nil
}

func (s *fakeStore) PurgeFailuresBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := s.failures[:0]
	var purged int64
	for _, f := range s.failures {
		if f.OccurredAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, f)
	}
	s.failures = kept
	return purged, nil
}
