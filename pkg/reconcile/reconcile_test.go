package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/store"
)

var testProviderID = uuid.MustParse("8a7b6c5d-4e3f-2a1b-9c8d-7e6f5a4b3c2d")

// fakeProvider serves canned registration events and records deletes.
type fakeProvider struct {
	identity.Client

	events    []identity.RegistrationEvent
	listErr   error
	onList    func()
	listCalls int

	deletedUsers []string
	deleteErr    error

	// honorCtx makes the fake fail like a real HTTP client would when the
	// caller's context is already cancelled.
	honorCtx bool
}

func (p *fakeProvider) ListRecentRegistrationEvents(ctx context.Context, window time.Duration) ([]identity.RegistrationEvent, error) {
	p.listCalls++
	if p.onList != nil {
		p.onList()
	}
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.events, nil
}

func (p *fakeProvider) DeleteUser(ctx context.Context, externalID string) error {
	if p.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deletedUsers = append(p.deletedUsers, externalID)
	return nil
}

// fakeTx collects the writes one materialization performs.
type fakeTx struct {
	users       []*store.User
	mappings    []*store.ExternalIDMapping
	memberships []*store.Membership
	committed   bool
	rolledBack  bool
	commitErr   error
}

func (t *fakeTx) CreateUser(ctx context.Context, user *store.User) error {
	t.users = append(t.users, user)
	return nil
}

func (t *fakeTx) CreateTenant(ctx context.Context, tenant *store.Tenant) error { return nil }

func (t *fakeTx) CreateMapping(ctx context.Context, mapping *store.ExternalIDMapping) error {
	t.mappings = append(t.mappings, mapping)
	return nil
}

func (t *fakeTx) CreateMembership(ctx context.Context, membership *store.Membership) error {
	t.memberships = append(t.memberships, membership)
	return nil
}

func (t *fakeTx) CreateProfile(ctx context.Context, profile *store.Profile) error { return nil }
func (t *fakeTx) DeleteUser(ctx context.Context, id uuid.UUID) error              { return nil }
func (t *fakeTx) DeleteMembershipsForUser(ctx context.Context, id uuid.UUID) error {
	return nil
}
func (t *fakeTx) DeleteProfile(ctx context.Context, id uuid.UUID) error { return nil }
func (t *fakeTx) DeleteMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) error {
	return nil
}

func (t *fakeTx) Commit() error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// fakeStore answers mapping lookups from a map and counts them so tests can
// tell the cache fast path from the authoritative path.
type fakeStore struct {
	store.Store

	mappings      map[string]*store.ExternalIDMapping
	lookupCount   int
	onLookup      func()
	lookupErr     error
	txs           []*fakeTx
	failures      []*store.FailureRecord
	recordFailErr error

	// honorCtx makes Begin and RecordFailure fail like a real
	// database/sql store would on a cancelled context.
	honorCtx bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{mappings: make(map[string]*store.ExternalIDMapping)}
}

func (s *fakeStore) addMapping(externalID string, internalID uuid.UUID, kind store.EntityKind) {
	s.mappings[externalID] = &store.ExternalIDMapping{
		InternalID: internalID,
		ExternalID: externalID,
		EntityKind: kind,
		ProviderID: testProviderID,
	}
}

func (s *fakeStore) GetMappingByExternalID(ctx context.Context, providerID uuid.UUID, externalID string) (*store.ExternalIDMapping, error) {
	s.lookupCount++
	if s.onLookup != nil {
		s.onLookup()
	}
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	m, ok := s.mappings[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) Begin(ctx context.Context) (store.Tx, error) {
	if s.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	tx := &fakeTx{}
	s.txs = append(s.txs, tx)
	return tx, nil
}

func (s *fakeStore) RecordFailure(ctx context.Context, rec *store.FailureRecord) error {
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if s.recordFailErr != nil {
		return s.recordFailErr
	}
	s.failures = append(s.failures, rec)
	return nil
}

func testConfig() Config {
	return Config{
		Interval:   time.Minute,
		Window:     3 * time.Minute,
		ProviderID: testProviderID,
	}
}

func newTestReconciler(t *testing.T, provider *fakeProvider, st *fakeStore, lock CycleLock) *Reconciler {
	t.Helper()
	r, err := NewReconciler(provider, st, testConfig(), lock, nil, nil)
	require.NoError(t, err)
	return r
}

func event(userID, orgID, email string) identity.RegistrationEvent {
	return identity.RegistrationEvent{
		ExternalUserID: userID,
		ExternalOrgID:  orgID,
		Email:          email,
		Timestamp:      time.Now().UTC(),
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", testConfig(), ""},
		{"zero interval", Config{Window: time.Minute, ProviderID: testProviderID}, "interval"},
		{"window not wider than interval", Config{Interval: time.Minute, Window: time.Minute, ProviderID: testProviderID}, "window"},
		{"missing provider", Config{Interval: time.Minute, Window: 2 * time.Minute}, "provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReconciler_RunCycle_MaterializesNewRegistration(t *testing.T) {
	tenantID := uuid.New()
	st := newFakeStore()
	st.addMapping("ext-org-1", tenantID, store.EntityKindTenant)
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", "new@acme.test"),
	}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 1, Materialized: 1}, stats)

	require.Len(t, st.txs, 1)
	tx := st.txs[0]
	assert.True(t, tx.committed)
	require.Len(t, tx.users, 1)
	assert.Equal(t, "new@acme.test", tx.users[0].Email)
	require.Len(t, tx.mappings, 1)
	assert.Equal(t, "ext-user-1", tx.mappings[0].ExternalID)
	assert.Equal(t, testProviderID, tx.mappings[0].ProviderID)
	require.Len(t, tx.memberships, 1)
	assert.Equal(t, tenantID, tx.memberships[0].TenantID)
	assert.Equal(t, store.RoleMember, tx.memberships[0].Role)

	assert.Empty(t, st.failures)
}

func TestReconciler_RunCycle_SkipsAlreadyMaterialized(t *testing.T) {
	st := newFakeStore()
	st.addMapping("ext-user-1", uuid.New(), store.EntityKindUser)
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", "dup@acme.test"),
	}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 1, Skipped: 1}, stats)
	assert.Empty(t, st.txs)
}

func TestReconciler_RunCycle_DedupCacheShortCircuitsSecondCycle(t *testing.T) {
	st := newFakeStore()
	st.addMapping("ext-user-1", uuid.New(), store.EntityKindUser)
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", "dup@acme.test"),
	}}
	r := newTestReconciler(t, provider, st, nil)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	lookupsAfterFirst := st.lookupCount
	assert.Equal(t, 1, lookupsAfterFirst)

	// Overlapping window redelivers the same event; the cache answers and
	// the store is not consulted again.
	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 1, Skipped: 1}, stats)
	assert.Equal(t, lookupsAfterFirst, st.lookupCount)
}

func TestReconciler_RunCycle_DuplicateWithinOneCycle(t *testing.T) {
	tenantID := uuid.New()
	st := newFakeStore()
	st.addMapping("ext-org-1", tenantID, store.EntityKindTenant)
	dup := event("ext-user-1", "ext-org-1", "new@acme.test")
	provider := &fakeProvider{events: []identity.RegistrationEvent{dup, dup}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 2, Materialized: 1, Skipped: 1}, stats)
	assert.Len(t, st.txs, 1)
}

func TestReconciler_RunCycle_InvalidEventFailsWithoutSideEffects(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", ""), // missing email
		event("", "ext-org-1", "a@b.c"),      // missing user ID
		event("ext-user-2", "", "c@d.e"),     // missing org ID
	}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 3, Failed: 3}, stats)

	// Validation failures happen before any side effect: no transactions,
	// no compensating deletes, no failure records.
	assert.Empty(t, st.txs)
	assert.Empty(t, provider.deletedUsers)
	assert.Empty(t, st.failures)
}

func TestReconciler_RunCycle_MaterializeFailureCompensates(t *testing.T) {
	st := newFakeStore() // no org mapping: materialization fails
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-unmapped", "new@acme.test"),
	}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 1, Failed: 1}, stats)

	// The provider account is removed so the registration is
	// re-deliverable once the org mapping exists.
	assert.Equal(t, []string{"ext-user-1"}, provider.deletedUsers)

	require.Len(t, st.failures, 1)
	rec := st.failures[0]
	assert.Equal(t, "reconcile_registration", rec.Workflow)
	assert.Equal(t, "ext-user-1", rec.ExternalUserID)
	assert.Equal(t, "ext-org-unmapped", rec.ExternalOrgID)
	assert.True(t, rec.CompensationSucceeded)
}

func TestReconciler_RunCycle_FailedCompensationIsRecorded(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		events:    []identity.RegistrationEvent{event("ext-user-1", "ext-org-unmapped", "new@acme.test")},
		deleteErr: errors.New("provider down"),
	}
	r := newTestReconciler(t, provider, st, nil)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, st.failures, 1)
	assert.False(t, st.failures[0].CompensationSucceeded)
}

func TestReconciler_RunCycle_FetchErrorFailsCycle(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{listErr: errors.New("provider down")}
	r := newTestReconciler(t, provider, st, nil)

	_, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch registration events")
}

func TestReconciler_RunCycle_LookupErrorLeavesEventForNextCycle(t *testing.T) {
	st := newFakeStore()
	st.lookupErr = errors.New("connection reset")
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", "new@acme.test"),
	}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 1, Failed: 1}, stats)

	// The event was not cached: the next cycle gets a fresh attempt.
	assert.Empty(t, st.txs)
	assert.Empty(t, provider.deletedUsers)
}

func TestReconciler_RunCycle_CancellationFinishesCurrentEvent(t *testing.T) {
	tenantID := uuid.New()
	st := newFakeStore()
	st.addMapping("ext-org-1", tenantID, store.EntityKindTenant)

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel while the first event is being looked up; the event in flight
	// completes, the remaining two are left for the next run.
	st.onLookup = func() { cancel() }

	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", "a@acme.test"),
		event("ext-user-2", "ext-org-1", "b@acme.test"),
		event("ext-user-3", "ext-org-1", "c@acme.test"),
	}}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 1, stats.Materialized)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
}

func TestReconciler_RunCycle_EventCleanupSurvivesCancelledContext(t *testing.T) {
	tenantID := uuid.New()
	st := newFakeStore()
	st.honorCtx = true
	st.addMapping("ext-org-1", tenantID, store.EntityKindTenant)

	// Cancel while the event's mapping lookup is in flight. The store and
	// provider honor the context, so the materialization itself fails;
	// the compensating delete and the failure record must not.
	ctx, cancel := context.WithCancel(context.Background())
	st.onLookup = func() { cancel() }

	provider := &fakeProvider{
		honorCtx: true,
		events:   []identity.RegistrationEvent{event("ext-user-1", "ext-org-1", "a@acme.test")},
	}
	r := newTestReconciler(t, provider, st, nil)

	stats, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	require.Len(t, provider.deletedUsers, 1)
	assert.Equal(t, "ext-user-1", provider.deletedUsers[0])

	require.Len(t, st.failures, 1)
	rec := st.failures[0]
	assert.Equal(t, "reconcile_registration", rec.Workflow)
	assert.Equal(t, "a@acme.test", rec.Email)
	assert.True(t, rec.CompensationSucceeded)
}

func TestReconciler_Run_StopsOnCancellation(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{}

	ctx, cancel := context.WithCancel(context.Background())
	// The first cycle's fetch cancels the context; Run must observe it and
	// return without starting another cycle.
	provider.onList = func() { cancel() }

	cfg := Config{
		Interval:   5 * time.Millisecond,
		Window:     20 * time.Millisecond,
		ProviderID: testProviderID,
	}
	r, err := NewReconciler(provider, st, cfg, nil, nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop after cancellation")
	}
	assert.Equal(t, 1, provider.listCalls)
}

// stubLock is a CycleLock with a scripted answer.
type stubLock struct {
	held     bool
	err      error
	acquired int
	released int
}

func (l *stubLock) Acquire(ctx context.Context) (bool, func(), error) {
	l.acquired++
	if l.err != nil {
		return false, nil, l.err
	}
	if !l.held {
		return false, nil, nil
	}
	return true, func() { l.released++ }, nil
}

func TestReconciler_RunCycle_SkipsWhenFleetLockHeldElsewhere(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{events: []identity.RegistrationEvent{
		event("ext-user-1", "ext-org-1", "new@acme.test"),
	}}
	lock := &stubLock{held: false}
	r := newTestReconciler(t, provider, st, lock)

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 0, lock.released)
}

func TestReconciler_RunCycle_ReleasesFleetLock(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{}
	lock := &stubLock{held: true}
	r := newTestReconciler(t, provider, st, lock)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lock.released)
}

func TestReconciler_RunCycle_LockErrorFailsCycle(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{}
	lock := &stubLock{err: errors.New("redis down")}
	r := newTestReconciler(t, provider, st, lock)

	_, err := r.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestReconciler_RunCycle_SingleFlightInProcess(t *testing.T) {
	st := newFakeStore()

	release := make(chan struct{})
	started := make(chan struct{})
	provider := &fakeProvider{
		events: []identity.RegistrationEvent{},
		onList: func() {
			close(started)
			<-release
		},
	}
	r := newTestReconciler(t, provider, st, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.RunCycle(context.Background())
	}()
	<-started

	// Second tick while the first cycle is mid-fetch: skipped, no second
	// provider call.
	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats)

	close(release)
	<-done
}
