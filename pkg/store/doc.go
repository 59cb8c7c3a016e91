// Package store provides the transactional PostgreSQL store for Onramp's
// local entities: users, tenants, external-ID mappings, memberships,
// profiles, and the onboarding failure log.
//
// Writes go through a Tx opened with Store.Begin; the transaction is owned
// exclusively by the workflow invocation that opened it. Rollback after a
// successful Commit is a no-op so it can live in a defer. Unique-constraint
// violations map to ErrDuplicate, missing rows to ErrNotFound.
package store
