// Package onboarding implements the saga-driven workflows that keep the
// external identity provider and the local store converged: organization
// onboarding (tenant + administrator), standalone tenant creation, user
// creation with optional organization attachment, and guarded user deletion.
//
// # Failure Model
//
// Provider-side steps run before local persistence; on any forward failure
// the engine compensates completed steps in reverse. Callers must not read
// "error returned" as "nothing was created": compensation is best-effort,
// and the onboarding_failures table is the source of truth for manual
// reconciliation when a compensation itself failed. Business-rule
// rejections (self-deletion, last admin) surface as *saga.PreconditionError
// before any side effect, distinct from consistency failures.
package onboarding
