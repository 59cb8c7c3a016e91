package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/saga"
	"github.com/platinummonkey/onramp/pkg/store"
)

// OnboardOrganization creates a tenant and its administrator user across the
// identity provider and the local store. Provider-side steps run first: the
// provider is authoritative for identity, and a local-only failure after the
// provider calls succeeded (constraint violation, deadlock) is the common
// case, so local persistence runs last and is compensated first.
func (s *Service) OnboardOrganization(ctx context.Context, user UserRequest, tenant TenantRequest) error {
	sc := saga.NewContext()
	steps := []saga.Step{
		s.resolveOrCreateUserStep(user),
		s.createOrganizationStep(tenant),
		s.linkUserToOrganizationStep(),
		s.persistOnboardingStep(user, tenant),
	}
	return s.run(ctx, "onboard_organization", steps, sc, user)
}

// resolveOrCreateUserStep looks the user up by email and creates it only if
// absent. The compensation deletes the account only when this saga created
// it: a pre-existing account (another tenant's administrator reusing an
// email) is never deleted on a later failure, which is why userWasCreated is
// tracked separately from the external user ID.
func (s *Service) resolveOrCreateUserStep(user UserRequest) saga.Step {
	return saga.Step{
		Name: "resolve_or_create_user",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			existing, err := s.provider.FindUserByEmail(ctx, user.Email)
			if err == nil {
				sc.SetString(factExternalUserID, existing.ID)
				sc.SetFlag(factUserWasCreated, false)
				return nil
			}
			if !errors.Is(err, identity.ErrNotFound) {
				return err
			}

			created, err := s.provider.CreateUser(ctx, identity.NewUser{
				Email:     user.Email,
				FirstName: user.FirstName,
				LastName:  user.LastName,
			})
			if err != nil {
				return err
			}
			sc.SetString(factExternalUserID, created.ID)
			sc.SetFlag(factUserWasCreated, true)
			return nil
		},
		Compensate: func(ctx context.Context, sc *saga.Context) error {
			if !sc.Flag(factUserWasCreated) {
				return nil
			}
			userID, ok := sc.String(factExternalUserID)
			if !ok {
				return nil
			}
			return s.provider.DeleteUser(ctx, userID)
		},
	}
}

// createOrganizationStep creates the organization in the provider and
// re-fetches it by domain to obtain the canonical provider-issued ID.
func (s *Service) createOrganizationStep(tenant TenantRequest) saga.Step {
	return saga.Step{
		Name: "create_organization",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			if err := s.provider.CreateOrganization(ctx, identity.NewOrganization{
				Name:   tenant.Name,
				Domain: tenant.Domain,
			}); err != nil {
				return err
			}
			org, err := s.provider.FindOrganizationByDomain(ctx, tenant.Domain)
			if err != nil {
				// Creation may have taken effect even though the
				// re-fetch failed. The engine will not compensate a
				// step that never completed, so the orphan cleanup
				// has to happen here: look the domain up once more
				// and remove whatever took.
				s.cleanupOrphanedOrganization(ctx, tenant.Domain)
				return fmt.Errorf("organization created but not found by domain %q: %w", tenant.Domain, err)
			}
			sc.SetString(factExternalOrgID, org.ID)
			return nil
		},
		Compensate: func(ctx context.Context, sc *saga.Context) error {
			orgID, ok := sc.String(factExternalOrgID)
			if !ok {
				return nil
			}
			return s.provider.DeleteOrganization(ctx, orgID)
		},
	}
}

// cleanupOrphanedOrganization makes a best-effort attempt to delete an
// organization whose creation may have taken effect while the canonical-ID
// re-fetch failed. The saga is failing regardless; this only keeps the
// provider from accumulating orgs no mapping points at.
func (s *Service) cleanupOrphanedOrganization(ctx context.Context, domain string) {
	org, err := s.provider.FindOrganizationByDomain(ctx, domain)
	if errors.Is(err, identity.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("domain", domain).
			Error("could not verify whether organization creation took effect; it may be orphaned")
		return
	}
	if err := s.provider.DeleteOrganization(ctx, org.ID); err != nil {
		s.logger.WithError(err).WithField("external_org_id", org.ID).
			Error("failed to delete orphaned organization")
	}
}

// linkUserToOrganizationStep attaches the user to the organization in the
// provider, using the IDs earlier steps established.
func (s *Service) linkUserToOrganizationStep() saga.Step {
	return saga.Step{
		Name: "link_user_to_organization",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			userID, _ := sc.String(factExternalUserID)
			orgID, _ := sc.String(factExternalOrgID)
			if err := s.provider.AddUserToOrganization(ctx, userID, orgID); err != nil {
				return err
			}
			sc.SetFlag(factLinkedToOrg, true)
			return nil
		},
		Compensate: func(ctx context.Context, sc *saga.Context) error {
			if !sc.Flag(factLinkedToOrg) {
				return nil
			}
			userID, _ := sc.String(factExternalUserID)
			orgID, _ := sc.String(factExternalOrgID)
			return s.provider.RemoveUserFromOrganization(ctx, userID, orgID)
		},
	}
}

// persistOnboardingStep writes the internal user and tenant, both external-ID
// mappings, the administrator membership, and the profile, in one local
// transaction. The localTxOpen flag guards the compensation: a commit
// failure rolls back inside the forward action, while an earlier write
// failure leaves the transaction to the compensation pass.
func (s *Service) persistOnboardingStep(user UserRequest, tenant TenantRequest) saga.Step {
	return saga.Step{
		Name: "persist_locally",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			tx, err := s.store.Begin(ctx)
			if err != nil {
				return err
			}
			sc.SetValue(factLocalTx, tx)
			sc.SetFlag(factLocalTxOpen, true)

			internalUser := &store.User{
				ID:        uuid.New(),
				Email:     user.Email,
				FirstName: user.FirstName,
				LastName:  user.LastName,
				IsActive:  true,
			}
			internalTenant := &store.Tenant{
				ID:       uuid.New(),
				Name:     tenant.Name,
				Domain:   tenant.Domain,
				IsActive: true,
			}

			if err := tx.CreateUser(ctx, internalUser); err != nil {
				return err
			}
			if err := tx.CreateTenant(ctx, internalTenant); err != nil {
				return err
			}

			externalUserID, _ := sc.String(factExternalUserID)
			externalOrgID, _ := sc.String(factExternalOrgID)
			if err := tx.CreateMapping(ctx, &store.ExternalIDMapping{
				InternalID: internalUser.ID,
				ExternalID: externalUserID,
				EntityKind: store.EntityKindUser,
				ProviderID: s.providerID,
			}); err != nil {
				return err
			}
			if err := tx.CreateMapping(ctx, &store.ExternalIDMapping{
				InternalID: internalTenant.ID,
				ExternalID: externalOrgID,
				EntityKind: store.EntityKindTenant,
				ProviderID: s.providerID,
			}); err != nil {
				return err
			}

			if err := tx.CreateMembership(ctx, &store.Membership{
				UserID:   internalUser.ID,
				TenantID: internalTenant.ID,
				Role:     store.RoleAdmin,
			}); err != nil {
				return err
			}
			if err := tx.CreateProfile(ctx, &store.Profile{
				UserID:      internalUser.ID,
				DisplayName: displayName(user),
				Locale:      user.Locale,
			}); err != nil {
				return err
			}

			if err := tx.Commit(); err != nil {
				sc.SetFlag(factLocalTxOpen, false)
				if rbErr := tx.Rollback(); rbErr != nil {
					s.logger.WithError(rbErr).Warn("rollback after failed commit errored")
				}
				return err
			}
			sc.SetFlag(factLocalTxOpen, false)

			sc.SetString(factInternalUserID, internalUser.ID.String())
			sc.SetString(factInternalTenantID, internalTenant.ID.String())
			return nil
		},
		Compensate: compensateLocalTx,
	}
}

// compensateLocalTx rolls back the local transaction if the forward action
// left it open. Rollback after commit is a no-op, so this is safe even when
// the flag races nothing: the flag only exists to avoid leaving an
// aborted-but-unclosed transaction behind.
func compensateLocalTx(ctx context.Context, sc *saga.Context) error {
	if !sc.Flag(factLocalTxOpen) {
		return nil
	}
	v, ok := sc.Value(factLocalTx)
	if !ok {
		return nil
	}
	tx, ok := v.(store.Tx)
	if !ok {
		return nil
	}
	sc.SetFlag(factLocalTxOpen, false)
	return tx.Rollback()
}

func displayName(user UserRequest) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	if user.FirstName != "" || user.LastName != "" {
		name := user.FirstName
		if user.LastName != "" {
			if name != "" {
				name += " "
			}
			name += user.LastName
		}
		return name
	}
	return user.Email
}
