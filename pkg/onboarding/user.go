package onboarding

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/saga"
	"github.com/platinummonkey/onramp/pkg/store"
)

// CreateUser creates a user in the provider and locally. When externalOrgID
// is non-empty the user is also attached to that organization and given a
// member role in the mapped tenant; the organization itself must already
// exist (created by a prior saga). Returns the internal user ID.
func (s *Service) CreateUser(ctx context.Context, user UserRequest, externalOrgID string) (uuid.UUID, error) {
	sc := saga.NewContext()
	if externalOrgID != "" {
		// Input, not a produced fact: no step created this org, so no
		// compensation will ever delete it.
		sc.SetString(factExternalOrgID, externalOrgID)
	}

	steps := []saga.Step{s.createUserStep(user)}
	if externalOrgID != "" {
		steps = append(steps, s.linkUserToOrganizationStep())
	}
	steps = append(steps, s.persistUserStep(user, externalOrgID != ""))

	if err := s.run(ctx, "create_user", steps, sc, user); err != nil {
		return uuid.Nil, err
	}
	return parseIDFact(sc, factInternalUserID)
}

// createUserStep unconditionally creates the provider account. Unlike the
// onboarding saga's resolve-or-create, an existing account here is a caller
// error surfaced by the provider, so the compensation may always delete.
func (s *Service) createUserStep(user UserRequest) saga.Step {
	return saga.Step{
		Name: "create_user",
		Forward: func(ctx context.Context, sc *saga.Context) error {
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
			userID, ok := sc.String(factExternalUserID)
			if !ok {
				return nil
			}
			return s.provider.DeleteUser(ctx, userID)
		},
	}
}

// persistUserStep writes the internal user, its external-ID mapping, the
// profile, and, when the caller supplied an organization, the membership
// in the mapped tenant, all in one local transaction.
func (s *Service) persistUserStep(user UserRequest, withMembership bool) saga.Step {
	return saga.Step{
		Name: "persist_user_locally",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			var tenantID uuid.UUID
			if withMembership {
				externalOrgID, _ := sc.String(factExternalOrgID)
				mapping, err := s.store.GetMappingByExternalID(ctx, s.providerID, externalOrgID)
				if err != nil {
					return fmt.Errorf("organization %s has no local tenant mapping: %w", externalOrgID, err)
				}
				tenantID = mapping.InternalID
			}

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
			if err := tx.CreateUser(ctx, internalUser); err != nil {
				return err
			}

			externalUserID, _ := sc.String(factExternalUserID)
			if err := tx.CreateMapping(ctx, &store.ExternalIDMapping{
				InternalID: internalUser.ID,
				ExternalID: externalUserID,
				EntityKind: store.EntityKindUser,
				ProviderID: s.providerID,
			}); err != nil {
				return err
			}

			if withMembership {
				if err := tx.CreateMembership(ctx, &store.Membership{
					UserID:   internalUser.ID,
					TenantID: tenantID,
					Role:     store.RoleMember,
				}); err != nil {
					return err
				}
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
			return nil
		},
		Compensate: compensateLocalTx,
	}
}
