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

// DeleteUser removes a user from the provider and the local store. Business
// invariants are checked before any side effect runs and are rejected with a
// PreconditionError rather than compensated: the actor may not delete
// themselves, the target must belong to the actor's tenant, and the target
// must not be the tenant's last administrator.
//
// Provider-side deletion is destructive and not simply reversible. If local
// deletion fails afterwards, the compensation re-creates the provider
// account from a snapshot captured up front, marked as requiring a
// credential reset, an explicit exception to "delete is safely compensable"
// that is flagged to operators through logs and the failure record, never
// silently retried.
func (s *Service) DeleteUser(ctx context.Context, externalUserID string, actorID, tenantID uuid.UUID) error {
	mapping, err := s.store.GetMappingByExternalID(ctx, s.providerID, externalUserID)
	if err != nil {
		return fmt.Errorf("failed to resolve user %s: %w", externalUserID, err)
	}
	targetID := mapping.InternalID

	if targetID == actorID {
		return &saga.PreconditionError{
			Rule:    "self_deletion",
			Message: "a user may not delete their own account",
		}
	}

	membership, err := s.store.GetMembership(ctx, targetID, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return &saga.PreconditionError{
			Rule:    "cross_tenant",
			Message: "target user does not belong to the actor's tenant",
		}
	}
	if err != nil {
		return fmt.Errorf("failed to check target membership: %w", err)
	}

	if membership.Role == store.RoleAdmin {
		admins, err := s.store.CountTenantAdmins(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to count tenant admins: %w", err)
		}
		if admins <= 1 {
			return &saga.PreconditionError{
				Rule:    "last_admin",
				Message: "target is the tenant's last administrator",
			}
		}
	}

	// Local record feeds the failure log if the saga fails mid-flight.
	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target user: %w", err)
	}

	sc := saga.NewContext()
	sc.SetString(factExternalUserID, externalUserID)
	steps := []saga.Step{
		s.captureUserSnapshotStep(externalUserID),
		s.deleteProviderUserStep(externalUserID),
		s.deleteUserLocallyStep(targetID, externalUserID),
	}
	return s.run(ctx, "delete_user", steps, sc, UserRequest{
		Email:     target.Email,
		FirstName: target.FirstName,
		LastName:  target.LastName,
	})
}

// captureUserSnapshotStep records the provider's view of the account before
// it is destroyed, for potential restoration. Pure read: no compensation. A
// provider 404 is tolerated: the account is already gone there and the saga
// degrades to a local-only cleanup.
func (s *Service) captureUserSnapshotStep(externalUserID string) saga.Step {
	return saga.Step{
		Name: "capture_user_snapshot",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			snapshot, err := s.provider.GetUser(ctx, externalUserID)
			if errors.Is(err, identity.ErrNotFound) {
				s.logger.WithField("external_user_id", externalUserID).
					Warn("provider has no account for user pending deletion")
				return nil
			}
			if err != nil {
				return err
			}
			sc.SetValue(factUserSnapshot, snapshot)
			return nil
		},
	}
}

// deleteProviderUserStep removes the provider account. Its compensation
// re-creates the account from the snapshot with a forced credential reset
// and shouts about it: the restored account has a new provider-issued ID,
// so operators must reconcile the stale mapping by hand.
func (s *Service) deleteProviderUserStep(externalUserID string) saga.Step {
	return saga.Step{
		Name: "delete_provider_user",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			return s.provider.DeleteUser(ctx, externalUserID)
		},
		Compensate: func(ctx context.Context, sc *saga.Context) error {
			v, ok := sc.Value(factUserSnapshot)
			if !ok {
				// Nothing was captured, nothing to restore.
				return nil
			}
			snapshot, ok := v.(*identity.ExternalUser)
			if !ok || snapshot == nil {
				return nil
			}

			restored, err := s.provider.CreateUser(ctx, identity.NewUser{
				Email:                snapshot.Email,
				FirstName:            snapshot.FirstName,
				LastName:             snapshot.LastName,
				RequirePasswordReset: true,
			})
			if err != nil {
				return fmt.Errorf("failed to restore provider account for %s: %w", snapshot.Email, err)
			}
			s.logger.WithFields(map[string]interface{}{
				"email":            snapshot.Email,
				"old_external_id":  externalUserID,
				"new_external_id":  restored.ID,
				"credential_reset": true,
			}).Error("provider account restored after failed deletion saga; external ID changed, manual mapping reconciliation required")
			return nil
		},
	}
}

// deleteUserLocallyStep removes the memberships, profile, mapping, and user
// row in one local transaction.
func (s *Service) deleteUserLocallyStep(targetID uuid.UUID, externalUserID string) saga.Step {
	return saga.Step{
		Name: "delete_user_locally",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			tx, err := s.store.Begin(ctx)
			if err != nil {
				return err
			}
			sc.SetValue(factLocalTx, tx)
			sc.SetFlag(factLocalTxOpen, true)

			if err := tx.DeleteMembershipsForUser(ctx, targetID); err != nil {
				return err
			}
			if err := tx.DeleteProfile(ctx, targetID); err != nil {
				return err
			}
			if err := tx.DeleteMappingByExternalID(ctx, s.providerID, externalUserID); err != nil {
				return err
			}
			if err := tx.DeleteUser(ctx, targetID); err != nil {
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
			return nil
		},
		Compensate: compensateLocalTx,
	}
}
