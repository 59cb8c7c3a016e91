package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/store"
)

// cleanupTimeout bounds the fresh context used for compensation and the
// failure record once the cycle's own context has been cancelled.
const cleanupTimeout = 2 * time.Minute

type eventOutcome int

const (
	outcomeMaterialized eventOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// processEvent feeds one registration event through the idempotency check,
// validation, and materialization. Failures are per-event: they are logged,
// recorded, and compensated, never propagated to the cycle.
func (r *Reconciler) processEvent(ctx context.Context, event identity.RegistrationEvent) eventOutcome {
	log := r.logger.WithFields(map[string]interface{}{
		"external_user_id": event.ExternalUserID,
		"email":            event.Email,
	})

	// Idempotency check first. Poll windows overlap by design, so the same
	// event arrives more than once; an existing mapping means a prior cycle
	// or saga already materialized this user.
	if _, ok := r.seen.Get(event.ExternalUserID); ok && event.ExternalUserID != "" {
		r.metrics.RecordReconcileEvent("skipped")
		return outcomeSkipped
	}
	if event.ExternalUserID != "" {
		_, err := r.store.GetMappingByExternalID(ctx, r.cfg.ProviderID, event.ExternalUserID)
		if err == nil {
			r.seen.Add(event.ExternalUserID, struct{}{})
			log.Debug("registration already materialized, skipping")
			r.metrics.RecordReconcileEvent("skipped")
			return outcomeSkipped
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Error("mapping lookup failed, leaving event for the next cycle")
			r.metrics.RecordReconcileEvent("failed")
			return outcomeFailed
		}
	}

	// Missing fields are a per-event failure, not a cycle failure. No side
	// effect has happened yet, so there is nothing to compensate or audit.
	if err := validateEvent(event); err != nil {
		log.WithError(err).Warn("invalid registration event, skipping")
		r.metrics.RecordReconcileEvent("failed")
		return outcomeFailed
	}

	if err := r.materialize(ctx, event); err != nil {
		log.WithError(err).Error("failed to materialize registration, compensating")

		// A cancelled cycle must not lose the cleanup or the audit trail.
		// Once the caller's context is dead, the compensating delete and
		// the failure record run on a fresh, bounded context of their own,
		// the same way saga compensation does.
		cleanupCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			cleanupCtx, cancel = context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			log.Warn("cycle context cancelled, finishing event cleanup on a fresh context")
		}

		// Best-effort compensation: remove the provider-side account so
		// the registration is re-deliverable once the cause is fixed.
		// The delete tolerates not-found, keeping retries idempotent.
		compensated := true
		if delErr := r.provider.DeleteUser(cleanupCtx, event.ExternalUserID); delErr != nil {
			compensated = false
			log.WithError(delErr).Error("compensating provider delete failed, manual cleanup required")
		}
		r.recordFailure(cleanupCtx, event, err, compensated)
		r.metrics.RecordReconcileEvent("failed")
		return outcomeFailed
	}

	r.seen.Add(event.ExternalUserID, struct{}{})
	log.Info("materialized provider registration")
	r.metrics.RecordReconcileEvent("materialized")
	return outcomeMaterialized
}

// materialize creates the internal user, its external-ID mapping, and its
// tenant membership in one local transaction. The organization must already
// have a local mapping: organizations are only ever created by sagas.
func (r *Reconciler) materialize(ctx context.Context, event identity.RegistrationEvent) error {
	orgMapping, err := r.store.GetMappingByExternalID(ctx, r.cfg.ProviderID, event.ExternalOrgID)
	if err != nil {
		return fmt.Errorf("organization %s has no local tenant mapping: %w", event.ExternalOrgID, err)
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	user := &store.User{
		ID:        uuid.New(),
		Email:     event.Email,
		FirstName: event.FirstName,
		LastName:  event.LastName,
		IsActive:  true,
	}
	if err := tx.CreateUser(ctx, user); err != nil {
		return err
	}
	if err := tx.CreateMapping(ctx, &store.ExternalIDMapping{
		InternalID: user.ID,
		ExternalID: event.ExternalUserID,
		EntityKind: store.EntityKindUser,
		ProviderID: r.cfg.ProviderID,
	}); err != nil {
		return err
	}
	if err := tx.CreateMembership(ctx, &store.Membership{
		UserID:   user.ID,
		TenantID: orgMapping.InternalID,
		Role:     store.RoleMember,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Reconciler) recordFailure(ctx context.Context, event identity.RegistrationEvent, cause error, compensated bool) {
	rec := &store.FailureRecord{
		ExternalUserID:        event.ExternalUserID,
		ExternalOrgID:         event.ExternalOrgID,
		Email:                 event.Email,
		FirstName:             event.FirstName,
		LastName:              event.LastName,
		Workflow:              "reconcile_registration",
		ErrorMessage:          cause.Error(),
		CompensationSucceeded: compensated,
	}
	if err := r.store.RecordFailure(ctx, rec); err != nil {
		r.logger.WithError(err).Error("failed to persist reconciliation failure record")
	}
}

func validateEvent(event identity.RegistrationEvent) error {
	if event.Email == "" {
		return fmt.Errorf("registration event missing email")
	}
	if event.ExternalUserID == "" {
		return fmt.Errorf("registration event missing external user ID")
	}
	if event.ExternalOrgID == "" {
		return fmt.Errorf("registration event missing external org ID")
	}
	return nil
}
