package onboarding

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/observability"
	"github.com/platinummonkey/onramp/pkg/saga"
	"github.com/platinummonkey/onramp/pkg/store"
)

// Saga context fact keys. A fact is written only after the action producing
// it succeeded; compensations branch on these and nothing else.
const (
	factExternalUserID   = "external_user_id"
	factExternalOrgID    = "external_org_id"
	factUserWasCreated   = "user_was_created"
	factLinkedToOrg      = "linked_to_org"
	factLocalTx          = "local_tx"
	factLocalTxOpen      = "local_tx_open"
	factInternalUserID   = "internal_user_id"
	factInternalTenantID = "internal_tenant_id"
	factUserSnapshot     = "user_snapshot"
)

// failureRecordTimeout bounds the fresh context used to persist the audit
// failure record when the caller's context is already cancelled.
const failureRecordTimeout = 30 * time.Second

// UserRequest describes the administrator or user to onboard.
type UserRequest struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// TenantRequest describes the tenant (organization) to onboard.
type TenantRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Service exposes the saga-driven onboarding workflows. Each invocation runs
// synchronously on the caller's goroutine; steps execute strictly in
// sequence because later forward actions depend on facts set by earlier
// ones. Concurrent invocations are independent: each owns its own saga
// context, and contention (e.g. duplicate domains) surfaces from the
// collaborators as ordinary forward-step failures.
type Service struct {
	provider identity.Client
	store    store.Store
	engine   *saga.Engine
	logger   *observability.Logger

	// providerID identifies the identity provider in external-ID mappings.
	// Injected once here rather than repeated at call sites.
	providerID uuid.UUID
}

// NewService creates the onboarding service.
func NewService(provider identity.Client, st store.Store, providerID uuid.UUID, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &Service{
		provider:   provider,
		store:      st,
		engine:     saga.NewEngine(logger, metrics),
		logger:     logger,
		providerID: providerID,
	}
}

// run executes a saga and, when it fails after at least one forward side
// effect, persists the audit failure record. The original forward error is
// returned; compensation outcomes live in logs and the failure record, never
// in the error the caller sees.
func (s *Service) run(ctx context.Context, name string, steps []saga.Step, sc *saga.Context, user UserRequest) error {
	workflowID := uuid.New().String()
	ctx = observability.WithWorkflowID(ctx, workflowID)

	result := s.engine.Run(ctx, name, steps, sc)
	if result.Succeeded() {
		return nil
	}

	if len(result.Completed) > 0 {
		rec := &store.FailureRecord{
			ExternalUserID:        sc.StringOr(factExternalUserID, ""),
			ExternalOrgID:         sc.StringOr(factExternalOrgID, ""),
			Email:                 user.Email,
			FirstName:             user.FirstName,
			LastName:              user.LastName,
			Workflow:              name,
			ErrorMessage:          result.Err().Error(),
			CompensationSucceeded: result.FullyCompensated(),
		}

		// The failure record must survive a cancelled request: a dead
		// caller context would drop the operator's source of truth for
		// manual cleanup, so the write switches to a fresh bounded
		// context, mirroring the engine's compensation pass.
		recordCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			recordCtx, cancel = context.WithTimeout(context.Background(), failureRecordTimeout)
			defer cancel()
		}
		if err := s.store.RecordFailure(recordCtx, rec); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"saga":        name,
				"workflow_id": workflowID,
			}).Error("failed to persist failure record")
		}
	}

	return result.Err()
}
