package onboarding

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/onramp/pkg/saga"
	"github.com/platinummonkey/onramp/pkg/store"
)

// CreateTenant creates an organization in the provider and a matching local
// tenant, without involving a user. Returns the internal tenant ID.
func (s *Service) CreateTenant(ctx context.Context, tenant TenantRequest) (uuid.UUID, error) {
	sc := saga.NewContext()
	steps := []saga.Step{
		s.createOrganizationStep(tenant),
		s.persistTenantStep(tenant),
	}
	if err := s.run(ctx, "create_tenant", steps, sc, UserRequest{}); err != nil {
		return uuid.Nil, err
	}
	return parseIDFact(sc, factInternalTenantID)
}

// persistTenantStep writes the internal tenant and its external-ID mapping
// in one local transaction.
func (s *Service) persistTenantStep(tenant TenantRequest) saga.Step {
	return saga.Step{
		Name: "persist_tenant_locally",
		Forward: func(ctx context.Context, sc *saga.Context) error {
			tx, err := s.store.Begin(ctx)
			if err != nil {
				return err
			}
			sc.SetValue(factLocalTx, tx)
			sc.SetFlag(factLocalTxOpen, true)

			internalTenant := &store.Tenant{
				ID:       uuid.New(),
				Name:     tenant.Name,
				Domain:   tenant.Domain,
				IsActive: true,
			}
			if err := tx.CreateTenant(ctx, internalTenant); err != nil {
				return err
			}

			externalOrgID, _ := sc.String(factExternalOrgID)
			if err := tx.CreateMapping(ctx, &store.ExternalIDMapping{
				InternalID: internalTenant.ID,
				ExternalID: externalOrgID,
				EntityKind: store.EntityKindTenant,
				ProviderID: s.providerID,
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

			sc.SetString(factInternalTenantID, internalTenant.ID.String())
			return nil
		},
		Compensate: compensateLocalTx,
	}
}

func parseIDFact(sc *saga.Context, key string) (uuid.UUID, error) {
	raw, ok := sc.String(key)
	if !ok {
		return uuid.Nil, fmt.Errorf("saga completed without setting %s", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("saga produced invalid %s: %w", key, err)
	}
	return id, nil
}
