package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/onramp/pkg/onboarding"
)

func newCreateTenantCommand() *Command {
	cmd := &Command{
		Name:        "create-tenant",
		Description: "Create a tenant without a user",
		Flags:       flag.NewFlagSet("create-tenant", flag.ExitOnError),
		Run:         runCreateTenant,
	}
	return cmd
}

func parseCreateTenantArgs(args []string) (onboarding.TenantRequest, error) {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	name := fs.String("name", "", "tenant name (required)")
	domain := fs.String("domain", "", "tenant domain (required)")
	if err := fs.Parse(args); err != nil {
		return onboarding.TenantRequest{}, err
	}
	if *name == "" || *domain == "" {
		return onboarding.TenantRequest{}, fmt.Errorf("name and domain are required")
	}
	return onboarding.TenantRequest{Name: *name, Domain: *domain}, nil
}

func runCreateTenant(args []string) error {
	tenant, err := parseCreateTenantArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	svc, cleanup, err := newOnboardingService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := svc.CreateTenant(ctx, tenant)
	if err != nil {
		return err
	}
	fmt.Printf("Created tenant %s (%s)\n", tenant.Name, id)
	return nil
}
