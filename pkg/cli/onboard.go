package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/onramp/pkg/onboarding"
)

const commandTimeout = 2 * time.Minute

func newOnboardCommand() *Command {
	cmd := &Command{
		Name:        "onboard",
		Description: "Create a tenant and its administrator user",
		Flags:       flag.NewFlagSet("onboard", flag.ExitOnError),
		Run:         runOnboard,
	}
	return cmd
}

// parseOnboardArgs extracts the user and tenant requests from command flags.
func parseOnboardArgs(args []string) (onboarding.UserRequest, onboarding.TenantRequest, error) {
	fs := flag.NewFlagSet("onboard", flag.ContinueOnError)
	email := fs.String("email", "", "administrator email (required)")
	firstName := fs.String("first-name", "", "administrator first name")
	lastName := fs.String("last-name", "", "administrator last name")
	displayName := fs.String("display-name", "", "administrator display name")
	tenantName := fs.String("tenant-name", "", "tenant name (required)")
	tenantDomain := fs.String("tenant-domain", "", "tenant domain (required)")
	if err := fs.Parse(args); err != nil {
		return onboarding.UserRequest{}, onboarding.TenantRequest{}, err
	}

	if *email == "" {
		return onboarding.UserRequest{}, onboarding.TenantRequest{}, fmt.Errorf("email is required")
	}
	if *tenantName == "" || *tenantDomain == "" {
		return onboarding.UserRequest{}, onboarding.TenantRequest{}, fmt.Errorf("tenant-name and tenant-domain are required")
	}

	user := onboarding.UserRequest{
		Email:       *email,
		FirstName:   *firstName,
		LastName:    *lastName,
		DisplayName: *displayName,
	}
	tenant := onboarding.TenantRequest{
		Name:   *tenantName,
		Domain: *tenantDomain,
	}
	return user, tenant, nil
}

func runOnboard(args []string) error {
	user, tenant, err := parseOnboardArgs(args)
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

	if err := svc.OnboardOrganization(ctx, user, tenant); err != nil {
		return err
	}
	fmt.Printf("Onboarded tenant %s with administrator %s\n", tenant.Name, user.Email)
	return nil
}
