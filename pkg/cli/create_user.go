package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/onramp/pkg/onboarding"
)

func newCreateUserCommand() *Command {
	cmd := &Command{
		Name:        "create-user",
		Description: "Create a user, optionally attached to an organization",
		Flags:       flag.NewFlagSet("create-user", flag.ExitOnError),
		Run:         runCreateUser,
	}
	return cmd
}

func parseCreateUserArgs(args []string) (onboarding.UserRequest, string, error) {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	email := fs.String("email", "", "user email (required)")
	firstName := fs.String("first-name", "", "user first name")
	lastName := fs.String("last-name", "", "user last name")
	orgID := fs.String("org-id", "", "external organization ID to attach the user to")
	if err := fs.Parse(args); err != nil {
		return onboarding.UserRequest{}, "", err
	}
	if *email == "" {
		return onboarding.UserRequest{}, "", fmt.Errorf("email is required")
	}
	user := onboarding.UserRequest{
		Email:     *email,
		FirstName: *firstName,
		LastName:  *lastName,
	}
	return user, *orgID, nil
}

func runCreateUser(args []string) error {
	user, orgID, err := parseCreateUserArgs(args)
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

	id, err := svc.CreateUser(ctx, user, orgID)
	if err != nil {
		return err
	}
	fmt.Printf("Created user %s (%s)\n", user.Email, id)
	return nil
}
