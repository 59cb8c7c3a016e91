package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"
)

func newDeleteUserCommand() *Command {
	cmd := &Command{
		Name:        "delete-user",
		Description: "Delete a user (guarded by business invariants)",
		Flags:       flag.NewFlagSet("delete-user", flag.ExitOnError),
		Run:         runDeleteUser,
	}
	return cmd
}

type deleteUserArgs struct {
	externalID string
	actorID    uuid.UUID
	tenantID   uuid.UUID
}

func parseDeleteUserArgs(args []string) (deleteUserArgs, error) {
	fs := flag.NewFlagSet("delete-user", flag.ContinueOnError)
	externalID := fs.String("external-id", "", "external user ID to delete (required)")
	actor := fs.String("actor-id", "", "internal ID of the acting user (required)")
	tenant := fs.String("tenant-id", "", "internal ID of the actor's tenant (required)")
	if err := fs.Parse(args); err != nil {
		return deleteUserArgs{}, err
	}

	if *externalID == "" || *actor == "" || *tenant == "" {
		return deleteUserArgs{}, fmt.Errorf("external-id, actor-id, and tenant-id are required")
	}
	actorID, err := uuid.Parse(*actor)
	if err != nil {
		return deleteUserArgs{}, fmt.Errorf("invalid actor-id: %w", err)
	}
	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		return deleteUserArgs{}, fmt.Errorf("invalid tenant-id: %w", err)
	}
	return deleteUserArgs{externalID: *externalID, actorID: actorID, tenantID: tenantID}, nil
}

func runDeleteUser(args []string) error {
	parsed, err := parseDeleteUserArgs(args)
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

	if err := svc.DeleteUser(ctx, parsed.externalID, parsed.actorID, parsed.tenantID); err != nil {
		return err
	}
	fmt.Printf("Deleted user %s\n", parsed.externalID)
	return nil
}
