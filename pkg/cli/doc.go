// Package cli provides the Onramp command-line interface for tenant onboarding.
//
// # Overview
//
// This package implements the `onramp-cli` tool for operators to run the
// onboarding workflows directly against the identity provider and the local
// database, without going through the reconciliation daemon.
//
// # Commands
//
// onboard: Create a tenant together with its administrator user
//
//	onramp-cli onboard \
//		--email admin@acme.example \
//		--first-name Ada \
//		--last-name Admin \
//		--tenant-name "Acme Corp" \
//		--tenant-domain acme.example
//
// create-tenant: Create a tenant without a user
//
//	onramp-cli create-tenant \
//		--name "Acme Corp" \
//		--domain acme.example
//
// create-user: Create a user, optionally attached to an organization
//
//	onramp-cli create-user \
//		--email user@acme.example \
//		--org-id ext-org-123
//
// delete-user: Delete a user (guarded by business invariants)
//
//	onramp-cli delete-user \
//		--external-id ext-user-123 \
//		--actor-id 8a7b6c5d-4e3f-2a1b-9c8d-7e6f5a4b3c2d \
//		--tenant-id 1b2c3d4e-5f6a-7b8c-9d0e-1f2a3b4c5d6e
//
// # Configuration
//
// The CLI reads the same configuration as the daemon: ONRAMP_* environment
// variables, optionally overlaid by the YAML file named in ONRAMP_CONFIG_FILE.
// At minimum the provider credentials and database URL must be set:
//
//	export ONRAMP_PROVIDER_ID="..."
//	export ONRAMP_PROVIDER_BASE_URL="https://idp.example.com"
//	export ONRAMP_PROVIDER_TOKEN_URL="https://idp.example.com/oauth/token"
//	export ONRAMP_DATABASE_URL="postgres://..."
//
// # Related Packages
//
//   - pkg/onboarding: Runs the workflows the commands invoke
//   - pkg/config: Loads ONRAMP_* configuration
package cli
