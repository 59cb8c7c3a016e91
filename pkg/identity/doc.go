// Package identity defines the capability interface over the external
// identity provider and a REST implementation of it.
//
// The provider is the system of record for authentication identities and
// organizations. Its wire protocol is an implementation detail hidden behind
// the Client interface; sagas and the reconciler depend only on the
// interface. The REST client authenticates with OAuth2 client credentials,
// discovering the token endpoint from the provider's OIDC issuer metadata
// when an issuer URL is configured.
//
// Delete operations are 404-tolerant by contract: deleting something already
// absent is success. Compensating actions rely on this to stay idempotent
// under provider eventual consistency.
package identity
