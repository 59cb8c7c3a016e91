package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/onramp/pkg/observability"
)

// RESTConfig holds configuration for the REST provider client.
type RESTConfig struct {
	// BaseURL is the root of the provider's admin API.
	BaseURL string
	// IssuerURL is the OIDC issuer used to discover the token endpoint.
	// Leave empty to use TokenURL directly.
	IssuerURL string
	// TokenURL is the OAuth2 token endpoint, used when discovery is off.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// RESTClient implements Client against the provider's admin REST API,
// authenticating with OAuth2 client credentials.
type RESTClient struct {
	baseURL string
	http    *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRESTClient builds a provider client. When cfg.IssuerURL is set, the
// token endpoint is discovered from the issuer's OIDC metadata; otherwise
// cfg.TokenURL is used as-is.
func NewRESTClient(ctx context.Context, cfg RESTConfig, logger *observability.Logger, metrics *observability.Metrics) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}

	tokenURL := cfg.TokenURL
	if cfg.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
		}
		tokenURL = provider.Endpoint().TokenURL
	}
	if tokenURL == "" {
		return nil, fmt.Errorf("no token endpoint: set issuer URL or token URL")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.Scopes,
	}
	httpClient := cc.Client(ctx)
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	return &RESTClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger.WithField("component", "identity_client"),
		metrics: metrics,
	}, nil
}

// CreateUser creates a user in the provider.
func (c *RESTClient) CreateUser(ctx context.Context, user NewUser) (*ExternalUser, error) {
	var created ExternalUser
	if err := c.do(ctx, "create_user", http.MethodPost, "/api/v1/users", user, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetUser fetches a user by its provider-issued ID.
func (c *RESTClient) GetUser(ctx context.Context, externalID string) (*ExternalUser, error) {
	var user ExternalUser
	path := "/api/v1/users/" + url.PathEscape(externalID)
	if err := c.do(ctx, "get_user", http.MethodGet, path, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail looks a user up by email. Returns ErrNotFound when the
// provider has no account for the address.
func (c *RESTClient) FindUserByEmail(ctx context.Context, email string) (*ExternalUser, error) {
	var user ExternalUser
	path := "/api/v1/users?email=" + url.QueryEscape(email)
	if err := c.do(ctx, "find_user_by_email", http.MethodGet, path, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user. A provider 404 is success: the account is gone
// either way, and compensations depend on that.
func (c *RESTClient) DeleteUser(ctx context.Context, externalID string) error {
	path := "/api/v1/users/" + url.PathEscape(externalID)
	err := c.do(ctx, "delete_user", http.MethodDelete, path, nil, nil)
	return ignoreNotFound(err)
}

// CreateOrganization creates an organization. The provider does not return
// the canonical ID on create; callers re-fetch by domain.
func (c *RESTClient) CreateOrganization(ctx context.Context, org NewOrganization) error {
	return c.do(ctx, "create_organization", http.MethodPost, "/api/v1/organizations", org, nil)
}

// FindOrganizationByDomain looks an organization up by its domain.
func (c *RESTClient) FindOrganizationByDomain(ctx context.Context, domain string) (*ExternalOrganization, error) {
	var org ExternalOrganization
	path := "/api/v1/organizations?domain=" + url.QueryEscape(domain)
	if err := c.do(ctx, "find_organization_by_domain", http.MethodGet, path, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// DeleteOrganization removes an organization; 404 is success.
func (c *RESTClient) DeleteOrganization(ctx context.Context, externalID string) error {
	path := "/api/v1/organizations/" + url.PathEscape(externalID)
	err := c.do(ctx, "delete_organization", http.MethodDelete, path, nil, nil)
	return ignoreNotFound(err)
}

// AddUserToOrganization attaches a user to an organization.
func (c *RESTClient) AddUserToOrganization(ctx context.Context, userID, orgID string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/members/%s", url.PathEscape(orgID), url.PathEscape(userID))
	return c.do(ctx, "add_user_to_organization", http.MethodPut, path, nil, nil)
}

// RemoveUserFromOrganization detaches a user from an organization; a missing
// link is success.
func (c *RESTClient) RemoveUserFromOrganization(ctx context.Context, userID, orgID string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/members/%s", url.PathEscape(orgID), url.PathEscape(userID))
	err := c.do(ctx, "remove_user_from_organization", http.MethodDelete, path, nil, nil)
	return ignoreNotFound(err)
}

// ListRecentRegistrationEvents returns registrations within the window.
func (c *RESTClient) ListRecentRegistrationEvents(ctx context.Context, window time.Duration) ([]RegistrationEvent, error) {
	since := time.Now().UTC().Add(-window)
	path := "/api/v1/registrations?since=" + url.QueryEscape(since.Format(time.RFC3339))

	var events []RegistrationEvent
	if err := c.do(ctx, "list_registration_events", http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// do performs one JSON request against the provider API. A 404 response maps
// to ErrNotFound; other non-2xx statuses become errors carrying a body
// snippet for diagnostics.
func (c *RESTClient) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	start := time.Now()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(operation, "error", time.Since(start))
		return fmt.Errorf("provider request %s failed: %w", operation, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.RecordProviderRequest(operation, "not_found", time.Since(start))
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.RecordProviderRequest(operation, "error", time.Since(start))
		return fmt.Errorf("provider request %s returned %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.metrics.RecordProviderRequest(operation, "ok", time.Since(start))

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response for %s: %w", operation, err)
	}
	return nil
}

func ignoreNotFound(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
