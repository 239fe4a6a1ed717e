// Package idp implements the gateway to the external identity provider: a Keycloak-style
// admin REST client that creates, finds and deletes organizations, users and
// memberships. Every call carries a bearer token from a process-wide TokenCache and is
// retried with bounded exponential backoff when the failure is transient.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/config"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxErrorBody caps how much of an error response is kept for diagnosis
const maxErrorBody = 4096

// Organization is an identity provider organization
type Organization struct {
	ID      string      `json:"id,omitempty"`
	Name    string      `json:"name"`
	Enabled bool        `json:"enabled"`
	Domains []OrgDomain `json:"domains,omitempty"`
}

// OrgDomain is one domain of an Organization
type OrgDomain struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// User is an identity provider user
type User struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// NewUser describes a user to create. Password is optional.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

type credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	User
	EmailVerified bool         `json:"emailVerified"`
	Credentials   []credential `json:"credentials,omitempty"`
}

// Client talks to the admin API of one realm
type Client struct {
	adminURL       string
	httpClient     *http.Client
	tokens         *TokenCache
	retry          RetryPolicy
	requestTimeout time.Duration
}

// NewClient creates a client for cfg. httpClient may be nil; it is also used for token
// requests.
func NewClient(cfg *config.IdentityProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.GetTokenURL(),
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	retry := RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		adminURL:       fmt.Sprintf("%s/admin/realms/%s", strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.Realm)),
		httpClient:     httpClient,
		tokens:         NewTokenCache(&httpTokenFetcher{cc: cc, client: httpClient}, cfg.TokenSafetyMargin),
		retry:          retry,
		requestTimeout: timeout,
	}
}

// httpTokenFetcher routes client-credentials requests through the gateway's http.Client
type httpTokenFetcher struct {
	cc     *clientcredentials.Config
	client *http.Client
}

func (f *httpTokenFetcher) Token(ctx context.Context) (*oauth2.Token, error) {
	return f.cc.Token(context.WithValue(ctx, oauth2.HTTPClient, f.client))
}

// Tokens returns the client's token cache
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs one admin call with retries. ok lists the statuses treated as success.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body interface{}, ok ...int) (*response, error) {
	var payload []byte
	if body != nil {
		switch b := body.(type) {
		case []byte:
			payload = b
		default:
			var err error
			if payload, err = json.Marshal(body); err != nil {
				return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
			}
		}
	}

	var result *response
	var unanswered bool
	err := c.retry.retry(ctx, op, func() error {
		resp, err := c.attempt(ctx, op, method, endpoint, payload)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.StatusCode == 0 {
				unanswered = true
			}
			return err
		}
		for _, s := range ok {
			if resp.status == s {
				result = resp
				return nil
			}
		}
		errBody := resp.body
		if len(errBody) > maxErrorBody {
			errBody = errBody[:maxErrorBody]
		}
		return &ProviderError{Op: op, StatusCode: resp.status, Body: strings.TrimSpace(string(errBody)), Resent: unanswered}
	})
	return result, err
}

// attempt sends the request once. A 401 invalidates the token and resends once with a
// fresh one.
func (c *Client) attempt(ctx context.Context, op, method, endpoint string, payload []byte) (*response, error) {
	resp, token, err := c.send(ctx, op, method, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		resp, _, err = c.send(ctx, op, method, endpoint, payload)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, op, method, endpoint string, payload []byte) (*response, string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.adminURL+endpoint, body)
	if err != nil {
		return nil, token, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.IdPRequestsTotal.WithLabelValues(op, "error").Inc()
		if ctx.Err() != nil {
			return nil, token, ctx.Err()
		}
		return nil, token, &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	telemetry.IdPRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, token, &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, token, nil
}

// createdID extracts the new resource id from the Location header of a 201
func createdID(op string, resp *response) (string, error) {
	loc := resp.header.Get("Location")
	if loc == "" {
		return "", &ProviderError{Op: op, StatusCode: resp.status, Body: "response has no Location header"}
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", &ProviderError{Op: op, StatusCode: resp.status, Body: "malformed Location header", Err: err}
	}
	id := path.Base(u.Path)
	if id == "" || id == "." || id == "/" {
		return "", &ProviderError{Op: op, StatusCode: resp.status, Body: "Location header has no id"}
	}
	return id, nil
}

// resentConflict reports a 409 answering a create whose earlier attempt got no
// response; the conflicting resource is most likely the one that attempt created.
func resentConflict(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Conflict() && pe.Resent
}

// CreateOrg creates an organization owning domain and returns its id. A 409 on a resent
// attempt adopts the organization when its domain and name match.
func (c *Client) CreateOrg(ctx context.Context, name, domain string) (string, error) {
	org := Organization{
		Name:    name,
		Enabled: true,
		Domains: []OrgDomain{{Name: domain, Verified: false}},
	}
	resp, err := c.do(ctx, "create_org", http.MethodPost, "/organizations", org, http.StatusCreated)
	if err != nil {
		if !resentConflict(err) {
			return "", err
		}
		found, ferr := c.FindOrgByDomain(ctx, domain)
		if ferr != nil || found == nil || found.ID == "" || !strings.EqualFold(found.Name, name) {
			return "", err
		}
		slog.Warn("create_org response was lost, using the organization it created", "org_id", found.ID, "domain", domain)
		return found.ID, nil
	}
	return createdID("create_org", resp)
}

// CreateUser creates an enabled user and returns its id. A 409 on a resent attempt
// adopts the user when its email and username match.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (string, error) {
	rep := userRepresentation{
		User: User{
			Username:  u.Username,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Enabled:   true,
		},
	}
	if u.Password != "" {
		rep.Credentials = []credential{{Type: "password", Value: u.Password}}
	}
	resp, err := c.do(ctx, "create_user", http.MethodPost, "/users", rep, http.StatusCreated)
	if err != nil {
		if !resentConflict(err) {
			return "", err
		}
		found, ferr := c.FindUserByEmail(ctx, u.Email)
		if ferr != nil || found == nil || found.ID == "" || !strings.EqualFold(found.Username, u.Username) {
			return "", err
		}
		slog.Warn("create_user response was lost, using the user it created", "user_id", found.ID)
		return found.ID, nil
	}
	return createdID("create_user", resp)
}

// AddMembership makes userID a member of orgID
func (c *Client) AddMembership(ctx context.Context, orgID, userID string) error {
	p := "/organizations/" + url.PathEscape(orgID) + "/members"
	_, err := c.do(ctx, "add_membership", http.MethodPost, p, []byte(userID), http.StatusCreated, http.StatusNoContent)
	return err
}

// RemoveMembership removes userID from orgID. A missing membership is not an error.
func (c *Client) RemoveMembership(ctx context.Context, orgID, userID string) error {
	p := "/organizations/" + url.PathEscape(orgID) + "/members/" + url.PathEscape(userID)
	_, err := c.do(ctx, "remove_membership", http.MethodDelete, p, nil, http.StatusNoContent, http.StatusNotFound)
	return err
}

// DeleteOrg deletes an organization. A missing organization is not an error.
func (c *Client) DeleteOrg(ctx context.Context, orgID string) error {
	_, err := c.do(ctx, "delete_org", http.MethodDelete, "/organizations/"+url.PathEscape(orgID), nil, http.StatusNoContent, http.StatusNotFound)
	return err
}

// DeleteUser deletes a user. A missing user is not an error.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	_, err := c.do(ctx, "delete_user", http.MethodDelete, "/users/"+url.PathEscape(userID), nil, http.StatusNoContent, http.StatusNotFound)
	return err
}

// FindUserByEmail returns the user with exactly this email (case-insensitive), or nil
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	q := url.Values{"email": {email}, "exact": {"true"}}
	resp, err := c.do(ctx, "find_user", http.MethodGet, "/users?"+q.Encode(), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var users []User
	if err := json.Unmarshal(resp.body, &users); err != nil {
		return nil, fmt.Errorf("failed to decode find_user response: %w", err)
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// FindOrgByDomain returns the organization owning domain (case-insensitive), or nil
func (c *Client) FindOrgByDomain(ctx context.Context, domain string) (*Organization, error) {
	q := url.Values{"search": {domain}, "exact": {"true"}}
	resp, err := c.do(ctx, "find_org", http.MethodGet, "/organizations?"+q.Encode(), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var orgs []Organization
	if err := json.Unmarshal(resp.body, &orgs); err != nil {
		return nil, fmt.Errorf("failed to decode find_org response: %w", err)
	}
	for i := range orgs {
		for _, d := range orgs[i].Domains {
			if strings.EqualFold(d.Name, domain) {
				return &orgs[i], nil
			}
		}
	}
	return nil, nil
}
