/**
 * @description
 * This package provides a client for the identity provider's management API
 * (Auth0 Management API v2). The identity provider owns the member records:
 * profile fields, roles, and the payment metadata written by reconciliation.
 *
 * Key features:
 * - Requests are authenticated by the http.Client passed in, normally one
 *   produced by an OAuth2 client-credentials config (see NewHTTPClient).
 * - User listings drain every page before returning.
 * - Metadata is patched per top-level key because the provider merges
 *   app_metadata and user_metadata at the first level only.
 */
package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
)

const usersPageSize = 100

// ErrUserNotFound is returned when the provider has no such user.
var ErrUserNotFound = errors.New("user not found")

// APIError is a non-success response from the management API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider error: status %d: %s", e.StatusCode, e.Message)
}

// Client is a client for the management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient returns an http.Client that fetches and refreshes management
// API tokens with the client-credentials grant.
func NewHTTPClient(ctx context.Context, domainName, clientID, clientSecret string) *http.Client {
	base := "https://" + strings.TrimSuffix(strings.TrimPrefix(domainName, "https://"), "/")
	cfg := clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TokenURL:       base + "/oauth/token",
		EndpointParams: url.Values{"audience": {base + "/api/v2/"}},
	}
	httpClient := cfg.Client(ctx)
	httpClient.Timeout = 30 * time.Second
	return httpClient
}

// NewClient creates a management API client. baseURL is the tenant origin,
// for example https://eldsal.eu.auth0.com.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id string) (domain.Member, error) {
	var m domain.Member
	err := c.do(ctx, http.MethodGet, c.userURL(id), nil, &m)
	return m, err
}

type usersPage struct {
	Start int             `json:"start"`
	Limit int             `json:"limit"`
	Total int             `json:"total"`
	Users []domain.Member `json:"users"`
}

// ListUsers fetches every user, following pages until the reported total is
// reached or the provider returns an empty page.
func (c *Client) ListUsers(ctx context.Context) ([]domain.Member, error) {
	var all []domain.Member
	for page := 0; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(usersPageSize))
		q.Set("include_totals", "true")
		q.Set("sort", "created_at:1")

		var resp usersPage
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v2/users?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list users page %d: %w", page, err)
		}
		all = append(all, resp.Users...)
		if len(resp.Users) == 0 || len(all) >= resp.Total {
			return all, nil
		}
	}
}

// UpdateProfile writes the editable profile fields.
func (c *Client) UpdateProfile(ctx context.Context, id string, p domain.ProfileUpdate) (domain.Member, error) {
	body := map[string]interface{}{
		"given_name":  p.GivenName,
		"family_name": p.FamilyName,
		"name":        strings.TrimSpace(p.GivenName + " " + p.FamilyName),
		"user_metadata": domain.UserMetadata{
			Address:   p.Address,
			Zip:       p.Zip,
			City:      p.City,
			Country:   p.Country,
			Phone:     p.Phone,
			BirthDate: p.BirthDate,
		},
	}
	var m domain.Member
	err := c.do(ctx, http.MethodPatch, c.userURL(id), body, &m)
	return m, err
}

// UpdatePayments replaces app_metadata.payments. The identity provider merges
// app_metadata one level deep, so payments must carry every flavour.
func (c *Client) UpdatePayments(ctx context.Context, id string, payments map[string]interface{}) (domain.Member, error) {
	body := map[string]interface{}{
		"app_metadata": map[string]interface{}{
			"payments": payments,
		},
	}
	var m domain.Member
	err := c.do(ctx, http.MethodPatch, c.userURL(id), body, &m)
	return m, err
}

// SetCheckoutSessions replaces the pending checkout session ids.
func (c *Client) SetCheckoutSessions(ctx context.Context, id string, sessions map[string]string) error {
	if sessions == nil {
		sessions = map[string]string{}
	}
	body := map[string]interface{}{
		"app_metadata": map[string]interface{}{
			"checkout_sessions": sessions,
		},
	}
	return c.do(ctx, http.MethodPatch, c.userURL(id), body, nil)
}

// CreatePasswordResetTicket returns a one-time URL where the user can set a
// new password.
func (c *Client) CreatePasswordResetTicket(ctx context.Context, id, resultURL string) (string, error) {
	body := map[string]interface{}{
		"user_id": id,
	}
	if resultURL != "" {
		body["result_url"] = resultURL
	}
	var resp struct {
		Ticket string `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v2/tickets/password-change", body, &resp); err != nil {
		return "", err
	}
	return resp.Ticket, nil
}

func (c *Client) userURL(id string) string {
	return fmt.Sprintf("%s/api/v2/users/%s", c.baseURL, url.PathEscape(id))
}

// do is a helper function to make HTTP requests to the management API.
func (c *Client) do(ctx context.Context, method, url string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the provider's message from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}
