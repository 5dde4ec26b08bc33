// Package remote is the HTTP client for the Motium backend: per-entity
// upsert/delete/pull endpoints plus the session refresh endpoint. Pushes are
// idempotent on the backend (same entity id = replace, not duplicate).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	apperrors "github.com/motium-app/sync-agent/internal/errors"
	"github.com/motium-app/sync-agent/internal/models"
)

// TokenProvider supplies the current access token for outgoing requests.
type TokenProvider interface {
	AccessToken() (string, bool)
}

// sessionTokenSource adapts the session store to oauth2.TokenSource so the
// bearer header always reflects the credential as of the request, including
// right after a concurrent refresh.
type sessionTokenSource struct {
	tokens TokenProvider
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	token, ok := s.tokens.AccessToken()
	if !ok {
		return nil, apperrors.NewAuthError("no session available", nil)
	}
	return &oauth2.Token{AccessToken: token}, nil
}

// Client talks to the Motium backend.
type Client struct {
	client  *http.Client
	plain   *http.Client
	tokens  TokenProvider
	baseURL string
	logger  *logrus.Logger
	timeout time.Duration
}

// ClientOption allows configuring the backend client
type ClientOption func(*Client)

// WithTimeout bounds every individual request.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a new backend client. Authenticated endpoints go through
// an oauth2 transport fed by the session store; the refresh and health
// endpoints use a plain client so they work without a valid bearer token.
func NewClient(baseURL string, tokens TokenProvider, logger *logrus.Logger, opts ...ClientOption) *Client {
	client := &Client{
		client: &http.Client{
			Transport: &oauth2.Transport{Source: &sessionTokenSource{tokens: tokens}},
		},
		plain:   &http.Client{},
		tokens:  tokens,
		baseURL: baseURL,
		logger:  logger,
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.client.Timeout = client.timeout
	client.plain.Timeout = client.timeout

	return client
}

// classify maps a backend response status to the agent's error taxonomy.
func classify(statusCode int, body string) error {
	apiErr := NewAPIError(statusCode, body, nil)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return apperrors.NewAuthError("request rejected by backend", apiErr)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return apperrors.NewTransientError("backend unavailable", apiErr)
	default:
		return apperrors.NewPermanentError("request failed", apiErr)
	}
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path string, body, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalError("failed to encode request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.NewInternalError("failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		// Transport-level failures (timeouts, resets, DNS) retry next pass.
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Warn("Backend request failed")
		return apperrors.NewTransientError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransientError("failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperrors.NewPermanentError("failed to decode response", err)
		}
	}

	return nil
}

// UpsertTrip pushes a trip snapshot. CREATE and UPDATE both land here; the
// backend replaces by id.
func (c *Client) UpsertTrip(ctx context.Context, trip *models.Trip) error {
	return c.do(ctx, c.client, http.MethodPut, "/v1/trips/"+trip.ID, trip, nil)
}

// DeleteTrip removes a trip remotely. A 404 means it was already gone, which
// counts as success for a retried delete.
func (c *Client) DeleteTrip(ctx context.Context, id string) error {
	err := c.do(ctx, c.client, http.MethodDelete, "/v1/trips/"+id, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// PullTrips fetches the authoritative trip set for the user.
func (c *Client) PullTrips(ctx context.Context) ([]*models.Trip, error) {
	var trips []*models.Trip
	if err := c.do(ctx, c.client, http.MethodGet, "/v1/trips", nil, &trips); err != nil {
		return nil, err
	}
	return trips, nil
}

// UpsertVehicle pushes a vehicle snapshot.
func (c *Client) UpsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	return c.do(ctx, c.client, http.MethodPut, "/v1/vehicles/"+vehicle.ID, vehicle, nil)
}

// DeleteVehicle removes a vehicle remotely.
func (c *Client) DeleteVehicle(ctx context.Context, id string) error {
	err := c.do(ctx, c.client, http.MethodDelete, "/v1/vehicles/"+id, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// PullVehicles fetches the authoritative vehicle set for the user.
func (c *Client) PullVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	var vehicles []*models.Vehicle
	if err := c.do(ctx, c.client, http.MethodGet, "/v1/vehicles", nil, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// refreshResponse is the wire shape of the auth refresh endpoint.
type refreshResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RefreshSession exchanges the current credential for a fresh one. It goes
// through the plain client: the refresh endpoint authenticates the existing
// token from the request body, and an expired bearer header must not make
// renewal impossible.
func (c *Client) RefreshSession(ctx context.Context) (*models.Session, error) {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, apperrors.NewAuthError("no session to refresh", nil)
	}

	var resp refreshResponse
	body := map[string]string{"access_token": token}
	if err := c.do(ctx, c.plain, http.MethodPost, "/v1/auth/refresh", body, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, apperrors.NewPermanentError("refresh returned empty token", nil)
	}

	return &models.Session{AccessToken: resp.AccessToken, ExpiresAt: resp.ExpiresAt}, nil
}

// Health probes the backend; the connectivity monitor uses it.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, c.plain, http.MethodGet, "/v1/health", nil, nil)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}
