package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/ports"
	httptransport "github.com/layer-3/sessionkit/transport/http"
)

// DefaultTimeout bounds every call to the issuing server
const DefaultTimeout = 10 * time.Second

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type introspectResponse struct {
	Valid bool `json:"valid"`
}

// HTTPIssuer talks to the issuing server's JSON endpoints. Its client must
// not be the session pipeline: renewal calls never carry the access
// credential being renewed.
type HTTPIssuer struct {
	baseURL string
	client  *http.Client
}

// Option customizes an HTTPIssuer
type Option func(*HTTPIssuer)

// WithHTTPClient replaces the underlying client
func WithHTTPClient(c *http.Client) Option {
	return func(i *HTTPIssuer) { i.client = c }
}

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(i *HTTPIssuer) { i.client.Timeout = d }
}

// NewHTTPIssuer creates an issuer client. baseURL is the prefix the
// /login, /refresh, /introspect and /logout paths are appended to.
func NewHTTPIssuer(baseURL string, opts ...Option) *HTTPIssuer {
	i := &HTTPIssuer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

var _ ports.Issuer = (*HTTPIssuer)(nil)

// Login exchanges user credentials for a token pair
func (i *HTTPIssuer) Login(ctx context.Context, username, password string) (core.TokenPair, error) {
	req, err := i.newRequest(ctx, "/login", "", credentialsRequest{Username: username, Password: password})
	if err != nil {
		return core.TokenPair{}, err
	}
	return i.tokens(req)
}

// Refresh exchanges a renewal credential for a new token pair
func (i *HTTPIssuer) Refresh(ctx context.Context, renewal core.Credential) (core.TokenPair, error) {
	req, err := i.newRequest(ctx, "/refresh", "", tokenRequest{RefreshToken: renewal.String()})
	if err != nil {
		return core.TokenPair{}, err
	}
	return i.tokens(req)
}

// Introspect asks the server whether the access credential is still valid
func (i *HTTPIssuer) Introspect(ctx context.Context, access core.Credential) (bool, error) {
	req, err := i.newRequest(ctx, "/introspect", "", tokenRequest{AccessToken: access.String()})
	if err != nil {
		return false, err
	}

	resp, err := httptransport.DoJSON[introspectResponse](i.client, req)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Logout invalidates the session server-side
func (i *HTTPIssuer) Logout(ctx context.Context, access core.Credential) error {
	req, err := i.newRequest(ctx, "/logout", access, tokenRequest{AccessToken: access.String()})
	if err != nil {
		return err
	}

	_, err = httptransport.DoJSON[json.RawMessage](i.client, req)
	return err
}

func (i *HTTPIssuer) tokens(req *http.Request) (core.TokenPair, error) {
	resp, err := httptransport.DoJSON[tokenResponse](i.client, req)
	if err != nil {
		return core.TokenPair{}, err
	}
	if resp.AccessToken == "" {
		return core.TokenPair{}, &core.APIError{
			Kind:    core.KindServer,
			Status:  http.StatusOK,
			Message: "response carries no access_token",
		}
	}
	return core.TokenPair{
		Access:  core.Credential(resp.AccessToken),
		Renewal: core.Credential(resp.RefreshToken),
	}, nil
}

func (i *HTTPIssuer) newRequest(ctx context.Context, path string, bearer core.Credential, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &core.APIError{Kind: core.KindBadRequest, Message: "invalid issuer url", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if !bearer.IsZero() {
		req.Header.Set("Authorization", "Bearer "+bearer.String())
	}
	return req, nil
}
