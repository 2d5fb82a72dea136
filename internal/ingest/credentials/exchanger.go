package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/ingest/audit"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
)

// maxTokenResponse bounds how much of the token endpoint response is read.
const maxTokenResponse = 64 * 1024

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

// HTTPExchanger calls an OAuth2 token endpoint with client basic auth.
// Every attempt is recorded; successful response bodies carry secrets and
// are never stored.
type HTTPExchanger struct {
	tokenURL    string
	redirectURI string
	client      *http.Client
	recorder    audit.Recorder
}

func NewHTTPExchanger(tokenURL, redirectURI string, client *http.Client, recorder audit.Recorder) *HTTPExchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExchanger{tokenURL: tokenURL, redirectURI: redirectURI, client: client, recorder: recorder}
}

func (e *HTTPExchanger) Refresh(ctx context.Context, set models.CredentialSet) (TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", set.RefreshToken)
	return e.exchange(ctx, common.EndpointRefreshToken, form, set)
}

func (e *HTTPExchanger) ExchangeCode(ctx context.Context, code string, set models.CredentialSet) (TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if e.redirectURI != "" {
		form.Set("redirect_uri", e.redirectURI)
	}
	return e.exchange(ctx, common.EndpointAuthorizationCode, form, set)
}

func (e *HTTPExchanger) exchange(ctx context.Context, endpoint string, form url.Values, set models.CredentialSet) (TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(set.ClientID, set.ClientSecret)

	resp, err := e.client.Do(req)
	if err != nil {
		e.recorder.Record(ctx, models.ApiCall{Endpoint: endpoint, ResponseBody: err.Error()})
		return TokenPair{}, &common.TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		e.recorder.Record(ctx, models.ApiCall{Endpoint: endpoint, ResponseStatus: resp.StatusCode})
		return TokenPair{}, &common.TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Error bodies hold only error codes and descriptions.
		e.recorder.Record(ctx, models.ApiCall{Endpoint: endpoint, ResponseStatus: resp.StatusCode, ResponseBody: string(body)})
		return TokenPair{}, fmt.Errorf("%w: %s returned %d", common.ErrRefreshRejected, endpoint, resp.StatusCode)
	}
	e.recorder.Record(ctx, models.ApiCall{Endpoint: endpoint, ResponseStatus: resp.StatusCode})

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenPair{}, fmt.Errorf("%w: decode %s response: %v", common.ErrRefreshRejected, endpoint, err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: %s response missing tokens", common.ErrRefreshRejected, endpoint)
	}
	return TokenPair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, IDToken: tr.IDToken}, nil
}
