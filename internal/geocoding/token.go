package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// EsriTokenURL is the ArcGIS OAuth2 endpoint issuing application tokens.
const EsriTokenURL = "https://www.arcgis.com/sharing/rest/oauth2/token"

// DefaultTokenExpiration is the lifetime requested for new tokens.
const DefaultTokenExpiration = 24 * time.Hour

// ErrEsriEmptyToken is returned when the token endpoint answers without an access token.
var ErrEsriEmptyToken = errors.New("esri token endpoint returned empty access token")

// Token is a short-lived ArcGIS access token.
// A zero ExpiresAt means the token never expires (a preset token).
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the token can still be used.
func (t *Token) Active() bool {
	if t == nil || t.Value == "" {
		return false
	}

	return t.ExpiresAt.IsZero() || time.Now().Before(t.ExpiresAt)
}

func (t *Token) String() string {
	if t == nil {
		return ""
	}

	return t.Value
}

// APIKey is an ArcGIS application's client credentials.
type APIKey struct {
	ClientID     string
	ClientSecret string
}

// IsZero reports whether the key pair is incomplete.
func (k APIKey) IsZero() bool {
	return k.ClientID == "" || k.ClientSecret == ""
}

// TokenIssuer creates new access tokens.
type TokenIssuer interface {
	IssueToken(ctx context.Context, key APIKey) (*Token, error)
}

// EsriTokenIssuer requests tokens from the ArcGIS OAuth2 endpoint using the
// client credentials grant.
type EsriTokenIssuer struct {
	client     HTTPClient
	tokenURL   string
	expiration time.Duration
	log        *slog.Logger
}

type esriTokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"` // seconds
	Error       *APIError `json:"error"`
}

// NewEsriTokenIssuer creates a token issuer. A non-positive expiration falls back to DefaultTokenExpiration.
func NewEsriTokenIssuer(client HTTPClient, expiration time.Duration, log *slog.Logger) *EsriTokenIssuer {
	if expiration <= 0 {
		expiration = DefaultTokenExpiration
	}

	return &EsriTokenIssuer{
		client:     client,
		tokenURL:   EsriTokenURL,
		expiration: expiration,
		log:        log,
	}
}

// IssueToken exchanges the key pair for a new access token.
func (ti *EsriTokenIssuer) IssueToken(ctx context.Context, key APIKey) (*Token, error) {
	form := url.Values{}
	form.Set("f", "json")
	form.Set("client_id", key.ClientID)
	form.Set("client_secret", key.ClientSecret)
	form.Set("grant_type", "client_credentials")
	form.Set("expiration", strconv.FormatInt(int64(ti.expiration/time.Minute), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ti.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	requestedAt := time.Now()
	resp, err := ti.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esri token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var result esriTokenResponse
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if result.Error != nil {
		return nil, result.Error
	}

	if result.AccessToken == "" {
		return nil, ErrEsriEmptyToken
	}

	lifetime := ti.expiration
	if result.ExpiresIn > 0 {
		lifetime = time.Duration(result.ExpiresIn) * time.Second
	}

	ti.log.DebugContext(ctx, "Issued new Esri token", "expires_in", lifetime)

	return &Token{Value: result.AccessToken, ExpiresAt: requestedAt.Add(lifetime)}, nil
}
