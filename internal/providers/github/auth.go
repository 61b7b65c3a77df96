package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	appJWTLifetime = 10 * time.Minute
	// Installation tokens are refreshed this long before GitHub expires them.
	tokenRefreshSkew = time.Minute
)

type installationToken struct {
	token     string
	expiresAt time.Time
}

// AppAuth authenticates as a GitHub App and mints installation tokens.
type AppAuth struct {
	appID      string
	key        *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	tokens map[int64]installationToken
}

// NewAppAuth parses a PEM encoded RSA private key.
func NewAppAuth(appID string, keyPEM []byte, baseURL string) (*AppAuth, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, fmt.Errorf("github app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &AppAuth{
		appID:      appID,
		key:        key,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		tokens:     make(map[int64]installationToken),
	}, nil
}

// LoadAppAuth reads the private key from keyPath.
func LoadAppAuth(appID, keyPath, baseURL string) (*AppAuth, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("private key not found at %s: %w", keyPath, err)
	}
	return NewAppAuth(appID, pem, baseURL)
}

// JWT returns an RS256 app token valid for ten minutes.
func (a *AppAuth) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
		Issuer:    a.appID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

// InstallationToken returns a cached or freshly minted token for installationID.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	cached, ok := a.tokens[installationID]
	a.mu.Unlock()
	if ok && a.now().Add(tokenRefreshSkew).Before(cached.expiresAt) {
		return cached.token, nil
	}

	appJWT, err := a.JWT()
	if err != nil {
		return "", err
	}

	op := "create installation token"
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", &CodeHostError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &CodeHostError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", &CodeHostError{Op: op, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &CodeHostError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	a.mu.Lock()
	a.tokens[installationID] = installationToken{token: body.Token, expiresAt: body.ExpiresAt}
	a.mu.Unlock()

	log.Debug().Int64("installation_id", installationID).Time("expires_at", body.ExpiresAt).Msg("Minted installation token")
	return body.Token, nil
}

// ClientFactory builds API clients bound to one installation.
type ClientFactory struct {
	auth    *AppAuth
	baseURL string
	opts    []ClientOption
}

func NewClientFactory(auth *AppAuth, baseURL string, opts ...ClientOption) *ClientFactory {
	return &ClientFactory{auth: auth, baseURL: baseURL, opts: opts}
}

// ForInstallation returns a client authenticated for installationID.
func (f *ClientFactory) ForInstallation(ctx context.Context, installationID int64) (*Client, error) {
	token, err := f.auth.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return NewClient(f.baseURL, token, f.opts...), nil
}
