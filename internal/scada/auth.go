package scada

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Broker REST endpoints, relative to the target host.
const (
	tokenProbePath = "/restapi/users/userinfo/"
	tokenIssuePath = "/restapi/api-token-auth/"
)

// authHTTPTimeout bounds each REST call to the broker.
const authHTTPTimeout = 10 * time.Second

// Credential holds the broker account identity and the cached token.
// The token is reused across reconnects while the broker still accepts
// it; it is probed for liveness before every session, never assumed valid.
type Credential struct {
	Identity string
	Secret   string
	Token    string
}

// newAuthClient builds the HTTP client used for the token endpoints.
// TLS verification follows the VerifyTLS toggle; field brokers commonly
// run self-signed certificates.
func newAuthClient(verifyTLS bool) *http.Client {
	return &http.Client{
		Timeout: authHTTPTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !verifyTLS, //nolint:gosec // Operator-controlled toggle for self-signed brokers
			},
		},
	}
}

// probeToken checks whether the broker still accepts a cached token.
// A 200 from the userinfo endpoint means the token is live.
func (c *Client) probeToken(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL(tokenProbePath), nil)
	if err != nil {
		return false, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("token probe: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	return resp.StatusCode == http.StatusOK, nil
}

// login performs the full token exchange using identity/secret.
func (c *Client) login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", c.cred.Identity)
	form.Set("password", c.cred.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.restURL(tokenIssuePath), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login exchange: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("login response carried no token")
	}

	return body.Token, nil
}

// Authenticate ensures a live broker token is cached.
//
// It probes the cached token first (cheap liveness call); if the probe
// is rejected or no token is cached, it performs the full login
// exchange and caches the returned token.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: ErrAuthFailed (wrapped) if the broker rejects both paths
func (c *Client) Authenticate(ctx context.Context) error {
	c.setState(StateAuthenticating)

	c.credMu.RLock()
	cached := c.cred.Token
	c.credMu.RUnlock()

	if cached != "" {
		ok, err := c.probeToken(ctx, cached)
		if err != nil {
			c.logError("token probe failed", err)
		}
		if ok {
			c.logDebug("cached token accepted")
			return nil
		}
		c.logInfo("cached token rejected, performing login exchange")
	}

	if c.cred.Identity == "" {
		return fmt.Errorf("%w: no cached token and no login credentials", ErrAuthFailed)
	}

	token, err := c.login(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	c.credMu.Lock()
	c.cred.Token = token
	c.credMu.Unlock()

	// Token itself is never logged.
	c.logInfo("login exchange succeeded")
	return nil
}

// restURL builds an absolute URL for a broker REST path.
func (c *Client) restURL(path string) string {
	scheme := "https"
	if c.cfg.DisableTLS {
		scheme = "http"
	}
	return scheme + "://" + c.cfg.Target + path
}

// streamURL builds the websocket URL for the streaming endpoint.
func (c *Client) streamURL() string {
	scheme := "wss"
	if c.cfg.DisableTLS {
		scheme = "ws"
	}
	return scheme + "://" + c.cfg.Target + streamPath
}
