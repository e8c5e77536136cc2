package zerodha

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pquerna/otp/totp"
)

var errStopRedirect = errors.New("request token captured")

// TwoFACode derives the current TOTP code from the stored secret.
func (c *Client) TwoFACode() (string, error) {
	if c.totpSecret == "" {
		return "", errors.New("kite: TOTP secret not configured")
	}
	return totp.GenerateCode(c.totpSecret, time.Now())
}

// Login runs the full automated session flow: password login, TOTP
// second factor, request-token capture from the connect redirect, and
// the session/token exchange. Returns the new access token.
func (c *Client) Login(ctx context.Context) (string, error) {
	if c.userID == "" || c.password == "" {
		return "", errors.New("kite: user_id/password not configured")
	}

	// The login endpoints are session-based; a cookie jar carries the
	// auth cookies across the three hops.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", err
	}
	web := &http.Client{Timeout: c.httpClient.Timeout, Jar: jar}

	form := url.Values{}
	form.Set("user_id", c.userID)
	form.Set("password", c.password)
	var loginData struct {
		RequestID string `json:"request_id"`
	}
	if err := c.loginPost(ctx, web, "/api/login", form, &loginData); err != nil {
		return "", err
	}
	if loginData.RequestID == "" {
		return "", errors.New("kite: login returned no request_id")
	}

	code, err := c.TwoFACode()
	if err != nil {
		return "", err
	}
	form = url.Values{}
	form.Set("user_id", c.userID)
	form.Set("request_id", loginData.RequestID)
	form.Set("twofa_value", code)
	form.Set("twofa_type", "totp")
	if err := c.loginPost(ctx, web, "/api/twofa", form, &struct{}{}); err != nil {
		return "", err
	}

	requestToken, err := c.captureRequestToken(ctx, web)
	if err != nil {
		return "", err
	}
	return c.GenerateSession(ctx, requestToken)
}

// captureRequestToken follows the connect/login redirect chain until a
// hop carries ?request_token=, then stops without calling the app's
// redirect URI.
func (c *Client) captureRequestToken(ctx context.Context, web *http.Client) (string, error) {
	var token string
	web.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if t := req.URL.Query().Get("request_token"); t != "" {
			token = t
			return errStopRedirect
		}
		if len(via) >= 10 {
			return errors.New("too many redirects")
		}
		return nil
	}
	defer func() { web.CheckRedirect = nil }()

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("v", kiteVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.loginBase+"/connect/login?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := web.Do(req)
	if err != nil && !errors.Is(err, errStopRedirect) {
		return "", fmt.Errorf("kite: connect login: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	if token == "" {
		return "", errors.New("kite: redirect carried no request_token")
	}
	return token, nil
}

// GenerateSession trades a request token for an access token using the
// sha256(api_key + request_token + api_secret) checksum, and installs
// the token on the client.
func (c *Client) GenerateSession(ctx context.Context, requestToken string) (string, error) {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + c.apiSecret))

	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", hex.EncodeToString(sum[:]))

	data, err := c.do(ctx, http.MethodPost, "/session/token", form)
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("kite: session response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("kite: session returned no access token")
	}
	c.SetAccessToken(out.AccessToken)
	return out.AccessToken, nil
}

// loginPost posts a form to the web login API and decodes data into out.
func (c *Client) loginPost(ctx context.Context, web *http.Client, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.loginBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", kiteVersion)

	resp, err := web.Do(req)
	if err != nil {
		return fmt.Errorf("kite: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kite: %s: read body: %w", path, err)
	}
	var env kiteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("kite: %s: HTTP %d: decode: %w", path, resp.StatusCode, err)
	}
	if env.Status != "success" {
		return fmt.Errorf("kite: %s: %s", path, env.Message)
	}
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("kite: %s: data decode: %w", path, err)
		}
	}
	return nil
}
