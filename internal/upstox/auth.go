package upstox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// AuthURL returns the login dialog URL the user opens in a browser. The
// provider redirects back to the configured redirect URI with ?code=.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.apiKey)
	q.Set("redirect_uri", c.redirectURI)
	if state != "" {
		q.Set("state", state)
	}
	return c.authBase + "/login/authorization/dialog?" + q.Encode()
}

// ExchangeCode trades the one-time authorization code for an access
// token and installs it on the client.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", c.apiKey)
	form.Set("client_secret", c.apiSecret)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authBase+"/login/authorization/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstox: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upstox: token exchange: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstox: token exchange: HTTP %d: %s", resp.StatusCode, trim(body))
	}

	var payload struct {
		AccessToken string     `json:"access_token"`
		Errors      []apiFault `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("upstox: token exchange: decode: %w", err)
	}
	if payload.AccessToken == "" {
		if len(payload.Errors) > 0 {
			return "", fmt.Errorf("upstox: token exchange: %s: %s",
				payload.Errors[0].ErrorCode, payload.Errors[0].Message)
		}
		return "", fmt.Errorf("upstox: token exchange: empty access token")
	}

	c.SetAccessToken(payload.AccessToken)
	return payload.AccessToken, nil
}
