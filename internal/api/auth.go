package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// upstoxAuthURL returns the provider OAuth URL the operator opens in a
// browser; the redirect lands back with ?code= for the exchange step.
func (s *Server) upstoxAuthURL(c *gin.Context) {
	if s.upstox == nil {
		fail(c, http.StatusServiceUnavailable, "provider client not configured")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"auth_url": s.upstox.AuthURL(""),
	})
}

func (s *Server) upstoxExchangeToken(c *gin.Context) {
	if s.upstox == nil {
		fail(c, http.StatusServiceUnavailable, "provider client not configured")
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		fail(c, http.StatusBadRequest, "code is required")
		return
	}
	token, err := s.upstox.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		fail(c, http.StatusBadRequest, "token exchange failed: %v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"access_token": token,
	})
}

// upstoxSaveToken persists a provider access token into the config file
// and hot-applies it to the running client, so data calls pick it up
// without a restart.
func (s *Server) upstoxSaveToken(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		fail(c, http.StatusBadRequest, "access_token is required")
		return
	}
	if s.cfg == nil {
		fail(c, http.StatusInternalServerError, "no config file to save token into")
		return
	}
	if err := s.cfg.SaveUpstoxToken(token); err != nil {
		fail(c, http.StatusInternalServerError, "save token: %v", err)
		return
	}
	if s.upstox != nil {
		s.upstox.SetAccessToken(token)
	}
	if s.health != nil {
		s.health.SetUpstoxConfigured(true)
	}
	slog.Info("upstox access token saved and applied")
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Access token saved to config and applied to the running client",
	})
}

// kiteLogin runs the automated password + TOTP login flow and installs
// the resulting access token on the broker client.
func (s *Server) kiteLogin(c *gin.Context) {
	if s.kite == nil {
		fail(c, http.StatusServiceUnavailable, "broker client not configured")
		return
	}
	token, err := s.kite.Login(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadGateway, "kite login: %v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"access_token": token,
		"message":      "Broker session established",
	})
}

// kiteSession trades a request token captured from a manual browser
// login for an access token.
func (s *Server) kiteSession(c *gin.Context) {
	if s.kite == nil {
		fail(c, http.StatusServiceUnavailable, "broker client not configured")
		return
	}
	var req struct {
		RequestToken string `json:"request_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	token := strings.TrimSpace(req.RequestToken)
	if token == "" {
		fail(c, http.StatusBadRequest, "request_token is required")
		return
	}
	accessToken, err := s.kite.GenerateSession(c.Request.Context(), token)
	if err != nil {
		fail(c, http.StatusBadGateway, "kite session: %v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"access_token": accessToken,
		"message":      "Broker session established",
	})
}
