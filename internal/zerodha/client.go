// Package zerodha is a Kite Connect client scoped to what the screener
// needs: placing CNC orders, reading broker positions, and an automated
// TOTP login that trades the interactive flow for a stored secret.
// Without credentials every order is simulated and tagged as mock.
package zerodha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

const (
	defaultAPIBase   = "https://api.kite.trade"
	defaultLoginBase = "https://kite.zerodha.com"

	kiteVersion    = "3"
	defaultTimeout = 15 * time.Second
)

// Config carries the Kite credentials. AccessToken alone is enough for
// order placement; UserID/Password/TOTPSecret enable automated login.
type Config struct {
	APIKey      string
	APISecret   string
	AccessToken string

	UserID     string
	Password   string
	TOTPSecret string

	// APIBase and LoginBase override the API hosts, used by tests.
	APIBase   string
	LoginBase string

	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Client implements order placement against Kite Connect.
type Client struct {
	mu    sync.RWMutex
	token string

	apiKey     string
	apiSecret  string
	userID     string
	password   string
	totpSecret string

	apiBase   string
	loginBase string

	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient builds a client from cfg, filling in production defaults.
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.LoginBase == "" {
		cfg.LoginBase = defaultLoginBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		token:      cfg.AccessToken,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		userID:     cfg.UserID,
		password:   cfg.Password,
		totpSecret: cfg.TOTPSecret,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		loginBase:  strings.TrimRight(cfg.LoginBase, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    cfg.Metrics,
	}
	if !c.Configured() {
		slog.Warn("zerodha credentials not set, orders will be simulated")
	}
	return c
}

// SetAccessToken swaps the session token, e.g. after a login.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// AccessToken returns the current session token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Configured reports whether live order placement is possible.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.AccessToken() != ""
}

func (c *Client) authHeader() string {
	return "token " + c.apiKey + ":" + c.AccessToken()
}

type kiteEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) (json.RawMessage, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kite: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kite: %s %s: read body: %w", method, path, err)
	}

	var env kiteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kite: %s %s: HTTP %d: decode: %w", method, path, resp.StatusCode, err)
	}
	if env.Status != "success" {
		if env.ErrorType != "" {
			return nil, fmt.Errorf("kite: %s: %s", env.ErrorType, env.Message)
		}
		return nil, fmt.Errorf("kite: %s %s: HTTP %d: %s", method, path, resp.StatusCode, env.Message)
	}
	return env.Data, nil
}

// ── Orders ──

// PlaceOrder submits a regular CNC order. Unconfigured clients return a
// simulated fill with a MOCK- order id so the order flow stays usable
// in development.
func (c *Client) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if req.Symbol == "" {
		return model.OrderResult{}, errors.New("kite: empty trading symbol")
	}
	if req.Quantity <= 0 {
		return model.OrderResult{}, fmt.Errorf("kite: invalid quantity %d", req.Quantity)
	}

	now := time.Now()
	if !c.Configured() {
		c.metrics.OrdersPlacedInc("mock")
		return model.OrderResult{
			OrderID: fmt.Sprintf("MOCK-%s-%s", now.Format("20060102150405"), strings.ToUpper(req.Symbol)),
			Message: fmt.Sprintf("simulated %s order for %s", req.TransactionType, strings.ToUpper(req.Symbol)),
			Mock:    true,
			At:      now,
		}, nil
	}

	form := url.Values{}
	form.Set("tradingsymbol", strings.ToUpper(req.Symbol))
	form.Set("exchange", req.Exchange)
	form.Set("transaction_type", req.TransactionType)
	form.Set("order_type", req.OrderType)
	form.Set("quantity", strconv.Itoa(req.Quantity))
	form.Set("product", "CNC")
	form.Set("validity", "DAY")
	if req.OrderType == "LIMIT" {
		form.Set("price", strconv.FormatFloat(req.Price, 'f', 2, 64))
	}

	data, err := c.do(ctx, http.MethodPost, "/orders/regular", form)
	if err != nil {
		return model.OrderResult{}, err
	}

	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return model.OrderResult{}, fmt.Errorf("kite: order response: %w", err)
	}

	c.metrics.OrdersPlacedInc("live")
	slog.Info("order placed",
		"symbol", req.Symbol, "type", req.TransactionType, "qty", req.Quantity, "order_id", out.OrderID)
	return model.OrderResult{
		OrderID: out.OrderID,
		Message: fmt.Sprintf("%s order placed for %s", req.TransactionType, strings.ToUpper(req.Symbol)),
		At:      now,
	}, nil
}

// BrokerPosition is one net position as reported by the broker.
type BrokerPosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// Positions returns the broker's net positions. Unconfigured clients
// report an empty book.
func (c *Client) Positions(ctx context.Context) ([]BrokerPosition, error) {
	if !c.Configured() {
		return nil, nil
	}
	data, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Net []BrokerPosition `json:"net"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("kite: positions response: %w", err)
	}
	return out.Net, nil
}
