// Package upstox is an HTTP client for the Upstox market data and login
// APIs. It covers the OAuth login dialog, historical candles, and live
// OHLC quotes. Without an access token the client serves deterministic
// mock data so the rest of the service works unconfigured.
package upstox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

const (
	defaultAuthBase = "https://api.upstox.com/v2"
	defaultDataBase = "https://api.upstox.com/v3"

	// The OHLC quote endpoint accepts at most this many instrument keys
	// per request.
	maxQuoteBatch = 50

	// Pause between consecutive quote batches of one Quotes call.
	quoteBatchPause = 250 * time.Millisecond

	// Wait before the single retry after an HTTP 429.
	rateLimitBackoff = time.Second

	defaultTimeout = 30 * time.Second
)

// ErrNoData marks an empty candle response for a data range that should
// have sessions.
var ErrNoData = errors.New("upstox: no candle data")

// Config carries the client credentials and endpoint overrides.
type Config struct {
	APIKey      string
	APISecret   string
	RedirectURI string
	AccessToken string

	// AuthBase and DataBase override the API hosts, used by tests.
	AuthBase string
	DataBase string

	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Client talks to the Upstox v2 login and v3 market data APIs. It is
// safe for concurrent use; the refresh workers share one instance.
type Client struct {
	mu    sync.RWMutex
	token string

	apiKey      string
	apiSecret   string
	redirectURI string
	authBase    string
	dataBase    string

	httpClient *http.Client
	metrics    *metrics.Metrics

	backoff    time.Duration
	batchPause time.Duration
}

// NewClient builds a client from cfg, filling in production defaults.
func NewClient(cfg Config) *Client {
	if cfg.AuthBase == "" {
		cfg.AuthBase = defaultAuthBase
	}
	if cfg.DataBase == "" {
		cfg.DataBase = defaultDataBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		token:       cfg.AccessToken,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		redirectURI: cfg.RedirectURI,
		authBase:    strings.TrimRight(cfg.AuthBase, "/"),
		dataBase:    strings.TrimRight(cfg.DataBase, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		metrics:     cfg.Metrics,
		backoff:     rateLimitBackoff,
		batchPause:  quoteBatchPause,
	}
	if !c.Configured() {
		slog.Warn("upstox access token not set, serving mock market data")
	}
	return c
}

// SetAccessToken swaps the bearer token, e.g. after the OAuth callback.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// AccessToken returns the current bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Configured reports whether the client holds an access token. When
// false, data methods return mock values.
func (c *Client) Configured() bool {
	return c.AccessToken() != ""
}

// ── API envelope ──

type apiFault struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

type envelope struct {
	Status string     `json:"status"`
	Errors []apiFault `json:"errors"`
}

func (e envelope) err() error {
	if e.Status == "success" {
		return nil
	}
	if len(e.Errors) > 0 {
		return fmt.Errorf("upstox: %s: %s", e.Errors[0].ErrorCode, e.Errors[0].Message)
	}
	return fmt.Errorf("upstox: status %q", e.Status)
}

// getJSON performs an authenticated GET and decodes the response into
// out. A 429 is retried once after a one second pause.
func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, out any) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.AccessToken())

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveUpstream(endpoint, 0, time.Since(start))
			return fmt.Errorf("upstox: %s: %w", endpoint, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.metrics.ObserveUpstream(endpoint, resp.StatusCode, time.Since(start))
		if err != nil {
			return fmt.Errorf("upstox: %s: read body: %w", endpoint, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			slog.Warn("upstox rate limit hit, backing off", "endpoint", endpoint)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upstox: %s: HTTP %d: %s", endpoint, resp.StatusCode, trim(body))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("upstox: %s: decode: %w", endpoint, err)
		}
		return nil
	}
}

func trim(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// ── Historical candles ──

type candleResponse struct {
	envelope
	Data struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}

// Candles fetches historical candles for an instrument key between from
// and to (dates inclusive). Rows come back in provider order, newest
// first; callers normalize. unit is "days" or "months", interval the
// multiplier, usually "1".
func (c *Client) Candles(ctx context.Context, instrumentKey, unit, interval string, from, to time.Time) ([]model.Candle, error) {
	if !c.Configured() {
		return mockCandles(instrumentKey, unit, from, to), nil
	}

	rawURL := fmt.Sprintf("%s/historical-candle/%s/%s/%s/%s/%s",
		c.dataBase, url.PathEscape(instrumentKey), unit, interval,
		to.Format("2006-01-02"), from.Format("2006-01-02"))

	var resp candleResponse
	if err := c.getJSON(ctx, "historical-candle", rawURL, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	out := make([]model.Candle, 0, len(resp.Data.Candles))
	for _, row := range resp.Data.Candles {
		if cd, ok := decodeCandleRow(row); ok {
			out = append(out, cd)
		}
	}
	return out, nil
}

// decodeCandleRow maps one positional candle array
// [timestamp, open, high, low, close, volume, oi] to a Candle.
func decodeCandleRow(row []any) (model.Candle, bool) {
	if len(row) < 6 {
		return model.Candle{}, false
	}
	ts, ok := row[0].(string)
	if !ok || ts == "" {
		return model.Candle{}, false
	}
	nums := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		f, ok := row[i].(float64)
		if !ok {
			return model.Candle{}, false
		}
		nums[i-1] = f
	}
	return model.Candle{
		Date:   ts,
		Open:   nums[0],
		High:   nums[1],
		Low:    nums[2],
		Close:  nums[3],
		Volume: int64(nums[4]),
	}, true
}

// MonthlyHigh returns the highest monthly-candle high over the last
// `years` years, used to seed the all-time high.
func (c *Client) MonthlyHigh(ctx context.Context, instrumentKey string, years int) (float64, error) {
	to := time.Now()
	from := to.AddDate(-years, 0, 0)
	candles, err := c.Candles(ctx, instrumentKey, "months", "1", from, to)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("monthly high %s: %w", instrumentKey, ErrNoData)
	}
	high := 0.0
	for _, cd := range candles {
		if cd.High > high {
			high = cd.High
		}
	}
	return high, nil
}

// ── Live OHLC quotes ──

type ohlcPayload struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	TS     int64   `json:"ts"`
}

type quotePayload struct {
	LastPrice       float64     `json:"last_price"`
	InstrumentToken string      `json:"instrument_token"`
	LiveOHLC        ohlcPayload `json:"live_ohlc"`
	PrevOHLC        ohlcPayload `json:"prev_ohlc"`
}

type quoteResponse struct {
	envelope
	Data map[string]quotePayload `json:"data"`
}

func toQuote(p quotePayload) model.Quote {
	return model.Quote{
		LastPrice: p.LastPrice,
		LiveOHLC:  model.OHLC(p.LiveOHLC),
		PrevOHLC:  model.OHLC(p.PrevOHLC),
	}
}

// SymbolOf extracts the uppercase trading symbol from an instrument key
// or a quote response key ("NSE_EQ|INFY" and "NSE_EQ:INFY" both give
// "INFY").
func SymbolOf(key string) string {
	if i := strings.LastIndexAny(key, ":|"); i >= 0 {
		key = key[i+1:]
	}
	return strings.ToUpper(key)
}

// quoteBatch fetches one OHLC quote request for up to maxQuoteBatch
// keys. The returned map is keyed by instrument key.
func (c *Client) quoteBatch(ctx context.Context, keys []string) (map[string]model.Quote, error) {
	q := url.Values{}
	q.Set("instrument_key", strings.Join(keys, ","))
	q.Set("interval", "1d")
	rawURL := c.dataBase + "/market-quote/ohlc?" + q.Encode()

	var resp quoteResponse
	if err := c.getJSON(ctx, "market-quote-ohlc", rawURL, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	// Response keys use ':' where instrument keys use '|', and the
	// instrument_token field is not always populated. Re-key by the
	// requested instrument keys via their trading symbol.
	bySymbol := make(map[string]quotePayload, len(resp.Data))
	for respKey, payload := range resp.Data {
		if payload.InstrumentToken != "" {
			bySymbol[SymbolOf(payload.InstrumentToken)] = payload
		} else {
			bySymbol[SymbolOf(respKey)] = payload
		}
	}

	out := make(map[string]model.Quote, len(keys))
	for _, key := range keys {
		if payload, ok := bySymbol[SymbolOf(key)]; ok {
			out[key] = toQuote(payload)
		}
	}
	return out, nil
}

// Quote fetches the live OHLC quote for one instrument key.
func (c *Client) Quote(ctx context.Context, instrumentKey string) (model.Quote, error) {
	if !c.Configured() {
		return mockQuote(instrumentKey), nil
	}
	batch, err := c.quoteBatch(ctx, []string{instrumentKey})
	if err != nil {
		return model.Quote{}, err
	}
	q, ok := batch[instrumentKey]
	if !ok {
		return model.Quote{}, fmt.Errorf("upstox: no quote for %s", instrumentKey)
	}
	return q, nil
}

// Quotes fetches live quotes for all given instrument keys, splitting
// into provider-sized batches with a pause between them. The result is
// keyed by uppercase trading symbol. On partial failure the fetched
// quotes are returned together with a joined error.
func (c *Client) Quotes(ctx context.Context, instrumentKeys []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(instrumentKeys))
	if len(instrumentKeys) == 0 {
		return out, nil
	}
	if !c.Configured() {
		for _, key := range instrumentKeys {
			out[SymbolOf(key)] = mockQuote(key)
		}
		return out, nil
	}

	var errs []error
	for start := 0; start < len(instrumentKeys); start += maxQuoteBatch {
		if start > 0 {
			select {
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				return out, errors.Join(errs...)
			case <-time.After(c.batchPause):
			}
		}
		end := min(start+maxQuoteBatch, len(instrumentKeys))
		batch, err := c.quoteBatch(ctx, instrumentKeys[start:end])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for key, quote := range batch {
			out[SymbolOf(key)] = quote
		}
	}
	return out, errors.Join(errs...)
}
