package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// ── Positions ──

func TestListPositionsValuation(t *testing.T) {
	env := newTestEnv(t)

	// INFY prices from the watchlist snapshot, TCS from a live quote.
	if err := env.master.Add(model.WatchRecord{
		TradingSymbol: "INFY",
		InstrumentKey: "NSE_EQ|INFY",
		CP:            150,
	}); err != nil {
		t.Fatal(err)
	}
	env.market.mu.Lock()
	env.market.quotes["TCS"] = model.Quote{LastPrice: 60}
	env.market.mu.Unlock()

	for _, p := range []model.Position{
		{Symbol: "INFY", StockName: "Infosys Ltd", BuyPrice: 100, BuyDate: "2026-01-05", Quantity: 2},
		{Symbol: "TCS", StockName: "Tata Consultancy", BuyPrice: 50, BuyDate: "2026-02-10", Quantity: 1},
	} {
		if err := env.positions.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	code, resp := env.do(t, http.MethodGet, "/api/positions", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /api/positions = %d: %v", code, resp)
	}
	rows := dataList(t, resp)
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}

	infy := rows[0].(map[string]any)
	if num(t, infy, "current_price") != 150 || num(t, infy, "pnl") != 100 || num(t, infy, "pnl_pct") != 50 {
		t.Errorf("INFY valuation = %v", infy)
	}
	tcs := rows[1].(map[string]any)
	if num(t, tcs, "current_price") != 60 || num(t, tcs, "pnl") != 10 {
		t.Errorf("TCS valuation = %v", tcs)
	}

	summary := dataObj(t, resp, "summary")
	if num(t, summary, "total_investment") != 250 ||
		num(t, summary, "total_current_value") != 360 ||
		num(t, summary, "total_pnl") != 110 ||
		num(t, summary, "total_pnl_pct") != 44 {
		t.Errorf("summary = %v", summary)
	}
}

func TestListPositionsFallsBackToBuyPrice(t *testing.T) {
	env := newTestEnv(t)
	// No watchlist entry and no quote: the position values at cost.
	if err := env.positions.Add(model.Position{Symbol: "ZYXW", BuyPrice: 80, Quantity: 3}); err != nil {
		t.Fatal(err)
	}

	_, resp := env.do(t, http.MethodGet, "/api/positions", nil)
	row := dataList(t, resp)[0].(map[string]any)
	if num(t, row, "current_price") != 80 || num(t, row, "pnl") != 0 {
		t.Errorf("row = %v, want valuation at cost", row)
	}
}

func TestAddPosition(t *testing.T) {
	env := newTestEnv(t)
	if err := env.master.Add(model.WatchRecord{TradingSymbol: "INFY", StockName: "Infosys Ltd"}); err != nil {
		t.Fatal(err)
	}

	code, resp := env.do(t, http.MethodPost, "/api/positions", map[string]any{
		"symbol":    "infy",
		"buy_price": 1500.256,
	})
	if code != http.StatusCreated {
		t.Fatalf("POST /api/positions = %d: %v", code, resp)
	}
	data := dataObj(t, resp, "data")
	if data["symbol"] != "INFY" {
		t.Errorf("symbol = %v", data["symbol"])
	}
	if data["stock_name"] != "Infosys Ltd" {
		t.Errorf("stock_name = %v, want the watchlist name", data["stock_name"])
	}
	if num(t, data, "buy_price") != 1500.26 {
		t.Errorf("buy_price = %v, want rounded 1500.26", data["buy_price"])
	}
	if num(t, data, "quantity") != 1 {
		t.Errorf("quantity = %v, want config default 1", data["quantity"])
	}
	if len(data["buy_date"].(string)) != len("2006-01-02") {
		t.Errorf("buy_date = %v, want today's date stamped", data["buy_date"])
	}

	code, resp = env.do(t, http.MethodPost, "/api/positions", map[string]any{"buy_price": 10.0})
	if code != http.StatusBadRequest {
		t.Errorf("missing symbol = %d, want 400: %v", code, resp)
	}
	code, resp = env.do(t, http.MethodPost, "/api/positions", map[string]any{"symbol": "TCS", "buy_price": -1.0})
	if code != http.StatusBadRequest {
		t.Errorf("negative price = %d, want 400: %v", code, resp)
	}
}

func TestDeletePosition(t *testing.T) {
	env := newTestEnv(t)
	if err := env.positions.Add(model.Position{Symbol: "INFY", BuyPrice: 100, Quantity: 1}); err != nil {
		t.Fatal(err)
	}

	code, _ := env.do(t, http.MethodDelete, "/api/positions/infy", nil)
	if code != http.StatusOK {
		t.Fatalf("DELETE = %d", code)
	}
	if code, _ := env.do(t, http.MethodDelete, "/api/positions/INFY", nil); code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", code)
	}
}

// ── Orders ──

func TestBuyOpensPosition(t *testing.T) {
	env := newTestEnv(t)
	if err := env.master.Add(model.WatchRecord{TradingSymbol: "INFY", StockName: "Infosys Ltd"}); err != nil {
		t.Fatal(err)
	}

	code, resp := env.do(t, http.MethodPost, "/api/orders/buy", map[string]any{
		"symbol":   "infy",
		"quantity": 2,
		"price":    110.5,
	})
	if code != http.StatusOK {
		t.Fatalf("POST /buy = %d: %v", code, resp)
	}

	got := env.broker.orders()
	if len(got) != 1 {
		t.Fatalf("broker orders = %+v", got)
	}
	want := model.OrderRequest{
		Symbol:          "INFY",
		TransactionType: "BUY",
		Quantity:        2,
		OrderType:       "MARKET",
		Price:           110.5,
		Exchange:        "NSE",
	}
	if got[0] != want {
		t.Errorf("order = %+v, want %+v", got[0], want)
	}

	order := dataObj(t, resp, "order")
	if order["order_id"] != "FAKE-BUY" {
		t.Errorf("order_id = %v", order["order_id"])
	}
	position := dataObj(t, resp, "position")
	if num(t, position, "buy_price") != 110.5 || position["stock_name"] != "Infosys Ltd" {
		t.Errorf("position = %v", position)
	}

	if p, ok, _ := env.positions.Find("INFY"); !ok || p.Quantity != 2 {
		t.Errorf("position not persisted: %+v ok=%v", p, ok)
	}
}

func TestBuyBrokerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.broker.err = errors.New("margin exceeded")

	code, resp := env.do(t, http.MethodPost, "/api/orders/buy", map[string]any{
		"symbol": "INFY", "price": 100.0,
	})
	if code != http.StatusBadGateway {
		t.Fatalf("POST /buy with broker down = %d: %v", code, resp)
	}
	if _, ok, _ := env.positions.Find("INFY"); ok {
		t.Error("position opened despite rejected order")
	}
}

func TestSellClosesPositionAndLogsTrade(t *testing.T) {
	env := newTestEnv(t)
	if err := env.positions.Add(model.Position{
		Symbol:    "INFY",
		StockName: "Infosys Ltd",
		BuyPrice:  110.5,
		BuyDate:   "2026-01-05",
		Quantity:  2,
	}); err != nil {
		t.Fatal(err)
	}

	code, resp := env.do(t, http.MethodPost, "/api/orders/sell", map[string]any{
		"symbol": "infy",
		"price":  150.0,
	})
	if code != http.StatusOK {
		t.Fatalf("POST /sell = %d: %v", code, resp)
	}

	got := env.broker.orders()
	if len(got) != 1 || got[0].TransactionType != "SELL" || got[0].Quantity != 2 {
		t.Fatalf("broker orders = %+v, want a full-quantity SELL", got)
	}

	trade := dataObj(t, resp, "trade")
	if num(t, trade, "pnl") != 79 {
		t.Errorf("pnl = %v, want (150-110.5)*2 = 79", trade["pnl"])
	}
	if num(t, trade, "pnl_pct") != 35.75 {
		t.Errorf("pnl_pct = %v, want 35.75", trade["pnl_pct"])
	}
	if trade["buy_date"] != "2026-01-05" {
		t.Errorf("buy_date = %v, want carried from the position", trade["buy_date"])
	}
	if resp["message"] != "Sell order placed, P&L 79.00 (+35.75%)" {
		t.Errorf("message = %v", resp["message"])
	}

	trades, err := env.trades.All()
	if err != nil || len(trades) != 1 {
		t.Fatalf("trade log = %+v err=%v", trades, err)
	}
	if _, ok, _ := env.positions.Find("INFY"); ok {
		t.Error("position still open after sell")
	}

	code, resp = env.do(t, http.MethodPost, "/api/orders/sell", map[string]any{"symbol": "INFY"})
	if code != http.StatusNotFound {
		t.Errorf("re-sell = %d, want 404: %v", code, resp)
	}
}

func TestSellUsesWatchlistPriceWhenUnpriced(t *testing.T) {
	env := newTestEnv(t)
	if err := env.master.Add(model.WatchRecord{TradingSymbol: "INFY", CP: 130}); err != nil {
		t.Fatal(err)
	}
	if err := env.positions.Add(model.Position{Symbol: "INFY", BuyPrice: 100, Quantity: 1}); err != nil {
		t.Fatal(err)
	}

	code, resp := env.do(t, http.MethodPost, "/api/orders/sell", map[string]any{"symbol": "INFY"})
	if code != http.StatusOK {
		t.Fatalf("POST /sell = %d: %v", code, resp)
	}
	trade := dataObj(t, resp, "trade")
	if num(t, trade, "sell_price") != 130 || num(t, trade, "pnl") != 30 {
		t.Errorf("trade = %v, want fill at the watchlist price", trade)
	}
}

func TestOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/orders/buy", "/api/orders/sell"} {
		code, resp := env.do(t, http.MethodPost, path, map[string]any{"quantity": 1})
		if code != http.StatusBadRequest {
			t.Errorf("POST %s without symbol = %d, want 400: %v", path, code, resp)
		}
	}
}

// ── Trade log ──

func seedTrades(t *testing.T, env *testEnv) {
	t.Helper()
	for _, tr := range []model.Trade{
		{Symbol: "INFY", BuyPrice: 100, SellPrice: 150, Quantity: 2, BuyDate: "2026-01-02", SellDate: "2026-01-10", PnL: 100, PnLPct: 50},
		{Symbol: "TCS", BuyPrice: 50, SellPrice: 25, Quantity: 2, BuyDate: "2026-01-20", SellDate: "2026-02-01", PnL: -50, PnLPct: -50},
		{Symbol: "INFY", BuyPrice: 25, SellPrice: 31.25, Quantity: 4, BuyDate: "2026-02-20", SellDate: "2026-03-05", PnL: 25, PnLPct: 25},
	} {
		if err := env.trades.Add(tr); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListTrades(t *testing.T) {
	env := newTestEnv(t)
	seedTrades(t, env)

	code, resp := env.do(t, http.MethodGet, "/api/tradelog", nil)
	if code != http.StatusOK || num(t, resp, "count") != 3 {
		t.Fatalf("GET /api/tradelog = %d count %v", code, resp["count"])
	}
	summary := dataObj(t, resp, "summary")
	if num(t, summary, "winning_trades") != 2 || num(t, summary, "losing_trades") != 1 {
		t.Errorf("summary = %v", summary)
	}
	if num(t, summary, "win_rate") != 66.7 {
		t.Errorf("win_rate = %v, want 66.7", summary["win_rate"])
	}
	if num(t, summary, "net_pnl") != 75 || num(t, summary, "total_invested") != 400 {
		t.Errorf("summary = %v", summary)
	}
	if num(t, summary, "net_pnl_pct") != 18.75 {
		t.Errorf("net_pnl_pct = %v, want 18.75", summary["net_pnl_pct"])
	}
}

func TestListTradesFilters(t *testing.T) {
	env := newTestEnv(t)
	seedTrades(t, env)

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"by symbol", "?symbol=infy", 2},
		{"from date", "?start_date=2026-01-15", 2},
		{"to date", "?end_date=2026-01-31", 1},
		{"window", "?start_date=2026-01-15&end_date=2026-02-15", 1},
	}
	for _, tc := range cases {
		code, resp := env.do(t, http.MethodGet, "/api/tradelog"+tc.query, nil)
		if code != http.StatusOK || int(num(t, resp, "count")) != tc.want {
			t.Errorf("%s: code %d count %v, want %d", tc.name, code, resp["count"], tc.want)
		}
	}

	// The summary block reflects the filtered set.
	_, resp := env.do(t, http.MethodGet, "/api/tradelog?symbol=infy", nil)
	if num(t, dataObj(t, resp, "summary"), "net_pnl") != 125 {
		t.Errorf("filtered net_pnl = %v, want 125", resp)
	}
}

func TestTradeSummary(t *testing.T) {
	env := newTestEnv(t)
	seedTrades(t, env)

	code, resp := env.do(t, http.MethodGet, "/api/tradelog/summary", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /summary = %d: %v", code, resp)
	}
	summary := dataObj(t, resp, "summary")
	if num(t, summary, "avg_pnl") != 25 {
		t.Errorf("avg_pnl = %v, want 25", summary["avg_pnl"])
	}
	best := summary["best_trade"].(map[string]any)
	worst := summary["worst_trade"].(map[string]any)
	if num(t, best, "pnl") != 100 || num(t, worst, "pnl") != -50 {
		t.Errorf("best/worst = %v / %v", best, worst)
	}
}

func TestTradeSummaryEmpty(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/tradelog/summary", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /summary = %d: %v", code, resp)
	}
	summary := dataObj(t, resp, "summary")
	if num(t, summary, "total_trades") != 0 {
		t.Errorf("total_trades = %v", summary["total_trades"])
	}
	if summary["best_trade"] != nil || summary["worst_trade"] != nil {
		t.Errorf("best/worst = %v / %v, want null", summary["best_trade"], summary["worst_trade"])
	}
}
