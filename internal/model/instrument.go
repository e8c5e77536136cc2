package model

import "strings"

// Instrument is one row of the exchange reference file: the mapping from
// a trading symbol to the provider's instrument key and display name.
type Instrument struct {
	TradingSymbol string `json:"trading_symbol"`
	InstrumentKey string `json:"instrument_key"`
	Name          string `json:"name"`
}

// FallbackInstrumentKey builds the provider key assumed for a symbol that
// is absent from the reference file: plain NSE equity segment.
func FallbackInstrumentKey(symbol string) string {
	return "NSE_EQ|" + strings.ToUpper(symbol)
}
