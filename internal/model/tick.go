package model

import "time"

// Tick represents a single market data point pushed by the exchange feed.
// Prices are in rupees (float64), matching the wire format of the paper
// exchange. A tick is immutable once received.
type Tick struct {
	Symbol        string    `json:"symbol"`
	LTP           float64   `json:"ltp"` // last traded price
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        int64     `json:"volume"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"` // absolute instant, UTC
}
