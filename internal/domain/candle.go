package domain

import "time"

// Candle is one OHLCV bar for a symbol and timeframe.
type Candle struct {
	Symbol    string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	OpenTime  time.Time
	CloseTime time.Time
}

// Tick is a single traded price observation.
type Tick struct {
	Symbol   string
	Price    float64
	Quantity float64
	At       time.Time
}
