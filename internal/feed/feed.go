// Package feed supplies market data to the bot loop. A Source owns its
// candle and tick channels and closes them when Run returns.
package feed

import (
	"context"

	"github.com/openquant/botcore/internal/domain"
)

// Source produces candles and ticks for a set of trading pairs.
type Source interface {
	// Candles returns the candle stream, oldest first per symbol.
	Candles() <-chan domain.Candle
	// Ticks returns the trade tick stream.
	Ticks() <-chan domain.Tick
	// Run produces data until the context is cancelled.
	Run(ctx context.Context) error
}
