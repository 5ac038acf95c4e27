package market

import (
	"context"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
)

// tradesFetchLimit is how many recent trades each poll after the first asks for.
const tradesFetchLimit = 100

// poller fetches one payload for a feed. A nil payload with a nil error means
// there is nothing to emit this round.
type poller interface {
	poll(ctx context.Context, ex exchange.Exchange) (any, error)
}

func newPoller(key model.ChannelKey, cfg config.FeedsConfig) poller {
	switch key.Channel {
	case model.ChannelOrderbook:
		return &orderbookPoller{symbol: key.Symbol, depth: cfg.OrderbookDepth}
	case model.ChannelTrades:
		limit := tradesFetchLimit
		if cfg.TradeDedupWindow > 0 && cfg.TradeDedupWindow < limit {
			limit = cfg.TradeDedupWindow
		}
		return &tradesPoller{
			symbol: key.Symbol,
			seed:   cfg.TradesSeed,
			limit:  limit,
			cursor: newTradeCursor(cfg.TradeDedupWindow),
		}
	default:
		return &tickerPoller{symbol: key.Symbol}
	}
}

type tickerPoller struct {
	symbol string
}

func (p *tickerPoller) poll(ctx context.Context, ex exchange.Exchange) (any, error) {
	t, err := ex.FetchTicker(ctx, p.symbol)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type orderbookPoller struct {
	symbol string
	depth  int
}

func (p *orderbookPoller) poll(ctx context.Context, ex exchange.Exchange) (any, error) {
	book, err := ex.FetchOrderBook(ctx, p.symbol, p.depth)
	if err != nil {
		return nil, err
	}
	return normalizeBook(book, p.depth), nil
}

type tradesPoller struct {
	symbol string
	seed   int
	limit  int
	cursor *tradeCursor
	primed bool
}

func (p *tradesPoller) poll(ctx context.Context, ex exchange.Exchange) (any, error) {
	limit := p.limit
	if !p.primed {
		limit = p.seed
	}
	trades, err := ex.FetchTrades(ctx, p.symbol, limit)
	if err != nil {
		return nil, err
	}
	// Fetches that return nothing leave the cursor unseeded.
	if len(trades) > 0 {
		p.primed = true
	}
	fresh := p.cursor.Filter(trades)
	if len(fresh) == 0 {
		return nil, nil
	}
	return fresh, nil
}
