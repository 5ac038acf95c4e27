package market

import (
	"sort"

	"github.com/GoPolymarket/feedgate/internal/model"
)

// normalizeBook sorts bids high to low and asks low to high, drops empty
// levels and keeps at most depth levels per side.
func normalizeBook(book *model.OrderBook, depth int) *model.OrderBook {
	out := &model.OrderBook{
		Bids:      normalizeSide(book.Bids, true, depth),
		Asks:      normalizeSide(book.Asks, false, depth),
		Timestamp: book.Timestamp,
	}
	return out
}

func normalizeSide(levels []model.Level, descending bool, depth int) []model.Level {
	out := make([]model.Level, 0, len(levels))
	for _, l := range levels {
		if l.Amount.IsZero() {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}
