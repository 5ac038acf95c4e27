package market

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/GoPolymarket/feedgate/internal/model"
)

// tradeCursor remembers which trades a feed has already emitted.
//
// While every id is a base-10 integer it keeps only the highest id. The first
// batch containing any other id switches it for good to a sliding window of
// fingerprints, since such ids carry no order.
type tradeCursor struct {
	seeded bool
	window bool

	maxID int64

	size   int
	seen   map[string]struct{}
	recent []string // ring of fingerprints in insertion order
	next   int
}

func newTradeCursor(windowSize int) *tradeCursor {
	if windowSize <= 0 {
		windowSize = 512
	}
	return &tradeCursor{size: windowSize}
}

// Filter returns the trades not emitted before, oldest first. The first call
// only seeds the cursor and returns nil.
func (c *tradeCursor) Filter(trades []model.Trade) []model.Trade {
	sortTrades(trades)

	if !c.window && allNumeric(trades) {
		return c.filterNumeric(trades)
	}
	if !c.window {
		c.switchToWindow()
	}
	return c.filterWindow(trades)
}

func (c *tradeCursor) filterNumeric(trades []model.Trade) []model.Trade {
	if !c.seeded {
		for _, t := range trades {
			id, _ := strconv.ParseInt(t.ID, 10, 64)
			if id > c.maxID {
				c.maxID = id
			}
		}
		c.seeded = len(trades) > 0
		return nil
	}

	var out []model.Trade
	for _, t := range trades {
		id, _ := strconv.ParseInt(t.ID, 10, 64)
		if id <= c.maxID {
			continue
		}
		out = append(out, t)
	}
	for _, t := range out {
		id, _ := strconv.ParseInt(t.ID, 10, 64)
		if id > c.maxID {
			c.maxID = id
		}
	}
	return out
}

func (c *tradeCursor) switchToWindow() {
	c.window = true
	c.seen = make(map[string]struct{}, c.size)
	c.recent = make([]string, 0, c.size)
}

func (c *tradeCursor) filterWindow(trades []model.Trade) []model.Trade {
	var out []model.Trade
	for _, t := range trades {
		fp := fingerprint(t)
		if _, dup := c.seen[fp]; dup {
			continue
		}
		c.remember(fp)
		if !c.seeded {
			continue
		}
		// Numeric ids at or below the old cursor were already emitted
		// before the switch.
		if id, err := strconv.ParseInt(t.ID, 10, 64); err == nil && c.maxID > 0 && id <= c.maxID {
			continue
		}
		out = append(out, t)
	}
	if len(trades) > 0 {
		c.seeded = true
	}
	return out
}

func (c *tradeCursor) remember(fp string) {
	if len(c.recent) < c.size {
		c.recent = append(c.recent, fp)
	} else {
		delete(c.seen, c.recent[c.next])
		c.recent[c.next] = fp
		c.next = (c.next + 1) % c.size
	}
	c.seen[fp] = struct{}{}
}

// fingerprint is the trade id, or a hash of its contents when the exchange
// gave none.
func fingerprint(t model.Trade) string {
	if t.ID != "" {
		return "id:" + t.ID
	}
	h := fnv.New64a()
	h.Write([]byte(strings.Join([]string{
		strconv.FormatInt(t.Timestamp.UnixNano(), 10),
		t.Price.String(),
		t.Amount.String(),
		string(t.Side),
	}, "|")))
	return "h:" + strconv.FormatUint(h.Sum64(), 16)
}

func allNumeric(trades []model.Trade) bool {
	for _, t := range trades {
		if _, err := strconv.ParseInt(t.ID, 10, 64); err != nil {
			return false
		}
	}
	return true
}

// sortTrades orders trades by timestamp, then id.
func sortTrades(trades []model.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		ai, errA := strconv.ParseInt(a.ID, 10, 64)
		bi, errB := strconv.ParseInt(b.ID, 10, 64)
		if errA == nil && errB == nil {
			return ai < bi
		}
		return a.ID < b.ID
	})
}
