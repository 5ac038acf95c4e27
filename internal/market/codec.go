package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GoPolymarket/feedgate/internal/model"
)

// Codec turns feed payloads and control replies into wire frames.
type Codec struct {
	now func() time.Time
}

func NewCodec() *Codec {
	return &Codec{now: func() time.Time { return time.Now().UTC() }}
}

// Encode builds the data frame for key. Ticker and order book frames use the
// exchange-reported time when the payload carries one; everything else is
// stamped with processing time.
func (c *Codec) Encode(key model.ChannelKey, payload any) ([]byte, error) {
	ts := c.now()
	switch p := payload.(type) {
	case *model.Ticker:
		if p.Timestamp != nil {
			ts = p.Timestamp.UTC()
		}
	case *model.OrderBook:
		if p.Timestamp != nil {
			ts = p.Timestamp.UTC()
		}
	case []model.Trade:
	default:
		return nil, fmt.Errorf("codec: unsupported payload %T for %s", payload, key)
	}
	return json.Marshal(model.WireMessage{
		Type:      string(key.Channel),
		Exchange:  key.Exchange,
		Symbol:    key.Symbol,
		Data:      payload,
		Timestamp: ts,
	})
}

// Error builds a feed error frame for key.
func (c *Codec) Error(key model.ChannelKey, message string) []byte {
	return c.mustMarshal(model.ErrorFrame{
		Type:      model.TypeError,
		Exchange:  key.Exchange,
		Symbol:    key.Symbol,
		Channel:   key.Channel,
		Message:   message,
		Timestamp: c.now(),
	})
}

// ProtocolError builds an error frame not tied to any feed.
func (c *Codec) ProtocolError(message string) []byte {
	return c.mustMarshal(model.ErrorFrame{
		Type:      model.TypeError,
		Message:   message,
		Timestamp: c.now(),
	})
}

func (c *Codec) Ack(key model.ChannelKey, status string) []byte {
	return c.mustMarshal(model.SubscriptionAck{
		Type:      model.TypeSubscription,
		Status:    status,
		Exchange:  key.Exchange,
		Symbol:    key.Symbol,
		Channel:   key.Channel,
		Timestamp: c.now(),
	})
}

func (c *Codec) Pong() []byte {
	return c.mustMarshal(model.Pong{Type: model.TypePong})
}

// mustMarshal is for frames built only from strings and times, which always
// encode.
func (c *Codec) mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
