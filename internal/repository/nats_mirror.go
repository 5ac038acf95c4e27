package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
)

// NATSMirror publishes frames on core NATS, one subject per channel key.
type NATSMirror struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSMirror(cfg *config.Config, l *slog.Logger) (*NATSMirror, error) {
	if cfg.NATS.URL == "" {
		return nil, fmt.Errorf("nats url is empty")
	}
	l = logger.Component(l, "nats_mirror")

	opts := []nats.Option{
		nats.Name("feedgate"),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.ClosedHandler(func(nc *nats.Conn) {
			l.Info("nats connection closed")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			l.Warn("nats disconnected, attempting reconnect", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	return &NATSMirror{nc: nc, prefix: cfg.NATS.SubjectPrefix}, nil
}

func (n *NATSMirror) Name() string { return "nats" }

// Publish is fire-and-forget; ctx is unused because core NATS buffers
// outbound messages client-side.
func (n *NATSMirror) Publish(_ context.Context, key model.ChannelKey, msg []byte) error {
	return n.nc.Publish(natsSubject(n.prefix, key), msg)
}

func (n *NATSMirror) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}

var subjectToken = strings.NewReplacer(".", "_", "/", "_", " ", "_", "*", "_", ">", "_")

// natsSubject maps binance:BTC/USDT:ticker to <prefix>.binance.BTC_USDT.ticker.
func natsSubject(prefix string, key model.ChannelKey) string {
	parts := []string{
		subjectToken.Replace(key.Exchange),
		subjectToken.Replace(key.Symbol),
		string(key.Channel),
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}
