package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/feedgate/internal/model"
)

func newKrakenServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/0/public/Ticker", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pair") != "XBTUSD" {
			w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
			return
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{
			"a":["50010.0","1","1.000"],"b":["50000.0","2","2.000"],"c":["50005.0","0.1"],
			"v":["100.0","250.5"],"l":["49000.0","48000.0"],"h":["51000.0","52000.0"],"o":"50000.0"}}}`))
	})
	mux.HandleFunc("/0/public/Depth", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{
			"asks":[["50010.0","1.5",1700000000]],
			"bids":[["50000.0","2.0",1700000000],["49990.0","0.5",1700000001]]}}}`))
	})
	mux.HandleFunc("/0/public/Trades", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[
			["50000.0","0.1",1700000000.1234,"b","l","",42],
			["50001.0","0.2",1700000001.5,"s","m","",43]],"last":"1700000001500000000"}}`))
	})
	mux.HandleFunc("/0/public/OHLC", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[
			[1700000000,"50000.0","50100.0","49900.0","50050.0","50020.0","3.5",12],
			[1700000900,"50050.0","50200.0","50000.0","50150.0","50110.0","1.25",7],
			[1700001800,"50150.0","50160.0","50100.0","50120.0","50130.0","0.5",3]],"last":1700001800}}`))
	})
	mux.HandleFunc("/0/public/AssetPairs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{
			"XXBTZUSD":{"altname":"XBTUSD","wsname":"XBT/USD","status":"online"},
			"XETHZUSD":{"altname":"ETHUSD","wsname":"ETH/USD","status":"cancel_only"}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestKrakenSymbol(t *testing.T) {
	assert.Equal(t, "XBTUSD", KrakenSymbol("BTC/USD"))
	assert.Equal(t, "ETHXBT", KrakenSymbol("ETH/BTC"))
	assert.Equal(t, "XDGUSD", KrakenSymbol("doge/usd"))
}

func TestKrakenFetchTicker(t *testing.T) {
	srv := newKrakenServer(t)
	ex, err := NewKraken(Settings{BaseURL: srv.URL})
	require.NoError(t, err)

	tk, err := ex.FetchTicker(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "50000", tk.Bid.Decimal.String())
	assert.Equal(t, "50010", tk.Ask.Decimal.String())
	assert.Equal(t, "52000", tk.High.Decimal.String())
	assert.Equal(t, "250.5", tk.Volume.Decimal.String())
	assert.Equal(t, "5", tk.Change.Decimal.String())
	assert.Equal(t, "0.01", tk.Percentage.Decimal.String())
}

func TestKrakenEnvelopeError(t *testing.T) {
	srv := newKrakenServer(t)
	ex, _ := NewKraken(Settings{BaseURL: srv.URL})

	_, err := ex.FetchTicker(context.Background(), "NOPE/USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown asset pair")
}

func TestKrakenFetchOrderBook(t *testing.T) {
	srv := newKrakenServer(t)
	ex, _ := NewKraken(Settings{BaseURL: srv.URL})

	book, err := ex.FetchOrderBook(context.Background(), "BTC/USD", 10)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "49990", book.Bids[1].Price.String())
	assert.Equal(t, "1.5", book.Asks[0].Amount.String())
}

func TestKrakenFetchTrades(t *testing.T) {
	srv := newKrakenServer(t)
	ex, _ := NewKraken(Settings{BaseURL: srv.URL})

	trades, err := ex.FetchTrades(context.Background(), "BTC/USD", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "42", trades[0].ID)
	assert.Equal(t, model.SideBuy, trades[0].Side)
	assert.Equal(t, model.SideSell, trades[1].Side)
	assert.Equal(t, int64(1700000001500), trades[1].Timestamp.UnixMilli())
}

func TestKrakenFetchMarkets(t *testing.T) {
	srv := newKrakenServer(t)
	ex, _ := NewKraken(Settings{BaseURL: srv.URL})

	markets, err := ex.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "BTC/USD", markets[0].Symbol)
	assert.Equal(t, "XBTUSD", markets[0].Native)
	assert.True(t, markets[0].Active)
	assert.False(t, markets[1].Active)
}

func TestKrakenFetchOHLCV(t *testing.T) {
	srv := newKrakenServer(t)
	ex, _ := NewKraken(Settings{BaseURL: srv.URL})

	candles, err := ex.FetchOHLCV(context.Background(), "BTC/USD", "15m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000900), candles[0].Timestamp.Unix())
	assert.Equal(t, "50200", candles[0].High.String())
	assert.Equal(t, "1.25", candles[0].Volume.String())
	assert.Equal(t, "50120", candles[1].Close.String())
}

func TestKrakenFetchOHLCVUnsupportedInterval(t *testing.T) {
	ex, _ := NewKraken(Settings{BaseURL: "http://127.0.0.1:1"})

	_, err := ex.FetchOHLCV(context.Background(), "BTC/USD", "7m", 0)
	assert.ErrorIs(t, err, ErrUnsupportedInterval)
}
