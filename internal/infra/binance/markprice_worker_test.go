package binance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/event"
)

const btcMark = `{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1562305380000,"s":"BTCUSDT","p":"11794.15000000","i":"11784.62659091","P":"11784.25641265","r":"0.00038167","T":1562306400000}}`

func TestParseMarkPrice(t *testing.T) {
	tk, err := ParseMarkPrice([]byte(btcMark))
	if err != nil {
		t.Fatalf("ParseMarkPrice: %v", err)
	}
	if tk.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s", tk.Symbol)
	}
	if tk.MarkPriceMicros != 11794150000 {
		t.Errorf("mark = %d", tk.MarkPriceMicros)
	}
	if tk.IndexPriceMicros != 11784626590 {
		t.Errorf("index = %d", tk.IndexPriceMicros)
	}
	if tk.FundingRate != 381 {
		t.Errorf("funding = %d", tk.FundingRate)
	}
	if tk.EventUnixM != 1562305380000000 {
		t.Errorf("event time = %d", tk.EventUnixM)
	}
}

func TestParseMarkPriceRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"not json", `pong`},
		{"other event", `{"e":"aggTrade","s":"BTCUSDT","p":"1"}`},
		{"bad price", `{"e":"markPriceUpdate","s":"BTCUSDT","p":"abc"}`},
		{"zero price", `{"e":"markPriceUpdate","s":"BTCUSDT","p":"0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMarkPrice([]byte(tt.msg)); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := ParseMarkPrice([]byte(`{"e":"markPriceUpdate","s":"BTCUSDT","p":"-1"}`))
	if !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("negative price err = %v", err)
	}
}

func TestStreamURL(t *testing.T) {
	got := StreamURL("wss://fstream.binance.com/", []string{"BTCUSDT", "ETHUSDT"})
	want := "wss://fstream.binance.com/stream?streams=btcusdt@markPrice@1s/ethusdt@markPrice@1s"
	if got != want {
		t.Errorf("StreamURL = %s", got)
	}
}

func TestMarkPriceWorkerFeedsInbox(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "btcusdt@markPrice@1s") {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(strings.Replace(btcMark, "BTCUSDT", "DOGEUSDT", 1)))
		conn.WriteMessage(websocket.TextMessage, []byte(btcMark))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	inbox := make(chan event.Event, 4)
	var seq uint64
	tickers := make(chan domain.Ticker, 4)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)
	w := NewMarkPriceWorker(wsURL, []string{"BTCUSDT"}, inbox, &seq, log, func(tk domain.Ticker) { tickers <- tk })
	w.Base().PingInterval = 0

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Connect(ctx)
	defer w.Disconnect()

	select {
	case ev := <-inbox:
		mu, ok := ev.(*event.MarketUpdateEvent)
		if !ok {
			t.Fatalf("event type %T", ev)
		}
		if mu.Symbol != "BTCUSDT" || mu.PriceMicros != 11794150000 || mu.Seq != 1 {
			t.Errorf("event = %+v", mu)
		}
		if mu.Exchange != "BINANCE_FUTURES" {
			t.Errorf("exchange = %s", mu.Exchange)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	select {
	case tk := <-tickers:
		if tk.Symbol != "BTCUSDT" {
			t.Errorf("ticker symbol = %s", tk.Symbol)
		}
	default:
		t.Error("ticker callback not invoked")
	}
}
