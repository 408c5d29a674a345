package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/event"
	"github.com/JackAiTrading/FEDformer/internal/infra"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

const (
	// DefaultWSURL is the USDT-M futures stream host.
	DefaultWSURL = "wss://fstream.binance.com"
	exchangeID   = "BINANCE_FUTURES"
)

// streamEnvelope wraps every message of a combined stream.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// markPriceUpdate is the <symbol>@markPrice payload.
type markPriceUpdate struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
	NextFunding int64  `json:"T"`
}

// ParseMarkPrice decodes one combined-stream or raw markPriceUpdate message.
func ParseMarkPrice(msg []byte) (domain.Ticker, error) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return domain.Ticker{}, fmt.Errorf("decode envelope: %w", err)
	}
	payload := msg
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var u markPriceUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return domain.Ticker{}, fmt.Errorf("decode markPrice: %w", err)
	}
	if u.Event != "markPriceUpdate" {
		return domain.Ticker{}, fmt.Errorf("unexpected event %q", u.Event)
	}

	mark, err := quant.ParsePrice(u.MarkPrice)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("mark price %q: %w", u.MarkPrice, err)
	}
	if mark <= 0 {
		return domain.Ticker{}, fmt.Errorf("%w: mark %s", domain.ErrInvalidPrice, u.MarkPrice)
	}

	t := domain.Ticker{
		Symbol:           u.Symbol,
		MarkPriceMicros:  mark,
		IndexPriceMicros: quant.ToPriceMicrosStr(u.IndexPrice),
		EventUnixM:       quant.MillisToTimeStamp(u.EventTime),
		NextFundingUnixM: quant.MillisToTimeStamp(u.NextFunding),
		Exchange:         exchangeID,
	}
	if u.FundingRate != "" {
		if t.FundingRate, err = quant.ParseRate(u.FundingRate); err != nil {
			return domain.Ticker{}, fmt.Errorf("funding rate %q: %w", u.FundingRate, err)
		}
	}
	return t, nil
}

// StreamURL builds the combined markPrice stream URL for symbols.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@markPrice@1s"
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// MarkPriceWorker streams mark prices into the sequencer inbox.
type MarkPriceWorker struct {
	base     *infra.BaseWSWorker
	url      string
	symbols  map[string]bool
	inbox    chan<- event.Event
	seq      *uint64
	log      *slog.Logger
	onTicker func(domain.Ticker)
}

// NewMarkPriceWorker factory. onTicker may be nil.
func NewMarkPriceWorker(baseURL string, symbols []string, inbox chan<- event.Event, seq *uint64, log *slog.Logger, onTicker func(domain.Ticker)) *MarkPriceWorker {
	if baseURL == "" {
		baseURL = DefaultWSURL
	}
	w := &MarkPriceWorker{
		url:      StreamURL(baseURL, symbols),
		symbols:  make(map[string]bool, len(symbols)),
		inbox:    inbox,
		seq:      seq,
		log:      log,
		onTicker: onTicker,
	}
	for _, s := range symbols {
		w.symbols[strings.ToUpper(s)] = true
	}
	w.base = infra.NewBaseWSWorker(w)
	w.base.Logger = log
	return w
}

// Base exposes the connection worker for tuning timeouts and the breaker.
func (w *MarkPriceWorker) Base() *infra.BaseWSWorker { return w.base }

func (w *MarkPriceWorker) ID() string     { return exchangeID }
func (w *MarkPriceWorker) GetURL() string { return w.url }

func (w *MarkPriceWorker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

func (w *MarkPriceWorker) Disconnect() {
	w.base.Stop()
}

// OnConnect has nothing to send: streams are selected in the URL.
func (w *MarkPriceWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

func (w *MarkPriceWorker) OnMessage(ctx context.Context, msg []byte) {
	t, err := ParseMarkPrice(msg)
	if err != nil {
		w.log.Debug("FEED: skipped message", slog.String("err", err.Error()))
		return
	}
	if !w.symbols[t.Symbol] {
		return
	}
	if w.onTicker != nil {
		w.onTicker(t)
	}

	ev := event.AcquireMarketUpdateEvent()
	ev.Seq = quant.NextSeq(w.seq)
	ev.Ts = t.EventUnixM
	ev.Symbol = t.Symbol
	ev.PriceMicros = t.MarkPriceMicros
	ev.Exchange = exchangeID

	select {
	case w.inbox <- ev:
	default:
		// full inbox: drop, the sequencer tolerates small gaps
		event.ReleaseMarketUpdateEvent(ev)
	}
}

func (w *MarkPriceWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.PingMessage, nil)
}
