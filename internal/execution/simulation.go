package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// SimConfig configures a SimulationClient.
type SimConfig struct {
	InitialBalance        quant.PriceMicros
	Fees                  domain.CommissionPolicy
	Leverage              int
	MaintenanceMarginRate quant.Rate
	// Settlement picks how closes credit cash. Empty means SettleNotional.
	Settlement domain.Settlement

	// Clock stamps orders and trades. Backtests pass the bar clock.
	Clock func() quant.TimeStamp
	// NewID generates order and trade ids. Defaults to UUIDv4.
	NewID  func() string
	Logger *slog.Logger
}

// SimulationClient emulates a USDT-M futures venue in process.
// Ledger, positions and the order book share one mutex, so fills on
// different symbols serialize on the single cash balance.
type SimulationClient struct {
	mu     sync.Mutex
	ledger *domain.Ledger
	book   *OrderBook
	prices map[string]quant.PriceMicros
	trades []domain.Trade

	sinks []FillSink
	clock func() quant.TimeStamp
	log   *slog.Logger
}

var _ Exchange = (*SimulationClient)(nil)

// NewSimulationClient creates a simulator holding the configured cash.
func NewSimulationClient(cfg SimConfig) *SimulationClient {
	if cfg.Clock == nil {
		cfg.Clock = func() quant.TimeStamp { return quant.TimeStamp(time.Now().UnixMicro()) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaintenanceMarginRate == 0 {
		cfg.MaintenanceMarginRate = domain.DefaultMaintenanceMarginRate
	}
	ledger := domain.NewLedger(cfg.InitialBalance, cfg.Fees, cfg.Leverage, cfg.MaintenanceMarginRate)
	if cfg.Settlement != "" {
		if err := ledger.SetSettlement(cfg.Settlement); err != nil {
			cfg.Logger.Warn("SIM: Unknown settlement, using notional", slog.String("settlement", string(cfg.Settlement)))
		}
	}
	return &SimulationClient{
		ledger: ledger,
		book:   NewOrderBook(cfg.NewID),
		prices: make(map[string]quant.PriceMicros),
		trades: make([]domain.Trade, 0),
		clock:  cfg.Clock,
		log:    cfg.Logger,
	}
}

// AddFillSink registers a sink notified after each committed fill.
// Sinks run outside the client lock.
func (s *SimulationClient) AddFillSink(sink FillSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *SimulationClient) SetLeverage(ctx context.Context, symbol string, leverage int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledger.SetLeverage(symbol, leverage); err != nil {
		return 0, err
	}
	return leverage, nil
}

func (s *SimulationClient) SetMarginType(ctx context.Context, symbol string, mt domain.MarginType) (domain.MarginType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledger.SetMarginType(symbol, mt); err != nil {
		return "", err
	}
	return mt, nil
}

func (s *SimulationClient) GetPositionRisk(ctx context.Context, symbol string) ([]domain.PositionRisk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol != "" {
		return []domain.PositionRisk{s.ledger.Risk(symbol)}, nil
	}
	syms := s.ledger.Symbols()
	out := make([]domain.PositionRisk, 0, len(syms))
	for _, sym := range syms {
		out = append(out, s.ledger.Risk(sym))
	}
	return out, nil
}

func (s *SimulationClient) GetBalance(ctx context.Context) ([]domain.AssetBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []domain.AssetBalance{s.ledger.Balance()}, nil
}

func (s *SimulationClient) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := domain.AccountInfo{
		TotalWalletBalanceMicros: s.ledger.Cash(),
		TotalUnrealizedMicros:    s.ledger.UnrealizedPnL(),
		TotalMarginBalanceMicros: s.ledger.Equity(),
		AvailableBalanceMicros:   s.ledger.AvailableMargin(),
	}
	for _, sym := range s.ledger.Symbols() {
		if s.ledger.Position(sym).IsFlat() {
			continue
		}
		info.Positions = append(info.Positions, s.ledger.Risk(sym))
	}
	return info, nil
}

// PlaceMarketOrder fills immediately at the symbol's latest price.
// A rejected market order leaves no trace in the book.
func (s *SimulationClient) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty quant.QtySats, reduceOnly bool) (domain.Order, error) {
	out, trade, err := s.placeMarket(symbol, side, qty, reduceOnly)
	if err != nil {
		return domain.Order{}, err
	}
	s.notify(ctx, []domain.Trade{trade})
	return out, nil
}

func (s *SimulationClient) placeMarket(symbol string, side domain.Side, qty quant.QtySats, reduceOnly bool) (domain.Order, domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateOrder(side, qty); err != nil {
		return domain.Order{}, domain.Trade{}, err
	}
	price, ok := s.prices[symbol]
	if !ok {
		return domain.Order{}, domain.Trade{}, fmt.Errorf("%w: %s", domain.ErrNoPriceReference, symbol)
	}
	if err := checkNotional(price, qty); err != nil {
		return domain.Order{}, domain.Trade{}, err
	}

	now := s.clock()
	order := &domain.Order{
		ID:           s.book.NextID(),
		Symbol:       symbol,
		Side:         side,
		Type:         domain.OrderTypeMarket,
		QtySats:      qty,
		ReduceOnly:   reduceOnly,
		Status:       domain.OrderStatusNew,
		CreatedUnixM: now,
		UpdatedUnixM: now,
	}
	trade, err := s.fill(order, price, domain.LiquidityTaker)
	if err != nil {
		s.log.Warn("SIM: Market Order Rejected",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Int64("qty", int64(qty)),
			slog.Any("error", err))
		return domain.Order{}, domain.Trade{}, err
	}
	s.book.Add(order)
	return *order, trade, nil
}

// PlaceLimitOrder rests a limit order. GTC orders never touch the ledger
// before a tick crosses them. IOC and FOK orders are matched once against the
// latest price and canceled if not marketable.
func (s *SimulationClient) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty quant.QtySats, price quant.PriceMicros, tif domain.TimeInForce, reduceOnly bool) (domain.Order, error) {
	if err := validateOrder(side, qty); err != nil {
		return domain.Order{}, err
	}
	if price <= 0 {
		return domain.Order{}, fmt.Errorf("%w: limit %s", domain.ErrInvalidPrice, price)
	}
	if err := checkNotional(price, qty); err != nil {
		return domain.Order{}, err
	}
	if tif == "" {
		tif = domain.TimeInForceGTC
	}

	out, filled := s.placeLimit(symbol, side, qty, price, tif, reduceOnly)
	s.log.Info("SIM: Limit Order Accepted",
		slog.String("id", out.ID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Int64("price", int64(price)),
		slog.Int64("qty", int64(qty)),
		slog.String("status", string(out.Status)))
	s.notify(ctx, filled)
	return out, nil
}

func (s *SimulationClient) placeLimit(symbol string, side domain.Side, qty quant.QtySats, price quant.PriceMicros, tif domain.TimeInForce, reduceOnly bool) (domain.Order, []domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	order := &domain.Order{
		ID:           s.book.NextID(),
		Symbol:       symbol,
		Side:         side,
		Type:         domain.OrderTypeLimit,
		TimeInForce:  tif,
		PriceMicros:  price,
		QtySats:      qty,
		ReduceOnly:   reduceOnly,
		Status:       domain.OrderStatusNew,
		CreatedUnixM: now,
		UpdatedUnixM: now,
	}
	s.book.Add(order)

	var filled []domain.Trade
	if tif != domain.TimeInForceGTC {
		last, ok := s.prices[symbol]
		if ok && order.Crosses(last) {
			if t, err := s.fill(order, price, s.ledger.Fees().LiquidityFor(domain.OrderTypeLimit)); err == nil {
				filled = append(filled, t)
			}
		}
		if order.IsOpen() {
			order.Status = domain.OrderStatusCanceled
		}
	}
	return *order, filled
}

func (s *SimulationClient) CancelOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.book.Cancel(symbol, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	o.UpdatedUnixM = s.clock()
	s.log.Info("SIM: Order Canceled", slog.String("id", orderID), slog.String("symbol", symbol))
	return *o, nil
}

func (s *SimulationClient) CancelAllOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.book.Open(symbol)
	out := make([]domain.Order, 0, len(open))
	for _, o := range open {
		c, err := s.book.Cancel(o.Symbol, o.ID)
		if err != nil {
			return out, err
		}
		c.UpdatedUnixM = s.clock()
		out = append(out, *c)
	}
	return out, nil
}

func (s *SimulationClient) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Open(symbol), nil
}

func (s *SimulationClient) GetOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.book.Get(symbol, orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s %s", domain.ErrOrderNotFound, symbol, orderID)
	}
	return *o, nil
}

func (s *SimulationClient) GetAllOrders(ctx context.Context, symbol string, q OrderQuery) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.All(symbol, q), nil
}

// UpdateMarketPrice caches the tick, fills crossed limit orders at their own
// limit price in submission order, then marks every position. A tick that
// would push the held position's value out of range is rejected unapplied.
func (s *SimulationClient) UpdateMarketPrice(ctx context.Context, symbol string, price quant.PriceMicros) error {
	if price <= 0 {
		return fmt.Errorf("%w: tick %s %s", domain.ErrInvalidPrice, symbol, price)
	}
	filled, err := s.applyTick(symbol, price)
	if err != nil {
		return err
	}
	s.notify(ctx, filled)
	return nil
}

func (s *SimulationClient) applyTick(symbol string, price quant.PriceMicros) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.CheckMark(symbol, price); err != nil {
		return nil, fmt.Errorf("tick %s: %w", symbol, err)
	}
	s.prices[symbol] = price
	s.ledger.Mark(symbol, price)

	var filled []domain.Trade
	liq := s.ledger.Fees().LiquidityFor(domain.OrderTypeLimit)
	for _, o := range s.book.Crossed(symbol, price) {
		t, err := s.fill(o, o.PriceMicros, liq)
		if err != nil {
			// A crossed order that can no longer be honoured is dropped.
			o.Status = domain.OrderStatusCanceled
			o.UpdatedUnixM = s.clock()
			s.log.Warn("SIM: Limit Order Canceled At Match",
				slog.String("id", o.ID),
				slog.String("symbol", symbol),
				slog.Any("error", err))
			continue
		}
		filled = append(filled, t)
	}
	s.ledger.UpdateAll()
	return filled, nil
}

// LastPrice returns the latest tick for symbol.
func (s *SimulationClient) LastPrice(symbol string) (quant.PriceMicros, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Trades returns a copy of the fill history.
func (s *SimulationClient) Trades() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// NetLiquidation values cash plus open positions at their marks.
func (s *SimulationClient) NetLiquidation() quant.PriceMicros {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.NetLiquidation()
}

// SimSnapshot is the persisted form of the simulator.
type SimSnapshot struct {
	Ledger domain.LedgerSnapshot        `json:"ledger"`
	Orders []domain.Order               `json:"orders"`
	Prices map[string]quant.PriceMicros `json:"prices"`
	Trades []domain.Trade               `json:"trades"`
}

func (s *SimulationClient) Snapshot() SimSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SimSnapshot{
		Ledger: s.ledger.Snapshot(),
		Orders: s.book.Snapshot(),
		Prices: make(map[string]quant.PriceMicros, len(s.prices)),
		Trades: make([]domain.Trade, len(s.trades)),
	}
	for k, v := range s.prices {
		snap.Prices[k] = v
	}
	copy(snap.Trades, s.trades)
	return snap
}

// Restore replaces all simulator state with snap.
func (s *SimulationClient) Restore(snap SimSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Restore(snap.Ledger)
	s.book.Restore(snap.Orders)
	s.prices = make(map[string]quant.PriceMicros, len(snap.Prices))
	for k, v := range snap.Prices {
		s.prices[k] = v
	}
	s.trades = append(make([]domain.Trade, 0, len(snap.Trades)), snap.Trades...)
}

func (s *SimulationClient) Close() error {
	return nil
}

// fill is the single execution path for market and limit orders. On error
// nothing has changed.
func (s *SimulationClient) fill(o *domain.Order, price quant.PriceMicros, liq domain.Liquidity) (domain.Trade, error) {
	res, err := s.ledger.Fill(o.Symbol, o.Side, price, o.QtySats, o.ReduceOnly, liq)
	if err != nil {
		return domain.Trade{}, err
	}

	now := s.clock()
	o.Status = domain.OrderStatusFilled
	o.AvgFillMicros = price
	o.UpdatedUnixM = now

	trade := domain.Trade{
		ID:                s.book.NextID(),
		OrderID:           o.ID,
		Symbol:            o.Symbol,
		Side:              o.Side,
		PriceMicros:       price,
		QtySats:           res.QtySats,
		CommissionMicros:  res.CommissionMicros,
		RealizedPnLMicros: res.RealizedPnLMicros,
		Liquidity:         liq,
		Closing:           res.Closing,
		UnixM:             now,
	}
	s.trades = append(s.trades, trade)
	s.ledger.VerifyInvariant()

	s.log.Info("SIM: Order Filled",
		slog.String("id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("type", string(o.Type)),
		slog.Int64("price", int64(price)),
		slog.Int64("qty", int64(res.QtySats)),
		slog.Int64("fee", int64(res.CommissionMicros)),
		slog.Int64("pnl", int64(res.RealizedPnLMicros)))
	return trade, nil
}

func (s *SimulationClient) notify(ctx context.Context, trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}
	s.mu.Lock()
	sinks := append([]FillSink(nil), s.sinks...)
	s.mu.Unlock()
	for _, t := range trades {
		for _, sink := range sinks {
			sink.OnFill(ctx, t)
		}
	}
}

func validateOrder(side domain.Side, qty quant.QtySats) error {
	if !side.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: qty %s", domain.ErrInvalidSize, qty)
	}
	return nil
}

// checkNotional rejects orders whose value at price cannot be represented.
func checkNotional(price quant.PriceMicros, qty quant.QtySats) error {
	if _, err := quant.CheckedNotional(price, qty); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSize, err)
	}
	return nil
}
