package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// UserAgent is sent on every websocket handshake.
const UserAgent = AppName + "/sim"

// Binance caps client frames at 10 per second per connection.
const (
	outboundBurst  = 5
	outboundPerSec = 10
)

var ErrNotConnected = errors.New("ws not connected")

// WebSocketHandler supplies the feed-specific parts of a BaseWSWorker.
type WebSocketHandler interface {
	GetURL() string
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// FeedStats counts feed activity across reconnects.
type FeedStats struct {
	LastMessage time.Time
	Sessions    uint64
	Messages    uint64
}

// BaseWSWorker keeps one websocket session alive. Each session owns its
// connection and keep-alive goroutine; a read error ends the session and the
// loop redials with backoff behind a circuit breaker.
type BaseWSWorker struct {
	handler WebSocketHandler

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sessions atomic.Uint64
	messages atomic.Uint64
	lastMsg  atomic.Int64 // unix nanos

	ReadTimeout  time.Duration
	PingInterval time.Duration
	Backoff      Backoff
	Breaker      *CircuitBreaker
	Outbound     *RateLimiter // paces Write; nil disables
	Logger       *slog.Logger
}

func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		handler:      handler,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		Backoff:      DefaultBackoff,
		Breaker:      NewCircuitBreaker(DefaultCircuitBreakerConfig(handler.ID())),
		Outbound:     NewRateLimiter(outboundBurst, outboundPerSec),
		Logger:       slog.Default(),
	}
}

// Start launches the session loop; it runs until ctx ends or Stop.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop ends the current session and waits for the loop to exit.
func (w *BaseWSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *BaseWSWorker) run(ctx context.Context) {
	defer w.wg.Done()
	id := slog.String("id", w.handler.ID())

	for attempt := 0; ctx.Err() == nil; {
		var conn *websocket.Conn
		err := w.Breaker.Do(func() (err error) {
			conn, err = w.dial(ctx)
			return err
		})
		if err != nil {
			if !errors.Is(err, ErrCircuitOpen) && ctx.Err() == nil {
				w.Logger.Warn("FEED: dial failed", id, slog.Int("attempt", attempt), slog.Any("error", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.Backoff.Delay(attempt)):
			}
			attempt++
			continue
		}

		attempt = 0
		w.Logger.Info("FEED: connected", id, slog.Uint64("session", w.sessions.Load()+1))
		w.session(ctx, conn)
	}
}

func (w *BaseWSWorker) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{"User-Agent": []string{UserAgent}}

	conn, _, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		return nil, err
	}
	if err := w.handler.OnConnect(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("OnConnect failed: %w", err)
	}
	return conn, nil
}

// session reads conn until it fails or ctx ends.
func (w *BaseWSWorker) session(ctx context.Context, conn *websocket.Conn) {
	sctx, cancel := context.WithCancel(ctx)
	// closing the conn is what unblocks ReadMessage on shutdown
	stop := context.AfterFunc(sctx, func() { conn.Close() })
	defer func() {
		stop()
		cancel()
		w.drop(conn)
	}()

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.sessions.Add(1)

	if w.PingInterval > 0 {
		go w.keepAlive(sctx, conn)
	}

	for {
		if w.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.Logger.Warn("FEED: read failed", slog.String("id", w.handler.ID()), slog.Any("error", err))
			}
			return
		}
		w.messages.Add(1)
		w.lastMsg.Store(time.Now().UnixNano())
		w.handler.OnMessage(sctx, msg)
	}
}

// keepAlive pings for the lifetime of one session.
func (w *BaseWSWorker) keepAlive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(w.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.handler.OnPing(ctx, conn); err != nil {
				w.Logger.Warn("FEED: ping failed", slog.String("id", w.handler.ID()), slog.Any("error", err))
				conn.Close()
				return
			}
		}
	}
}

func (w *BaseWSWorker) drop(conn *websocket.Conn) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.mu.Unlock()
	conn.Close()
}

// Write sends one frame on the current session.
func (w *BaseWSWorker) Write(msgType int, data []byte) error {
	return w.WriteContext(context.Background(), msgType, data)
}

// WriteContext is Write that waits for the Outbound limiter under ctx.
func (w *BaseWSWorker) WriteContext(ctx context.Context, msgType int, data []byte) error {
	if w.Outbound != nil {
		if err := w.Outbound.Wait(ctx); err != nil {
			return err
		}
	}
	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return c.WriteMessage(msgType, data)
}

// Connected reports whether a session is live.
func (w *BaseWSWorker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}

func (w *BaseWSWorker) Stats() FeedStats {
	s := FeedStats{Sessions: w.sessions.Load(), Messages: w.messages.Load()}
	if ns := w.lastMsg.Load(); ns != 0 {
		s.LastMessage = time.Unix(0, ns)
	}
	return s
}
