package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/infra"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FillPublisher forwards simulated fills to a Kafka topic, keyed by symbol
// so one symbol's fills stay ordered within a partition.
type FillPublisher struct {
	writer  messageWriter
	breaker *infra.CircuitBreaker
	log     *slog.Logger
	timeout time.Duration
}

// NewFillPublisher creates a synchronous publisher for topic.
func NewFillPublisher(brokers []string, topic string, log *slog.Logger) *FillPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newFillPublisher(w, log)
}

func newFillPublisher(w messageWriter, log *slog.Logger) *FillPublisher {
	cfg := infra.DefaultCircuitBreakerConfig("kafka-fills")
	cfg.Logger = log
	return &FillPublisher{
		writer:  w,
		breaker: infra.NewCircuitBreaker(cfg),
		log:     log,
		timeout: 5 * time.Second,
	}
}

// Publish writes one trade. It fails fast with infra.ErrCircuitOpen while
// the broker is considered down.
func (p *FillPublisher) Publish(ctx context.Context, t domain.Trade) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", t.ID, err)
	}
	return p.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(t.Symbol),
			Value: value,
			Time:  time.UnixMicro(int64(t.UnixM)),
		})
	})
}

// OnFill implements execution.FillSink. Publish errors are logged, never
// propagated back into the matching path.
func (p *FillPublisher) OnFill(ctx context.Context, t domain.Trade) {
	if err := p.Publish(ctx, t); err != nil {
		p.log.Warn("KAFKA: publish fill failed",
			slog.String("trade", t.ID),
			slog.String("symbol", t.Symbol),
			slog.Any("error", err))
	}
}

func (p *FillPublisher) Close() error {
	return p.writer.Close()
}
