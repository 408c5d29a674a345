package execution

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/JackAiTrading/FEDformer/internal/domain"
)

func TestLoggingExchange_ImplementsInterface(t *testing.T) {
	var _ Exchange = (*LoggingExchange)(nil) // Compile-time check
}

func TestLoggingExchange_LogsOrderPath(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	ex := NewLoggingExchange(newTestSim(t, "1000"), log)
	ctx := context.Background()

	if _, err := ex.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false); err == nil {
		t.Fatal("expected no-price rejection")
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "no price reference") {
		t.Errorf("rejection not logged as warning: %s", buf.String())
	}

	buf.Reset()
	o, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), px("10"), domain.TimeInForceGTC, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "ORDER: Submit Limit") || !strings.Contains(buf.String(), o.ID) {
		t.Errorf("limit submit not logged: %s", buf.String())
	}

	buf.Reset()
	if _, err := ex.CancelOrder(ctx, "BTCUSDT", o.ID); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "ORDER: Cancel") {
		t.Errorf("cancel not logged: %s", buf.String())
	}
}
