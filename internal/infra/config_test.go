package infra

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
app:
  version: "0.3.0"
trading:
  mode: paper
  symbols: [BTCUSDT, ETHUSDT]
  leverage: 10
feed:
  ws_url: wss://fstream.binance.com
`

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	checks := []struct {
		name, got, want string
	}{
		{"mode upper-cased", cfg.Trading.Mode, "PAPER"},
		{"balance", cfg.Trading.InitialBalance, "10000"},
		{"margin", cfg.Trading.MarginType, "CROSSED"},
		{"settlement", cfg.Trading.Settlement, "NOTIONAL"},
		{"maker", cfg.Fees.Maker, "0.0002"},
		{"taker", cfg.Fees.Taker, "0.0005"},
		{"mmr", cfg.Risk.MaintenanceMarginRate, "0.004"},
		{"strategy", cfg.Strategy.Kind, "sma_cross"},
		{"app name", cfg.App.Name, AppName},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.Trading.Leverage != 10 {
		t.Errorf("leverage = %d", cfg.Trading.Leverage)
	}
	if cfg.Strategy.ShortWindow != 5 || cfg.Strategy.LongWindow != 20 {
		t.Errorf("windows = %d/%d", cfg.Strategy.ShortWindow, cfg.Strategy.LongWindow)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	t.Setenv(EnvPrefix+"SYMBOLS", "SOLUSDT, XRPUSDT ,")
	t.Setenv(EnvPrefix+"LEVERAGE", "20")
	t.Setenv(EnvPrefix+"FEE_TAKER", "0.0004")
	t.Setenv(EnvPrefix+"KAFKA_BROKERS", "localhost:9092")

	cfg, err := ParseConfig([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if got := strings.Join(cfg.Trading.Symbols, ","); got != "SOLUSDT,XRPUSDT" {
		t.Errorf("symbols = %q", got)
	}
	if cfg.Trading.Leverage != 20 {
		t.Errorf("leverage = %d", cfg.Trading.Leverage)
	}
	if cfg.Fees.Taker != "0.0004" {
		t.Errorf("taker = %q", cfg.Fees.Taker)
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}

	t.Setenv(EnvPrefix+"LEVERAGE", "lots")
	if _, err := ParseConfig([]byte(minimalYAML)); err == nil {
		t.Error("non-numeric leverage accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Trading.Mode = "DEMO" }, "trading mode"},
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }, "symbol"},
		{"zero balance", func(c *Config) { c.Trading.InitialBalance = "0" }, "initial balance"},
		{"junk balance", func(c *Config) { c.Trading.InitialBalance = "ten" }, "initial balance"},
		{"leverage high", func(c *Config) { c.Trading.Leverage = 126 }, "leverage"},
		{"margin", func(c *Config) { c.Trading.MarginType = "PORTFOLIO" }, "margin type"},
		{"side-aware settlement", func(c *Config) { c.Trading.Settlement = "SIDE_AWARE" }, ""},
		{"settlement", func(c *Config) { c.Trading.Settlement = "PNL" }, "settlement"},
		{"fee too big", func(c *Config) { c.Fees.Taker = "0.02" }, "fees.taker"},
		{"mmr one", func(c *Config) { c.Risk.MaintenanceMarginRate = "1" }, "maintenance"},
		{"windows", func(c *Config) { c.Strategy.LongWindow = 3 }, "windows"},
		{"ws url", func(c *Config) { c.Feed.WSURL = "https://x" }, "WS URL"},
		{"backtest csv", func(c *Config) { c.Trading.Mode = "BACKTEST" }, "csv_path"},
		{"kafka", func(c *Config) { c.Kafka.Enabled = true }, "brokers"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(minimalYAML))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.errSub == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := LoadConfig(path + ".missing"); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := ParseConfig([]byte("trading: [")); err == nil {
		t.Error("broken yaml accepted")
	}
}

func TestNewLoggerFile(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Logging.Format = "json"
	cfg.Logging.File = filepath.Join(t.TempDir(), "sim.log")

	log, closeLog, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("SIM: hello", "symbol", "BTCUSDT")
	closeLog()

	data, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"symbol":"BTCUSDT"`)) {
		t.Errorf("log file missing json record: %s", data)
	}
}

func TestPrintBanner(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	PrintBanner(&buf, cfg)
	out := buf.String()
	for _, want := range []string{"PAPER", "0.3.0", "BTCUSDT,ETHUSDT"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q", want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/data", "events.db"); got != filepath.Join("/data", "events.db") {
		t.Errorf("relative: %s", got)
	}
	if got := ResolvePath("/data", "/abs/events.db"); got != "/abs/events.db" {
		t.Errorf("absolute: %s", got)
	}
}

func TestWorkspace(t *testing.T) {
	root := t.TempDir()
	w, err := OpenWorkspace(root, "PAPER")
	if err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{filepath.Join(root, "data", "paper"), filepath.Join(root, "logs", "paper")} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	if got := w.Data("events.db"); got != filepath.Join(root, "data", "paper", "events.db") {
		t.Errorf("Data = %s", got)
	}
	if got := w.Log("/var/log/sim.log"); got != "/var/log/sim.log" {
		t.Errorf("Log(abs) = %s", got)
	}
}

func TestWorkspaceLock(t *testing.T) {
	w, err := OpenWorkspace(t.TempDir(), "backtest")
	if err != nil {
		t.Fatal(err)
	}
	release, err := w.Lock()
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.Lock()
	if !errors.Is(err, ErrWorkspaceLocked) {
		t.Fatalf("second lock: %v", err)
	}
	if !strings.Contains(err.Error(), "mode=backtest") {
		t.Errorf("lock owner missing from error: %v", err)
	}
	release()
	release2, err := w.Lock()
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	release2()
}
