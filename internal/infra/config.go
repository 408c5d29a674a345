package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "FEDFORMER_"

// Config holds every runtime setting.
// LoadConfig reads the YAML file, then .env, then FEDFORMER_* overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode           string   `yaml:"mode"` // PAPER, BACKTEST, LIVE
		Symbols        []string `yaml:"symbols"`
		InitialBalance string   `yaml:"initial_balance"` // decimal USDT
		Leverage       int      `yaml:"leverage"`
		MarginType     string   `yaml:"margin_type"`
		// Settlement is how closes credit cash: NOTIONAL (size x exit price)
		// or SIDE_AWARE (entry notional plus realized PnL).
		Settlement string `yaml:"settlement"`
	} `yaml:"trading"`

	// Fees are decimal ratios: "0.0005" = 0.05%.
	Fees struct {
		Maker        string `yaml:"maker"`
		Taker        string `yaml:"taker"`
		LimitAsMaker bool   `yaml:"limit_as_maker"`
	} `yaml:"fees"`

	Risk struct {
		MaintenanceMarginRate string `yaml:"maintenance_margin_rate"`
	} `yaml:"risk"`

	Strategy struct {
		Kind                string  `yaml:"kind"` // sma_cross, rsi
		ShortWindow         int     `yaml:"short_window"`
		LongWindow          int     `yaml:"long_window"`
		RSIPeriod           int     `yaml:"rsi_period"`
		RSIOversold         float64 `yaml:"rsi_oversold"`
		RSIOverbought       float64 `yaml:"rsi_overbought"`
		Confidence          string  `yaml:"confidence"` // low, mid, high
		Style               string  `yaml:"style"` // immediate, batch, limit
		MinOrderIntervalSec int     `yaml:"min_order_interval_sec"`
	} `yaml:"strategy"`

	Feed struct {
		WSURL              string `yaml:"ws_url"`
		ReadTimeoutSec     int    `yaml:"read_timeout_sec"`
		FailureThreshold   int    `yaml:"failure_threshold"`
		BreakerCooldownSec int    `yaml:"breaker_cooldown_sec"`
	} `yaml:"feed"`

	Backtest struct {
		CSVPath     string `yaml:"csv_path"`
		Symbol      string `yaml:"symbol"`
		WarmupBars  int    `yaml:"warmup_bars"`
		PeriodsYear int    `yaml:"periods_per_year"`
	} `yaml:"backtest"`

	Storage struct {
		DBFile        string `yaml:"db_file"`
		SnapshotDir   string `yaml:"snapshot_dir"`
		SnapshotKeep  int    `yaml:"snapshot_keep"`
		SnapshotEvery int    `yaml:"snapshot_every"` // events; negative disables
	} `yaml:"storage"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text, json
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and environment overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "PAPER"
	}
	if c.Trading.InitialBalance == "" {
		c.Trading.InitialBalance = "10000"
	}
	if c.Trading.Leverage == 0 {
		c.Trading.Leverage = 1
	}
	if c.Trading.MarginType == "" {
		c.Trading.MarginType = "CROSSED"
	}
	if c.Trading.Settlement == "" {
		c.Trading.Settlement = "NOTIONAL"
	}
	if c.Fees.Maker == "" {
		c.Fees.Maker = "0.0002"
	}
	if c.Fees.Taker == "" {
		c.Fees.Taker = "0.0005"
	}
	if c.Risk.MaintenanceMarginRate == "" {
		c.Risk.MaintenanceMarginRate = "0.004"
	}
	if c.Strategy.Kind == "" {
		c.Strategy.Kind = "sma_cross"
	}
	if c.Strategy.ShortWindow == 0 {
		c.Strategy.ShortWindow = 5
	}
	if c.Strategy.LongWindow == 0 {
		c.Strategy.LongWindow = 20
	}
	if c.Strategy.RSIPeriod == 0 {
		c.Strategy.RSIPeriod = 14
	}
	if c.Strategy.RSIOversold == 0 {
		c.Strategy.RSIOversold = 30
	}
	if c.Strategy.RSIOverbought == 0 {
		c.Strategy.RSIOverbought = 70
	}
	if c.Strategy.Confidence == "" {
		c.Strategy.Confidence = "low"
	}
	if c.Strategy.Style == "" {
		c.Strategy.Style = "immediate"
	}
	if c.Feed.ReadTimeoutSec == 0 {
		c.Feed.ReadTimeoutSec = 60
	}
	if c.Feed.FailureThreshold == 0 {
		c.Feed.FailureThreshold = 5
	}
	if c.Feed.BreakerCooldownSec == 0 {
		c.Feed.BreakerCooldownSec = 30
	}
	if c.Backtest.PeriodsYear == 0 {
		c.Backtest.PeriodsYear = 252
	}
	if c.Storage.DBFile == "" {
		c.Storage.DBFile = "events.db"
	}
	if c.Storage.SnapshotDir == "" {
		c.Storage.SnapshotDir = "snapshots"
	}
	if c.Storage.SnapshotEvery == 0 {
		c.Storage.SnapshotEvery = 1000
	}
	if c.Storage.SnapshotKeep == 0 {
		c.Storage.SnapshotKeep = 5
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "sim.fills"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "PAPER", "BACKTEST", "LIVE":
	default:
		return fmt.Errorf("unknown trading mode: %s", c.Trading.Mode)
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}

	balance, err := quant.ParsePrice(c.Trading.InitialBalance)
	if err != nil || balance <= 0 {
		return fmt.Errorf("initial balance must be a positive decimal: %q", c.Trading.InitialBalance)
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		return fmt.Errorf("leverage out of range [1,125]: %d", c.Trading.Leverage)
	}
	if c.Trading.MarginType != "CROSSED" && c.Trading.MarginType != "ISOLATED" {
		return fmt.Errorf("unknown margin type: %s", c.Trading.MarginType)
	}
	if c.Trading.Settlement != "NOTIONAL" && c.Trading.Settlement != "SIDE_AWARE" {
		return fmt.Errorf("unknown settlement: %s", c.Trading.Settlement)
	}

	for name, raw := range map[string]string{"fees.maker": c.Fees.Maker, "fees.taker": c.Fees.Taker} {
		r, err := quant.ParseRate(raw)
		if err != nil || r < 0 || r > quant.RateScale/100 {
			return fmt.Errorf("%s must be a ratio in [0, 0.01]: %q", name, raw)
		}
	}
	mmr, err := quant.ParseRate(c.Risk.MaintenanceMarginRate)
	if err != nil || mmr < 0 || mmr >= quant.RateScale {
		return fmt.Errorf("maintenance margin rate must be in [0, 1): %q", c.Risk.MaintenanceMarginRate)
	}

	if c.Strategy.ShortWindow <= 0 || c.Strategy.LongWindow <= c.Strategy.ShortWindow {
		return fmt.Errorf("strategy windows must satisfy 0 < short < long: %d/%d", c.Strategy.ShortWindow, c.Strategy.LongWindow)
	}
	if c.Strategy.MinOrderIntervalSec < 0 {
		return fmt.Errorf("min order interval must not be negative")
	}

	if c.Trading.Mode == "PAPER" && !hasWSScheme(c.Feed.WSURL) {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if c.Trading.Mode == "BACKTEST" && c.Backtest.CSVPath == "" {
		return fmt.Errorf("backtest.csv_path is required in BACKTEST mode")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func hasWSScheme(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// overrideWithEnv applies FEDFORMER_* variables over file values.
func overrideWithEnv(cfg *Config) error {
	str := map[string]*string{
		"MODE":            &cfg.Trading.Mode,
		"INITIAL_BALANCE": &cfg.Trading.InitialBalance,
		"MARGIN_TYPE":     &cfg.Trading.MarginType,
		"SETTLEMENT":      &cfg.Trading.Settlement,
		"FEE_MAKER":       &cfg.Fees.Maker,
		"FEE_TAKER":       &cfg.Fees.Taker,
		"FEED_WS_URL":     &cfg.Feed.WSURL,
		"BACKTEST_CSV":    &cfg.Backtest.CSVPath,
		"KAFKA_TOPIC":     &cfg.Kafka.Topic,
		"LOG_LEVEL":       &cfg.Logging.Level,
		"LOG_FORMAT":      &cfg.Logging.Format,
	}
	for key, dst := range str {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "LEVERAGE"); v != "" {
		lv, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sLEVERAGE: %w", EnvPrefix, err)
		}
		cfg.Trading.Leverage = lv
	}
	if v := os.Getenv(EnvPrefix + "SYMBOLS"); v != "" {
		cfg.Trading.Symbols = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
		cfg.Kafka.Enabled = true
	}
	cfg.Trading.Mode = strings.ToUpper(cfg.Trading.Mode)
	cfg.Trading.Settlement = strings.ToUpper(cfg.Trading.Settlement)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
