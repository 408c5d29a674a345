package feature

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// Bar is one Binance kline row.
type Bar struct {
	OpenTime  quant.TimeStamp
	CloseTime quant.TimeStamp
	Open      quant.PriceMicros
	High      quant.PriceMicros
	Low       quant.PriceMicros
	Close     quant.PriceMicros
	Volume    quant.QtySats
	Trades    int64
}

// ErrNoBars is returned for a file without data rows.
var ErrNoBars = errors.New("no kline rows")

// kline CSV column order (data.binance.vision)
const (
	colOpenTime = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colCloseTime
	colQuoteVolume
	colCount
	minColumns = colCloseTime + 1
)

// LoadKlinesFile reads a kline CSV from disk.
func LoadKlinesFile(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadKlines(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadKlines parses kline rows. A header row is skipped when present. Empty
// or zero cells take the previous row's value; the first row is taken as is.
func ReadKlines(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var (
		bars []Bar
		prev []string
		line int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && isHeader(rec) {
			continue
		}
		if len(rec) < minColumns {
			return nil, fmt.Errorf("line %d: %d columns, want at least %d", line, len(rec), minColumns)
		}

		cells := make([]string, len(rec))
		for i, c := range rec {
			c = strings.TrimSpace(c)
			if blank(c) && i < len(prev) {
				c = prev[i]
			}
			cells[i] = c
		}
		prev = cells

		b, err := parseBar(cells)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	return bars, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}

func blank(c string) bool {
	if c == "" {
		return true
	}
	f, err := strconv.ParseFloat(c, 64)
	return err == nil && f == 0
}

func parseBar(c []string) (Bar, error) {
	var (
		b   Bar
		err error
	)
	if b.OpenTime, err = parseKlineTime(c[colOpenTime]); err != nil {
		return b, fmt.Errorf("open_time: %w", err)
	}
	if b.CloseTime, err = parseKlineTime(c[colCloseTime]); err != nil {
		return b, fmt.Errorf("close_time: %w", err)
	}
	prices := []*quant.PriceMicros{&b.Open, &b.High, &b.Low, &b.Close}
	for i, dst := range prices {
		if *dst, err = quant.ParsePrice(c[colOpen+i]); err != nil {
			return b, fmt.Errorf("column %d: %w", colOpen+i, err)
		}
	}
	if b.Close <= 0 {
		return b, fmt.Errorf("close %q: not a positive price", c[colClose])
	}
	if b.Volume, err = quant.ParseQty(c[colVolume]); err != nil {
		return b, fmt.Errorf("volume: %w", err)
	}
	if len(c) > colCount {
		b.Trades, _ = strconv.ParseInt(c[colCount], 10, 64)
	}
	return b, nil
}

// parseKlineTime accepts epoch millis, and the epoch micros used by newer
// data.binance.vision dumps.
func parseKlineTime(s string) (quant.TimeStamp, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v > 1e14 {
		return quant.TimeStamp(v), nil
	}
	return quant.MillisToTimeStamp(v), nil
}
