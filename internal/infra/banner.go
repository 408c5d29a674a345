package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner for the configured mode.
func PrintBanner(w io.Writer, cfg *Config) {
	mode := strings.ToUpper(cfg.Trading.Mode)

	color := ColorGreen
	modeDesc := "SIMULATION"
	switch mode {
	case "LIVE":
		color = ColorRed
		modeDesc = "LIVE VENUE (NOT SUPPORTED)"
	case "BACKTEST":
		color = ColorYellow
		modeDesc = "HISTORICAL REPLAY"
	case "PAPER":
		color = ColorCyan
		modeDesc = "SIMULATED FILLS ON LIVE PRICES"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#                                                         #")
	line("#            📈 FEDformer Futures Simulator               #")
	line("#                                                         #")
	line("#   MODE:    %-44s #", mode)
	line("#   TYPE:    %-44s #", modeDesc)
	line("#   VERSION: %-44s #", cfg.App.Version)
	line("#   SYMBOLS: %-44s #", strings.Join(cfg.Trading.Symbols, ","))
	line("#                                                         #")
	line("###########################################################")
	fmt.Fprintln(w)
}
