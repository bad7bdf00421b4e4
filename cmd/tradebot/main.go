// Command tradebot runs the live trading pipeline or backtests the strategy
// against archived candles.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
