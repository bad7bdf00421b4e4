package main

import (
	"fmt"

	"go.uber.org/zap"

	"tradecore/config"
	"tradecore/internal/exchange/binance"
	"tradecore/internal/exchange/coinbase"
	"tradecore/internal/exchange/sim"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/notification"
)

type exchangeDeps struct {
	source  model.MarketDataSource
	history model.HistorySource
	sink    model.OrderSink
}

// buildExchange picks the market data source, the history source and the
// order sink. Orders go to the paper sink unless live trading is enabled.
func buildExchange(cfg config.Config, log *zap.Logger) (exchangeDeps, error) {
	var deps exchangeDeps
	var cb *coinbase.Client

	switch cfg.Exchange {
	case config.ExchangeCoinbase:
		creds := cfg.Coinbase.Credentials()
		cb = coinbase.NewClient(cfg.Coinbase.RESTURL, creds, log)
		deps.source = coinbase.NewTradeSource(cfg.Coinbase.WSURL, creds, log)
		deps.history = cb
	case config.ExchangeBinance:
		src := binance.New(cfg.Binance, log)
		deps.source, deps.history = src, src
	case config.ExchangeSim:
		src := sim.New(cfg.Sim)
		deps.source, deps.history = src, src
	default:
		return deps, fmt.Errorf("unknown exchange %q", cfg.Exchange)
	}

	if cfg.LiveTrading {
		if cb == nil {
			return deps, fmt.Errorf("live trading is not supported on %s", cfg.Exchange)
		}
		deps.sink = coinbase.NewOrderSink(cb)
		log.Warn("LIVE TRADING ENABLED", zap.String("exchange", cfg.Exchange))
	} else {
		deps.sink = execution.NewPaperSink(cfg.PaperSlippageBps, cfg.PaperFeeBps, log)
		log.Info("paper trading",
			zap.Int64("slippage_bps", cfg.PaperSlippageBps),
			zap.Int64("fee_bps", cfg.PaperFeeBps))
	}
	return deps, nil
}

// buildNotifier fans alerts out to the log and every configured channel.
func buildNotifier(cfg config.NotificationConfig, log *zap.Logger) notification.Notifier {
	targets := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		targets = append(targets, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, log))
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		targets = append(targets, notification.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel))
	}
	if cfg.WebhookURL != "" {
		targets = append(targets, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	log.Info("notifiers configured", zap.Int("targets", len(targets)))

	if cfg.ThrottleEvery > 0 {
		return notification.NewThrottled(targets, cfg.ThrottleEvery, cfg.ThrottleBurst)
	}
	return targets
}
