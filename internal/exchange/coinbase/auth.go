// Package coinbase adapts the Coinbase Advanced Trade API to the pipeline
// ports: a market_trades websocket source, a REST candle history source and
// an order sink.
package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultRESTURL = "https://api.coinbase.com"
	DefaultWSURL   = "wss://advanced-trade-ws.coinbase.com"
)

// Credentials sign websocket subscriptions and REST requests with
// HMAC-SHA256 over the legacy Advanced Trade prehash strings.
type Credentials struct {
	Key    string
	Secret string
}

// Empty reports whether no key is configured. Public market data still works.
func (c Credentials) Empty() bool { return c.Key == "" || c.Secret == "" }

func (c Credentials) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SubscriptionSignature signs timestamp + channel + product.
func (c Credentials) SubscriptionSignature(ts, channel, product string) string {
	return c.sign(ts + channel + product)
}

// RequestSignature signs timestamp + method + path + body. The path excludes
// the query string.
func (c Credentials) RequestSignature(ts, method, path, body string) string {
	return c.sign(ts + method + path + body)
}

func (c Credentials) setHeaders(req *http.Request, at time.Time, body string) {
	ts := timestamp(at)
	req.Header.Set("CB-ACCESS-KEY", c.Key)
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-SIGN", c.RequestSignature(ts, req.Method, req.URL.Path, body))
}

func timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}
