package coinbase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/execution"
	"tradecore/internal/model"
)

type marketIOC struct {
	QuoteSize string `json:"quote_size,omitempty"`
	BaseSize  string `json:"base_size,omitempty"`
}

type createOrderRequest struct {
	ClientOrderID      string `json:"client_order_id"`
	ProductID          string `json:"product_id"`
	Side               string `json:"side"`
	OrderConfiguration struct {
		MarketIOC marketIOC `json:"market_market_ioc"`
	} `json:"order_configuration"`
}

type createOrderResponse struct {
	Success         bool   `json:"success"`
	FailureReason   string `json:"failure_reason"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"error_response"`
}

type orderResponse struct {
	Order struct {
		OrderID            string    `json:"order_id"`
		Status             string    `json:"status"`
		AverageFilledPrice string    `json:"average_filled_price"`
		FilledSize         string    `json:"filled_size"`
		TotalFees          string    `json:"total_fees"`
		LastFillTime       time.Time `json:"last_fill_time"`
	} `json:"order"`
}

// OrderSink places market IOC orders and polls them until they settle.
type OrderSink struct {
	client *Client

	PollInterval time.Duration
	PollAttempts int
}

// NewOrderSink wraps c. Orders require credentials.
func NewOrderSink(c *Client) *OrderSink {
	return &OrderSink{client: c, PollInterval: 500 * time.Millisecond, PollAttempts: 20}
}

// Submit implements model.OrderSink. It does not retry; a failed or
// unfilled order is returned as an error.
func (s *OrderSink) Submit(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	if s.client.creds.Empty() {
		return model.Fill{}, errors.New("coinbase: orders need API credentials")
	}
	var body createOrderRequest
	body.ClientOrderID = req.ClientOrderID
	body.ProductID = req.Symbol
	body.Side = string(req.Side)
	switch req.Side {
	case model.SideBuy:
		body.OrderConfiguration.MarketIOC.QuoteSize = req.QuoteSize.String()
	case model.SideSell:
		body.OrderConfiguration.MarketIOC.BaseSize = req.BaseSize.String()
	default:
		return model.Fill{}, fmt.Errorf("coinbase: unknown side %q", req.Side)
	}

	var created createOrderResponse
	if err := s.client.do(ctx, "POST", "/api/v3/brokerage/orders", nil, body, &created); err != nil {
		return model.Fill{}, err
	}
	if !created.Success {
		return model.Fill{}, fmt.Errorf("coinbase: order rejected: %s %s %s",
			created.FailureReason, created.ErrorResponse.Error, created.ErrorResponse.Message)
	}
	orderID := created.SuccessResponse.OrderID
	s.client.log.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("side", string(req.Side)))

	return s.await(ctx, orderID, req)
}

func (s *OrderSink) await(ctx context.Context, orderID string, req model.OrderRequest) (model.Fill, error) {
	path := "/api/v3/brokerage/orders/historical/" + url.PathEscape(orderID)
	for attempt := 0; attempt < s.PollAttempts; attempt++ {
		var resp orderResponse
		if err := s.client.do(ctx, "GET", path, nil, nil, &resp); err != nil {
			return model.Fill{}, err
		}
		switch resp.Order.Status {
		case "FILLED", "CANCELLED", "EXPIRED", "FAILED":
			return settle(orderID, req, resp)
		}
		select {
		case <-ctx.Done():
			return model.Fill{}, ctx.Err()
		case <-time.After(s.PollInterval):
		}
	}
	return model.Fill{}, fmt.Errorf("%w: order %s still open after %d polls", execution.ErrNoFill, orderID, s.PollAttempts)
}

// settle converts a terminal order into a fill. IOC orders may be partially
// filled; any filled size counts.
func settle(orderID string, req model.OrderRequest, resp orderResponse) (model.Fill, error) {
	size, _ := decimal.NewFromString(resp.Order.FilledSize)
	price, _ := decimal.NewFromString(resp.Order.AverageFilledPrice)
	if !size.IsPositive() || !price.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: order %s %s", execution.ErrNoFill, orderID, resp.Order.Status)
	}
	fee, _ := decimal.NewFromString(resp.Order.TotalFees)
	at := resp.Order.LastFillTime
	if at.IsZero() {
		at = time.Now()
	}
	return model.Fill{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         price,
		Size:          size,
		Fee:           fee,
		Time:          at.UTC(),
	}, nil
}
