package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

// Account fetches the account balances. Signed.
func (c *Client) Account(ctx context.Context) ([]model.Balance, error) {
	var resp AccountResponse
	r := request{method: http.MethodGet, path: "/api/v3/account", query: url.Values{}, signed: true}
	if err := c.call(ctx, r, &resp); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	var p decimals
	balances := make([]model.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		balances = append(balances, model.Balance{
			Asset:  b.Asset,
			Free:   p.parse(b.Free),
			Locked: p.parse(b.Locked),
		})
	}
	if p.err != nil {
		return nil, fmt.Errorf("get account: %w", p.err)
	}
	return balances, nil
}

// FreeBalance returns the free balance of one asset, zero if absent.
func (c *Client) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.Account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

// PlaceOrder submits a new order. Signed with the trading timestamp and
// never retried.
func (c *Client) PlaceOrder(ctx context.Context, o model.OrderRequest) (model.OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", o.Symbol)
	query.Set("side", string(o.Side))
	query.Set("type", string(o.Type))
	query.Set("quantity", o.Quantity.String())
	query.Set("newOrderRespType", "RESULT")
	if o.ClientOrderID != "" {
		query.Set("newClientOrderId", o.ClientOrderID)
	}
	if o.Type == model.OrderTypeLimit {
		query.Set("price", o.Price.String())
		query.Set("timeInForce", "GTC")
	}

	var resp OrderResponse
	r := request{method: http.MethodPost, path: "/api/v3/order", query: query, signed: true, order: true}
	if err := c.call(ctx, r, &resp); err != nil {
		return model.OrderResult{}, fmt.Errorf("place order %s %s: %w", o.Side, o.Symbol, err)
	}

	res, err := toOrderResult(resp)
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("place order %s %s: %w", o.Side, o.Symbol, err)
	}
	return res, nil
}
