package exchange

import (
	"context"
	"errors"
	"testing"
)

func TestPaperExchangeFillsImmediately(t *testing.T) {
	p := NewPaperExchange(0.001)
	p.SetPrice("BTC/USDT", 100)

	res, err := p.CreateLimitBuyOrder(context.Background(), "BTC/USDT", 2, 99)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.Closed() || res.Filled != 2 || res.Remaining != 0 {
		t.Fatalf("expected immediate full fill, got %+v", res)
	}
	if got, want := res.FeeCost, 2*99*0.001; got != want {
		t.Fatalf("fee %v, want %v", got, want)
	}

	fetched, err := p.FetchOrder(context.Background(), res.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.ID != res.ID || !fetched.Closed() {
		t.Fatalf("unexpected fetch result: %+v", fetched)
	}

	// 已成交订单的取消是 no-op
	if err := p.CancelOrder(context.Background(), res.ID, "BTC/USDT"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestPaperExchangeRejectsInvalidOrders(t *testing.T) {
	p := NewPaperExchange(0)
	if _, err := p.CreateLimitSellOrder(context.Background(), "BTC/USDT", 0, 100); err == nil {
		t.Fatal("expected rejection for zero amount")
	}
	if _, err := p.FetchOrder(context.Background(), "nope", "BTC/USDT"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := p.FetchTicker(context.Background(), "BTC/USDT"); err == nil {
		t.Fatal("expected error without seeded price")
	}
}
