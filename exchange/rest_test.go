package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func restTestServer(t *testing.T) (*httptest.Server, *http.Request) {
	t.Helper()
	var captured http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/orders":
			_ = json.NewEncoder(w).Encode(restOrder{
				ID: "o-1", Status: "open", Price: 99, Amount: 2, Remaining: 2, Ts: 1700000000000,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/orders/o-1":
			_ = json.NewEncoder(w).Encode(restOrder{
				ID: "o-1", Status: "closed", Price: 99, Amount: 2, Filled: 2, Average: 98.9, Ts: 1700000001000,
			})
		case r.URL.Path == "/api/v1/orders/gone":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/ticker":
			_ = json.NewEncoder(w).Encode(restTicker{Symbol: "BTC/USDT", Last: 100.5, Bid: 100.4, Ask: 100.6, Ts: 1700000002000})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	return srv, &captured
}

func TestRESTClientOrderLifecycle(t *testing.T) {
	srv, captured := restTestServer(t)
	defer srv.Close()

	c := NewRESTClient(srv.URL, "key", "secret")
	ctx := context.Background()

	res, err := c.CreateLimitBuyOrder(ctx, "BTC/USDT", 2, 99)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ID != "o-1" || res.Closed() {
		t.Fatalf("unexpected create result: %+v", res)
	}
	// 签名头必须随每个请求发出
	if captured.Header.Get("X-Api-Key") != "key" {
		t.Fatal("missing api key header")
	}
	if captured.Header.Get("X-Api-Signature") == "" || captured.Header.Get("X-Api-Timestamp") == "" {
		t.Fatal("missing signature headers")
	}

	res, err = c.FetchOrder(ctx, "o-1", "BTC/USDT")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !res.Closed() || res.Average != 98.9 {
		t.Fatalf("unexpected fetch result: %+v", res)
	}

	tk, err := c.FetchTicker(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if tk.Last != 100.5 {
		t.Fatalf("unexpected ticker: %+v", tk)
	}
}

func TestRESTClientMapsNotFound(t *testing.T) {
	srv, _ := restTestServer(t)
	defer srv.Close()

	c := NewRESTClient(srv.URL, "key", "secret")
	if _, err := c.FetchOrder(context.Background(), "gone", "BTC/USDT"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := c.CancelOrder(context.Background(), "gone", "BTC/USDT"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on cancel, got %v", err)
	}
}
