package market

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func statsServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
}

func TestStatsPrefersStableQuote(t *testing.T) {
	srv := statsServer(`{"pairs":[
		{"quoteToken":{"symbol":"WETH"},"priceUsd":"1.01","priceChange":{"h24":9.9}},
		{"quoteToken":{"symbol":"USDC"},"priceUsd":"1.00","priceChange":{"h24":-2.5}}
	]}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	stats, err := c.Stats(context.Background(), "0xabc::usdc::USDC")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PriceUSD != 1.00 {
		t.Errorf("PriceUSD = %v, want 1.00 (USDC-quoted pair)", stats.PriceUSD)
	}
	if stats.PriceChangeH24 != -2.5 {
		t.Errorf("PriceChangeH24 = %v, want -2.5", stats.PriceChangeH24)
	}
}

func TestStatsFallsBackToFirstPair(t *testing.T) {
	srv := statsServer(`{"pairs":[
		{"quoteToken":{"symbol":"WETH"},"priceUsd":"3.14","priceChange":{"h24":1.2}},
		{"quoteToken":{"symbol":"BONK"},"priceUsd":"3.20","priceChange":{"h24":1.5}}
	]}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	stats, err := c.Stats(context.Background(), "0xdef::thing::THING")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PriceUSD != 3.14 {
		t.Errorf("PriceUSD = %v, want first pair's 3.14", stats.PriceUSD)
	}
}

func TestStatsNoPair(t *testing.T) {
	srv := statsServer(`{"pairs":null}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Stats(context.Background(), "0xobscure::token::TOKEN")
	if !errors.Is(err, ErrNoPair) {
		t.Fatalf("err = %v, want ErrNoPair", err)
	}
}

func TestStatsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Stats(context.Background(), "0xabc::usdc::USDC")
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if errors.Is(err, ErrNoPair) {
		t.Error("transport failure must not look like a missing pair")
	}
}
