// Package market fetches token price data from DexScreener.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public DexScreener API endpoint.
const DefaultBaseURL = "https://api.dexscreener.com"

// ErrNoPair means DexScreener knows no trading pair for the token. It is
// distinct from transport failure: the lookup worked, the data does not
// exist.
var ErrNoPair = errors.New("no trading pair for token")

// TokenStats is the normalized price view of one token.
type TokenStats struct {
	PriceUSD       float64
	PriceChangeH24 float64 // percent, signed
}

// preferredQuotes rank pair selection: a USDT/USDC/SUI-quoted pair gives
// a more trustworthy USD price than an obscure quote token.
var preferredQuotes = []string{"USDT", "USDC", "SUI"}

// Client queries DexScreener for token pairs.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a DexScreener client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Stats returns price and 24h change for a token, identified by its coin
// type or contract address. Returns ErrNoPair when DexScreener has no
// pair for it.
func (c *Client) Stats(ctx context.Context, token string) (*TokenStats, error) {
	endpoint := c.baseURL + "/latest/dex/tokens/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create stats request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read stats response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener returned %d for %s", resp.StatusCode, token)
	}

	pairs := gjson.GetBytes(raw, "pairs")
	if !pairs.Exists() || !pairs.IsArray() || len(pairs.Array()) == 0 {
		return nil, fmt.Errorf("%s: %w", token, ErrNoPair)
	}

	pair := pickPair(pairs.Array())
	return &TokenStats{
		PriceUSD:       pair.Get("priceUsd").Float(),
		PriceChangeH24: pair.Get("priceChange.h24").Float(),
	}, nil
}

// pickPair prefers pairs quoted in a major stable or SUI, falling back
// to the first pair DexScreener lists (its highest-liquidity match).
func pickPair(pairs []gjson.Result) gjson.Result {
	for _, quote := range preferredQuotes {
		for _, p := range pairs {
			if strings.EqualFold(p.Get("quoteToken.symbol").String(), quote) {
				return p
			}
		}
	}
	return pairs[0]
}
