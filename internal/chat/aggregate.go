package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suimate-labs/suimate/internal/market"
	"github.com/suimate-labs/suimate/internal/sui"
)

// ChainReader is the wallet-data surface the aggregator needs.
// *sui.Client satisfies it.
type ChainReader interface {
	Balances(ctx context.Context, address string) ([]sui.Balance, error)
	Metadata(ctx context.Context, coinType string) (*sui.CoinMetadata, error)
	NFTs(ctx context.Context, address string) ([]sui.NFT, error)
	Transactions(ctx context.Context, address string, limit int) ([]sui.Transaction, error)
	Positions(ctx context.Context, address string) ([]sui.Position, error)
}

// PriceSource provides token price stats. *market.Client satisfies it.
type PriceSource interface {
	Stats(ctx context.Context, token string) (*market.TokenStats, error)
}

const (
	defaultFetchTimeout = 20 * time.Second
	defaultTxLimit      = 25
	priceFanOutLimit    = 8
)

// Aggregator fetches and normalizes wallet data for one domain. It
// degrades instead of aborting: sub-fetch failures reduce fidelity, a
// total failure yields Data with FetchFailed set. Fetch never errors.
type Aggregator struct {
	chain   ChainReader
	prices  PriceSource
	timeout time.Duration
	txLimit int
}

// NewAggregator creates an aggregator with default timeout and
// transaction limit.
func NewAggregator(chain ChainReader, prices PriceSource) *Aggregator {
	return &Aggregator{
		chain:   chain,
		prices:  prices,
		timeout: defaultFetchTimeout,
		txLimit: defaultTxLimit,
	}
}

// Fetch gathers domain data for the wallet. The returned Data is always
// non-nil and composable.
func (a *Aggregator) Fetch(ctx context.Context, kind Kind, wallet string) *Data {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data := &Data{Kind: kind}
	switch kind {
	case KindCoins, KindPortfolio:
		a.fetchCoins(ctx, wallet, data)
	case KindPositions:
		positions, err := a.chain.Positions(ctx, wallet)
		if err != nil {
			data.FetchFailed = true
		}
		data.Positions = positions
	case KindNFTs:
		nfts, err := a.chain.NFTs(ctx, wallet)
		if err != nil {
			data.FetchFailed = true
		}
		data.NFTs = nfts
	case KindTransactions:
		txs, err := a.chain.Transactions(ctx, wallet, a.txLimit)
		if err != nil {
			data.FetchFailed = true
		}
		data.Transactions = txs
	}

	if data.FetchFailed {
		slog.Warn("domain fetch failed", "kind", kind.String(), "wallet", wallet)
	}
	for _, w := range data.Warnings {
		slog.Debug("domain fetch degraded", "kind", kind.String(), "warning", w)
	}
	return data
}

// fetchCoins loads balances then fans out per-token metadata and price
// lookups. A failing lookup degrades that token to symbol-only or
// zero-price rather than dropping it.
func (a *Aggregator) fetchCoins(ctx context.Context, wallet string, data *Data) {
	balances, err := a.chain.Balances(ctx, wallet)
	if err != nil {
		data.FetchFailed = true
		return
	}

	coins := make([]Coin, len(balances))
	warnings := make([]string, len(balances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceFanOutLimit)
	for i, bal := range balances {
		g.Go(func() error {
			coins[i] = a.lookupCoin(gctx, bal, &warnings[i])
			return nil
		})
	}
	g.Wait() // goroutines never error; Wait just joins the fan-out

	for i := range coins {
		data.TotalValueUSD += coins[i].ValueUSD
		if warnings[i] != "" {
			data.Warnings = append(data.Warnings, warnings[i])
		}
	}
	data.Coins = coins
}

func (a *Aggregator) lookupCoin(ctx context.Context, bal sui.Balance, warning *string) Coin {
	coin := Coin{CoinType: bal.CoinType}

	meta, err := a.chain.Metadata(ctx, bal.CoinType)
	if err != nil {
		*warning = fmt.Sprintf("metadata unavailable for %s", bal.CoinType)
		meta = &sui.CoinMetadata{Symbol: "UNKNOWN", Decimals: 9}
	}
	coin.Symbol = meta.Symbol
	coin.Amount = sui.HumanAmount(bal.TotalBalance, meta.Decimals)

	stats, err := a.prices.Stats(ctx, bal.CoinType)
	if err != nil {
		// No pair and transport failure both degrade to neutral zero;
		// the token still appears with its balance.
		if *warning == "" {
			*warning = fmt.Sprintf("price unavailable for %s", coin.Symbol)
		}
		return coin
	}
	coin.PriceUSD = stats.PriceUSD
	coin.PriceChangeH24 = stats.PriceChangeH24
	coin.ValueUSD = coin.Amount * stats.PriceUSD
	return coin
}
