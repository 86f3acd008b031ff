// Package chat is the intent-routed message pipeline: it validates the
// room, classifies the message, gathers wallet data when the intent
// needs it, composes a reply, and persists the exchange.
package chat

import (
	"github.com/suimate-labs/suimate/internal/intent"
	"github.com/suimate-labs/suimate/internal/sui"
)

// Kind names the wallet-data domain an intent needs.
type Kind int

const (
	KindNone Kind = iota
	KindCoins
	KindPortfolio
	KindPositions
	KindNFTs
	KindTransactions
)

func (k Kind) String() string {
	switch k {
	case KindCoins:
		return "coins"
	case KindPortfolio:
		return "portfolio"
	case KindPositions:
		return "positions"
	case KindNFTs:
		return "nfts"
	case KindTransactions:
		return "transactions"
	}
	return "none"
}

// KindForIntent maps an intent to the domain it queries.
func KindForIntent(it intent.Intent) Kind {
	switch it {
	case intent.AnalyzePortfolio:
		return KindPortfolio
	case intent.AnalyzePositions:
		return KindPositions
	case intent.GetCoinData:
		return KindCoins
	case intent.GetNFTData:
		return KindNFTs
	case intent.GetTransactions:
		return KindTransactions
	}
	return KindNone
}

// Coin is one wallet holding with price data attached.
type Coin struct {
	CoinType       string
	Symbol         string
	Amount         float64 // human units after decimals normalization
	PriceUSD       float64
	PriceChangeH24 float64 // percent; 0 when price lookup degraded
	ValueUSD       float64
}

// Data is the aggregator's normalized output. It is always usable by the
// composer: a total fetch failure sets FetchFailed instead of erroring,
// and per-item degradation is recorded in Warnings.
type Data struct {
	Kind          Kind
	Coins         []Coin
	TotalValueUSD float64
	Positions     []sui.Position
	NFTs          []sui.NFT
	Transactions  []sui.Transaction

	FetchFailed bool     // nothing could be fetched
	Warnings    []string // per-item degradations, for logging and prompt hedging
}

// Empty reports whether the fetch worked but found nothing. Distinct
// from FetchFailed: the two produce different replies.
func (d *Data) Empty() bool {
	if d == nil || d.FetchFailed {
		return false
	}
	switch d.Kind {
	case KindCoins, KindPortfolio:
		return len(d.Coins) == 0
	case KindPositions:
		return len(d.Positions) == 0
	case KindNFTs:
		return len(d.NFTs) == 0
	case KindTransactions:
		return len(d.Transactions) == 0
	}
	return true
}
