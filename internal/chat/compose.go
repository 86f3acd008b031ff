package chat

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/suimate-labs/suimate/internal/intent"
	"github.com/suimate-labs/suimate/internal/llm"
)

// greetings is the fixed pool used for the greeting intent. No LLM call:
// greetings are latency-sensitive and carry no wallet data.
var greetings = []string{
	"Hello! I'm your Sui portfolio assistant. I can check your coins, NFTs, positions, and transaction history — what would you like to know?",
	"Hi there! Ready to dig into your wallet? Ask me about your balances, positions, or recent transactions.",
	"Hey! I keep an eye on your Sui portfolio. Ask me about portfolio risk, your NFTs, or anything else in your wallet.",
	"Welcome back! How can I help with your portfolio today?",
}

// apologyText is returned when answer composition fails; the pipeline
// still persists the exchange.
const apologyText = "Sorry, I ran into a problem putting that answer together. Please try again in a moment."

// Completer is the completion surface the composer needs. *llm.Router
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, tier llm.Tier, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Composer turns an intent plus normalized domain data into reply text.
// Stateless across calls.
type Composer struct {
	llm     Completer
	timeout time.Duration
}

// NewComposer creates a composer. A zero timeout defaults to 45s.
func NewComposer(completer Completer, timeout time.Duration) *Composer {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Composer{llm: completer, timeout: timeout}
}

const composerSystem = `You are a helpful Sui wallet assistant. Answer using only the data provided. Be concise, use markdown, and round dollar amounts to two decimals. If the data carries warnings, hedge the affected figures.`

// Compose builds the reply. Greetings and empty/failed data short-circuit
// to fixed text; everything else goes through the LLM.
func (c *Composer) Compose(ctx context.Context, it intent.Intent, data *Data, convContext string) (string, error) {
	if it == intent.Greeting {
		return greetings[rand.Intn(len(greetings))], nil
	}

	if it.NeedsDomainData() {
		if data == nil || data.FetchFailed {
			return fetchFailedText(KindForIntent(it)), nil
		}
		if data.Empty() {
			return emptyText(data.Kind), nil
		}
	}

	prompt := c.buildPrompt(it, data, convContext)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.llm.Complete(ctx, llm.TierDeep, llm.CompletionRequest{
		System: composerSystem,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("compose %s reply: %w", it, err)
	}
	return resp.Content, nil
}

func fetchFailedText(kind Kind) string {
	return fmt.Sprintf("I couldn't fetch your %s data right now. Please try again shortly.", kind)
}

func emptyText(kind Kind) string {
	switch kind {
	case KindCoins, KindPortfolio:
		return "This wallet doesn't hold any coins yet."
	case KindPositions:
		return "You don't have any open positions."
	case KindNFTs:
		return "No NFTs found in this wallet."
	case KindTransactions:
		return "No transactions found for this wallet."
	}
	return "I didn't find any data for that."
}

// buildPrompt embeds the normalized data as markdown the model can quote
// from directly.
func (c *Composer) buildPrompt(it intent.Intent, data *Data, convContext string) string {
	var b strings.Builder

	switch it {
	case intent.AnalyzePortfolio:
		b.WriteString("Assess the risk of this portfolio (volatility exposure, allocation concentration, potential losses):\n\n")
		writeCoinTable(&b, data)
	case intent.GetCoinData:
		b.WriteString("Summarize the coin holdings in this wallet:\n\n")
		writeCoinTable(&b, data)
	case intent.AnalyzePositions:
		b.WriteString("Evaluate these leveraged pool positions. Call out any position close to liquidation:\n\n")
		for _, p := range data.Positions {
			fmt.Fprintf(&b, "- Pool %s (%s/%s): margin level %.2f, liquidation range %.4f–%.4f, in range: %v\n",
				p.PoolName, p.TokenX, p.TokenY, p.MarginLevel, p.LiqPriceLow, p.LiqPriceHigh, p.InRange)
		}
	case intent.GetNFTData:
		b.WriteString("Describe the NFTs in this wallet:\n\n")
		for _, n := range data.NFTs {
			fmt.Fprintf(&b, "- %s (collection: %s)", n.Name, n.Collection)
			if n.Description != "" {
				fmt.Fprintf(&b, " — %s", n.Description)
			}
			b.WriteString("\n")
		}
	case intent.GetTransactions:
		b.WriteString("Summarize this transaction history:\n\n")
		b.WriteString("| Digest | Time | Kind | Gas (SUI) | Status |\n|---|---|---|---|---|\n")
		for _, tx := range data.Transactions {
			status := "failed"
			if tx.Success {
				status = "success"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %.6f | %s |\n",
				tx.Digest, time.UnixMilli(tx.TimestampMS).UTC().Format("2006-01-02 15:04"), tx.Kind, tx.GasFeeSUI, status)
		}
	default:
		b.WriteString("Answer the user's message using the conversation context below.\n")
	}

	if data != nil && len(data.Warnings) > 0 {
		b.WriteString("\nData warnings:\n")
		for _, w := range data.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if convContext != "" {
		b.WriteString("\nConversation context:\n")
		b.WriteString(convContext)
		b.WriteString("\n")
	}
	return b.String()
}

func writeCoinTable(b *strings.Builder, data *Data) {
	b.WriteString("| Token | Amount | Price (USD) | 24h Change | Value (USD) |\n|---|---|---|---|---|\n")
	for _, coin := range data.Coins {
		fmt.Fprintf(b, "| %s | %.4f | %.4f | %+.2f%% | %.2f |\n",
			coin.Symbol, coin.Amount, coin.PriceUSD, coin.PriceChangeH24, coin.ValueUSD)
	}
	fmt.Fprintf(b, "\nTotal value: $%.2f\n", data.TotalValueUSD)
}
