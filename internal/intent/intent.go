// Package intent classifies user messages into the closed label set
// that drives handler routing in the chat pipeline.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/suimate-labs/suimate/internal/llm"
)

// Intent is one label from the closed classification set.
type Intent string

const (
	Greeting         Intent = "greeting"
	AnalyzePortfolio Intent = "analyze_portfolio_risk"
	AnalyzePositions Intent = "analyze_positions"
	GetCoinData      Intent = "get_coin_data"
	GetNFTData       Intent = "get_nft_data"
	GetTransactions  Intent = "get_transaction_history"
	Unknown          Intent = "unknown"
)

// All returns every intent a classifier may yield, Unknown included.
func All() []Intent {
	return []Intent{
		Greeting, AnalyzePortfolio, AnalyzePositions,
		GetCoinData, GetNFTData, GetTransactions, Unknown,
	}
}

var valid = map[Intent]struct{}{
	Greeting:         {},
	AnalyzePortfolio: {},
	AnalyzePositions: {},
	GetCoinData:      {},
	GetNFTData:       {},
	GetTransactions:  {},
}

// Parse normalizes a raw classifier output and matches it against the
// closed set, case-insensitively. Anything that doesn't match maps to
// Unknown — never to an error.
func Parse(raw string) Intent {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, `"'.`+"`")
	if i := Intent(s); hasIntent(i) {
		return i
	}
	return Unknown
}

func hasIntent(i Intent) bool {
	_, ok := valid[i]
	return ok
}

// NeedsDomainData reports whether the intent requires fetching wallet
// data before composing a reply.
func (i Intent) NeedsDomainData() bool {
	switch i {
	case AnalyzePortfolio, AnalyzePositions, GetCoinData, GetNFTData, GetTransactions:
		return true
	}
	return false
}

// Completer is the completion surface the classifier needs. *llm.Router
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, tier llm.Tier, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Classifier maps message text to an Intent via the LLM. It never
// fails outward: collaborator errors, timeouts, and out-of-set outputs
// all resolve to Unknown.
type Classifier struct {
	llm     Completer
	timeout time.Duration
}

// NewClassifier creates a classifier. A zero timeout defaults to 10s.
func NewClassifier(completer Completer, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Classifier{llm: completer, timeout: timeout}
}

const classifyPrompt = `What is the intent of the following message: %q? The categories are based on these parameters:
- greeting: a message that initiates a conversation or acknowledges the assistant.
- analyze_portfolio_risk: a request to assess the risk of the user's investment portfolio (volatility, allocation, potential losses).
- analyze_positions: a request to evaluate the user's leveraged pool positions and whether any is close to liquidation.
- get_coin_data: a request for the coin balances held in the user's wallet.
- get_nft_data: a request for the NFTs held in the user's wallet.
- get_transaction_history: a request for the user's transaction history.
You should return only one of them.`

// Classify returns exactly one intent for the message.
func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.Complete(ctx, llm.TierFast, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, text)},
		},
		MaxTokens:   32,
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("intent classification degraded", "error", err)
		return Unknown
	}

	result := Parse(resp.Content)
	slog.Debug("intent classified", "intent", result)
	return result
}
