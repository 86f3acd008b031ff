package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/suimate-labs/suimate/internal/intent"
	"github.com/suimate-labs/suimate/internal/llm"
)

type fakeCompleter struct {
	content string
	err     error
	calls   int
	lastReq llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, tier llm.Tier, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func TestComposeGreetingSkipsLLM(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("must not be called")}
	c := NewComposer(fc, time.Second)

	text, err := c.Compose(context.Background(), intent.Greeting, nil, "")
	if err != nil {
		t.Fatalf("Compose greeting: %v", err)
	}
	if fc.calls != 0 {
		t.Error("greeting must not invoke the LLM")
	}
	found := false
	for _, g := range greetings {
		if text == g {
			found = true
		}
	}
	if !found {
		t.Errorf("greeting %q not from the fixed pool", text)
	}
}

func TestComposeEmptyDataSkipsLLM(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("must not be called")}
	c := NewComposer(fc, time.Second)

	text, err := c.Compose(context.Background(), intent.GetNFTData, &Data{Kind: KindNFTs}, "")
	if err != nil {
		t.Fatalf("Compose empty: %v", err)
	}
	if fc.calls != 0 {
		t.Error("empty data must not invoke the LLM")
	}
	if !strings.Contains(text, "No NFTs") {
		t.Errorf("expected canned no-data text, got %q", text)
	}
}

func TestComposeFetchFailedText(t *testing.T) {
	c := NewComposer(&fakeCompleter{}, time.Second)
	text, err := c.Compose(context.Background(), intent.GetCoinData, &Data{Kind: KindCoins, FetchFailed: true}, "")
	if err != nil {
		t.Fatalf("Compose failed-fetch: %v", err)
	}
	if !strings.Contains(text, "couldn't fetch") {
		t.Errorf("expected fetch-failure text, got %q", text)
	}
}

func TestComposeEmbedsDataInPrompt(t *testing.T) {
	fc := &fakeCompleter{content: "Your portfolio looks balanced."}
	c := NewComposer(fc, time.Second)

	data := &Data{
		Kind: KindPortfolio,
		Coins: []Coin{
			{Symbol: "SUI", Amount: 5, PriceUSD: 2, PriceChangeH24: -3.5, ValueUSD: 10},
		},
		TotalValueUSD: 10,
		Warnings:      []string{"price unavailable for DUST"},
	}
	text, err := c.Compose(context.Background(), intent.AnalyzePortfolio, data, "Summary: user asks about risk")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if text != "Your portfolio looks balanced." {
		t.Errorf("unexpected reply %q", text)
	}
	prompt := fc.lastReq.Messages[0].Content
	for _, want := range []string{"SUI", "Total value: $10.00", "price unavailable for DUST", "user asks about risk"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestComposeLLMFailurePropagates(t *testing.T) {
	c := NewComposer(&fakeCompleter{err: &llm.ProviderError{Message: "overloaded"}}, time.Second)
	data := &Data{Kind: KindCoins, Coins: []Coin{{Symbol: "SUI", Amount: 1}}}
	if _, err := c.Compose(context.Background(), intent.GetCoinData, data, ""); err == nil {
		t.Fatal("expected error from LLM failure")
	}
}
