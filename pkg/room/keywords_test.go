package room

import (
	"reflect"
	"testing"
)

func TestExtractKeywordsFrequencyOrder(t *testing.T) {
	texts := []string{
		"portfolio risk portfolio exposure",
		"portfolio exposure tokens",
	}
	got := ExtractKeywords(texts, 10)
	want := []string{"portfolio", "exposure", "risk", "tokens"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsTieBreakLexicographic(t *testing.T) {
	texts := []string{"zebra apple zebra apple mango"}
	got := ExtractKeywords(texts, 10)
	// apple and zebra both appear twice; apple sorts first.
	want := []string{"apple", "zebra", "mango"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsFilters(t *testing.T) {
	texts := []string{"the and for is it ok liquidation"}
	got := ExtractKeywords(texts, 10)
	want := []string{"liquidation"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsTopK(t *testing.T) {
	texts := []string{"alpha beta gamma delta epsilon"}
	got := ExtractKeywords(texts, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// All frequencies equal — lexicographic order decides the cut.
	want := []string{"alpha", "beta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsLowercases(t *testing.T) {
	got := ExtractKeywords([]string{"SUI sui Sui"}, 5)
	want := []string{"sui"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsEmpty(t *testing.T) {
	if got := ExtractKeywords(nil, 5); len(got) != 0 {
		t.Errorf("ExtractKeywords(nil) = %v, want empty", got)
	}
	if got := ExtractKeywords([]string{"portfolio"}, 0); len(got) != 0 {
		t.Errorf("ExtractKeywords(topK=0) = %v, want empty", got)
	}
}
