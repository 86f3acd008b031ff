package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/suimate-labs/suimate/pkg/room"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func TestRecallerEmbedsThenSearches(t *testing.T) {
	store := newMemStore()
	store.similar = []room.SimilarMessage{
		{Message: room.Message{ID: "m1", Content: "liquidation risk on pool 3"}, Score: 0.88},
	}
	r := NewRecaller(store, &fakeEmbedder{vec: []float32{0.5, 0.5}}, 0)

	hits, err := r.Recall(context.Background(), "room-1", "am I at risk?", 3)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("hits = %+v, want the stored match", hits)
	}
	if len(store.lastQuery) != 2 || store.lastQuery[0] != 0.5 {
		t.Errorf("search ran with vector %v, want the embedded query", store.lastQuery)
	}
}

func TestRecallerEmbedFailure(t *testing.T) {
	r := NewRecaller(newMemStore(), &fakeEmbedder{err: errors.New("tei unreachable")}, 0)
	_, err := r.Recall(context.Background(), "room-1", "hello", 3)
	if err == nil || !strings.Contains(err.Error(), "embed recall query") {
		t.Fatalf("err = %v, want wrapped embed failure", err)
	}
}

func TestRecallerSearchFailure(t *testing.T) {
	store := newMemStore()
	store.similarErr = errors.New("index offline")
	r := NewRecaller(store, &fakeEmbedder{vec: []float32{1}}, 0)
	_, err := r.Recall(context.Background(), "room-1", "hello", 3)
	if err == nil || !strings.Contains(err.Error(), "similar messages") {
		t.Fatalf("err = %v, want wrapped search failure", err)
	}
}
