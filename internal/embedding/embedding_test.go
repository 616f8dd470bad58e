package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIProviderEmbedFitsDimension(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		resp := apiResponse{
			Data: []apiEmbeddingData{
				{Embedding: []float32{0.1, 0.2, 0.3}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{
		Endpoint:  srv.URL,
		Model:     "test-model",
		Dimension: 8,
	})

	vectors, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if len(vectors[0]) != 8 {
		t.Fatalf("got dimension %d, want padded 8", len(vectors[0]))
	}
	if vectors[0][3] != 0 {
		t.Errorf("expected zero padding past source vector, got %v", vectors[0][3])
	}
}

func TestAPIProviderEmbedEmpty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "m", Dimension: 128})
	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestLocalProviderDeterministic(t *testing.T) {
	p := NewLocalProvider(Config{Dimension: 64})

	a, err := p.Embed(context.Background(), []string{"recursion depth cap"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := p.Embed(context.Background(), []string{"recursion depth cap"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("got dimension %d, want 64", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[0][i], b[0][i])
		}
	}
}

func TestFit(t *testing.T) {
	if got := Fit([]float32{1, 2, 3}, 2); len(got) != 2 {
		t.Errorf("truncate: got len %d, want 2", len(got))
	}
	got := Fit([]float32{1}, 4)
	if len(got) != 4 || got[0] != 1 || got[3] != 0 {
		t.Errorf("pad: got %v", got)
	}
}
