package semantic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/config"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{
		Endpoint:       srv.URL,
		APIKey:         "test-key",
		Model:          "embed-v1",
		RequestTimeout: time.Second,
	}, zap.NewNop())

	vector, err := c.Embed(context.Background(), "running shoes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.1 {
		t.Errorf("unexpected vector %v", vector)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{
		Endpoint:       srv.URL,
		RequestTimeout: time.Second,
	}, zap.NewNop())

	if _, err := c.Embed(context.Background(), "running shoes"); err == nil {
		t.Error("expected error on 503")
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{
		Endpoint:       srv.URL,
		RequestTimeout: time.Second,
	}, zap.NewNop())

	if _, err := c.Embed(context.Background(), "running shoes"); err == nil {
		t.Error("expected error on empty vector")
	}
}

func TestEmbed_Disabled(t *testing.T) {
	c := NewClient(config.EmbeddingConfig{}, zap.NewNop())

	if c.Enabled() {
		t.Error("client without endpoint should report disabled")
	}
	if _, err := c.Embed(context.Background(), "anything"); err == nil {
		t.Error("expected error when disabled")
	}
}
