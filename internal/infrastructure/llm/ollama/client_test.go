package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/chunking"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/resilience"
)

type textReaderFake struct {
	text string
	err  error
}

func (f *textReaderFake) ReadText(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func TestProductExtractorPromptsEachChunk(t *testing.T) {
	var prompts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload["format"] != "json" {
			t.Errorf("expected json format, got %v", payload["format"])
		}
		prompt, _ := payload["prompt"].(string)
		prompts = append(prompts, prompt)
		_, _ = w.Write([]byte(`{"response":"{\"products\":[{\"name\":\"Arroz Tio João 5kg\",\"price\":\"R$ 22,90\",\"original_price\":26.5,\"unit\":\"pct\",\"validity\":\"até 20/03\"}]}"}`))
	}))
	defer server.Close()

	extractor := NewProductExtractor(
		New(server.URL, "llama3", nil),
		&textReaderFake{text: strings.Repeat("a", 30)},
		chunking.NewSplitter(20, 0),
	)
	products, err := extractor.Extract(context.Background(), []byte("flyer"), "flyer.txt")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(prompts) != 2 {
		t.Fatalf("expected one prompt per chunk, got %d", len(prompts))
	}
	if len(products) != 2 {
		t.Fatalf("expected products from both chunks, got %d", len(products))
	}
	p := products[0]
	if p.Name != "Arroz Tio João 5kg" || p.Price != 22.9 || p.Unit != "pct" || p.Validity != "até 20/03" {
		t.Fatalf("unexpected product: %+v", p)
	}
	if p.OriginalPrice == nil || *p.OriginalPrice != 26.5 {
		t.Fatalf("unexpected original price: %v", p.OriginalPrice)
	}
}

func TestProductExtractorRejectsMalformedReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"sorry, I cannot help"}`))
	}))
	defer server.Close()

	extractor := NewProductExtractor(New(server.URL, "llama3", nil), &textReaderFake{text: "Arroz 5kg 22,90"}, chunking.NewSplitter(0, 0))
	_, err := extractor.Extract(context.Background(), []byte("flyer"), "flyer.txt")
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected extraction failed kind, got %v", err)
	}
}

func TestProductExtractorRejectsEmptyText(t *testing.T) {
	extractor := NewProductExtractor(New("http://127.0.0.1:1", "llama3", nil), &textReaderFake{text: "   "}, chunking.NewSplitter(0, 0))
	_, err := extractor.Extract(context.Background(), []byte("flyer"), "flyer.txt")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGenerateIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "llama3", nil)
	_, err := client.generateJSON(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected HTTPStatusError, got %T", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("client errors must not be temporary")
	}
}

func TestGenerateRetriesUnavailableModel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"{}"}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
	client := New(server.URL, "llama3", executor)
	if _, err := client.generateJSON(context.Background(), "prompt"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGenerateMarksExhaustedRetriesTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "llama3", nil)
	_, err := client.generateJSON(context.Background(), "prompt")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", err)
	}
}

func TestParseProductsDropsUnusableItems(t *testing.T) {
	raw := "```json\n{\"products\":[{\"name\":\"\",\"price\":1},{\"name\":\"Sal 1kg\",\"price\":0},{\"name\":\"Açúcar 1kg\",\"price\":\"sem preço\"},{\"name\":\"Café 500g\",\"price\":15.9}]}\n```"
	products, err := parseProducts(raw)
	if err != nil {
		t.Fatalf("parseProducts() error = %v", err)
	}
	if len(products) != 1 || products[0].Name != "Café 500g" || products[0].OriginalPrice != nil {
		t.Fatalf("unexpected products: %+v", products)
	}
}

func TestParseBRLPrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"R$ 1.299,90", 1299.9, true},
		{"4,99", 4.99, true},
		{"4.99", 4.99, true},
		{"R$ 7,49", 7.49, true},
		{"", 0, false},
		{"grátis", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseBRLPrice(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseBRLPrice(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		value string
		want  time.Duration
	}{
		{value: "", want: 0},
		{value: "3", want: 3 * time.Second},
		{value: "0", want: 0},
		{value: "-5", want: 0},
		{value: "soon", want: 0},
		{value: now.Add(7 * time.Second).Format(http.TimeFormat), want: 7 * time.Second},
		{value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
	}
	for _, tc := range cases {
		if got := parseRetryAfter(tc.value, now); got != tc.want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestGenerateCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "llama3", nil)
	_, err := client.generateJSON(context.Background(), "prompt")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	class := classifyOllamaError(err)
	if !class.Retryable || class.RetryAfter != 2*time.Second {
		t.Fatalf("unexpected classification: %+v", class)
	}
}
