package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRenderCapturesHTMLAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Quiz</title></head><body><article><h1>Question</h1><p>How many moons does Mars have?</p></article></body></html>`))
	}))
	defer srv.Close()

	r := &Renderer{Timeout: 2 * time.Second, MaxChars: 20000}
	page, err := r.Render(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(page.HTML, "How many moons") {
		t.Fatalf("raw HTML not captured")
	}
	if page.URL != srv.URL {
		t.Fatalf("url = %s", page.URL)
	}
	if page.CapturedAt.IsZero() {
		t.Fatalf("missing capture time")
	}
}

func TestRenderRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r := &Renderer{Timeout: time.Second, MaxChars: 100}
	if _, err := r.Render(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func TestRenderRejectsEmptyURL(t *testing.T) {
	r := &Renderer{Timeout: time.Second, MaxChars: 100}
	if _, err := r.Render(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
