package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
)

func TestHelpers(t *testing.T) {
	tests := []struct{ target, host string }{
		{"https://example.com/path", "example.com"},
		{"example.com:8443", "example.com"},
		{"http://[::1]:8080/", "::1"},
		{"example.com", "example.com"},
	}
	for _, tt := range tests {
		if got := Host(tt.target); got != tt.host {
			t.Errorf("Host(%q) = %q, want %q", tt.target, got, tt.host)
		}
	}
	if got := Join("https://e.com/", "/.env"); got != "https://e.com/.env" {
		t.Errorf("Join = %q", got)
	}
	if got := Join("e.com", "robots.txt"); got != "http://e.com/robots.txt" {
		t.Errorf("Join = %q", got)
	}
}

func TestClientGetAndLimit(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
		w.Header().Set("X-Test", "1")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := New(core.Config{"max_body": float64(4), "user_agent": "panoptes-test", "rate_per_second": float64(20)})
	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "0123" || resp.Header.Get("X-Test") != "1" || resp.Status != 200 {
			t.Errorf("resp = %+v", resp)
		}
	}
	if ua != "panoptes-test" {
		t.Errorf("user agent = %q", ua)
	}
	// 20 rps、突发 1：三次请求至少间隔两个 50ms
	if time.Since(start) < 90*time.Millisecond {
		t.Error("rate limiter not applied")
	}
}
