package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPFetcherRejectsNonHTTPSchemes(t *testing.T) {
	f := NewHTTPFetcher()

	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/x",
		"data:text/plain,hi",
	} {
		if _, err := f.Fetch(raw, FetchOptions{}); err == nil {
			t.Errorf("Fetch(%q) succeeded, want scheme error", raw)
		}
	}
}

func TestHTTPFetcherRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent = %q, want browser-like", ua)
		}
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("X-Custom = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	res, err := f.Fetch(srv.URL, FetchOptions{
		Headers: map[string]string{"X-Custom": "yes"},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d", res.Status)
	}
	if res.Body != `{"ok":true}` {
		t.Errorf("Body = %q", res.Body)
	}
	if res.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type header = %q", res.Headers["Content-Type"])
	}
}

func TestHTTPFetcherPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	res, err := f.Fetch(srv.URL, FetchOptions{Method: "post", Body: `{"a":1}`})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != http.StatusCreated {
		t.Errorf("Status = %d", res.Status)
	}
}
