package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/careerscope/jobharvester/internal/scrape"
)

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Harvest") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()

	f, err := New(Config{UserAgent: "jobharvester-bot", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := f.Fetch(context.Background(), scrape.FetchRequest{
		JobID:   "job-1",
		URL:     srv.URL + "/search",
		Headers: http.Header{"X-Harvest": {"1"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(resp.Body) != "<html><body>ok</body></html>" {
		t.Fatalf("body = %q", resp.Body)
	}
	if resp.Duration <= 0 {
		t.Fatal("duration should be recorded")
	}
}

func TestFetcher_FetchErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, err := New(Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL}); err == nil {
		t.Fatal("5xx should surface as a fetch error")
	}
}

func TestFetcher_ContextCancel(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	f, err := New(Config{Timeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, scrape.FetchRequest{URL: srv.URL}); err == nil {
		t.Fatal("canceled context should abort the fetch")
	}
}
