package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, force bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL, ForceLowestCost: force}, pslog.NoopLogger())
}

func TestWhoamiSendsCredentialHeader(t *testing.T) {
	var gotKey, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Skyfi-Api-Key")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]string{"email": "ops@example.com", "name": "Ops"})
	}, false)

	user, err := c.Whoami(context.Background(), "sk-live")
	if err != nil {
		t.Fatal(err)
	}
	if gotKey != "sk-live" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotPath != "/auth/whoami" {
		t.Errorf("path = %q", gotPath)
	}
	if user.Email != "ops@example.com" {
		t.Errorf("email = %q", user.Email)
	}
}

func TestUnauthorizedIsFinal(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, false)

	_, err := c.Whoami(context.Background(), "bad-key")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("401 must not be retried, got %d calls", n)
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"email": "ops@example.com"})
	}, false)

	if _, err := c.Whoami(context.Background(), "sk-live"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, false)

	_, err := c.Whoami(context.Background(), "sk-live")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != maxAttempts {
		t.Errorf("calls = %d, want %d", n, maxAttempts)
	}
}

func TestSearchForcesLowestCost(t *testing.T) {
	var gotReq models.SearchRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []models.Archive{
				{ID: "pricey", Price: 25},
				{ID: "cheap", Price: 3},
				{ID: "mid", Price: 10},
			},
		})
	}, true)

	results, err := c.SearchArchives(context.Background(), "sk", models.SearchRequest{
		AOI:        "POLYGON((0 0,1 0,1 1,0 0))",
		Resolution: "HIGH",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotReq.Resolution != "LOW" || !gotReq.OpenData {
		t.Errorf("request not pinned to low cost: %+v", gotReq)
	}
	if len(results) != 3 || results[0].ID != "cheap" || results[2].ID != "pricey" {
		t.Errorf("results not sorted cheapest first: %+v", results)
	}
}

func TestQuoteArchiveConvertsToCents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pricing/archive" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"price": 12.50})
	}, false)

	price, currency, err := c.QuoteArchive(context.Background(), "sk", models.OrderSpec{ArchiveID: "arch-1"})
	if err != nil {
		t.Fatal(err)
	}
	if price != models.CentsFromDollars(12.50) {
		t.Errorf("price = %s", price)
	}
	if currency != "USD" {
		t.Errorf("currency defaulted to %q, want USD", currency)
	}
}

func TestOrderArchivePinsDelivery(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"orderId": "ord-42"})
	}, false)

	ref, err := c.OrderArchive(context.Background(), "sk", models.OrderSpec{ArchiveID: "arch-1", AOI: "POINT(0 0)"})
	if err != nil {
		t.Fatal(err)
	}
	if ref != "ord-42" {
		t.Errorf("ref = %q", ref)
	}
	if gotBody["deliveryDriver"] != "NONE" {
		t.Errorf("deliveryDriver = %v", gotBody["deliveryDriver"])
	}
}

func TestClientErrorIncludesBodyExcerpt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"aoi is not a valid polygon"}`))
	}, false)

	_, _, err := c.QuoteArchive(context.Background(), "sk", models.OrderSpec{ArchiveID: "arch-1"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "aoi is not a valid polygon") {
		t.Errorf("error lacks upstream detail: %s", got)
	}
}
