package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/clock"
	"github.com/skygate-io/skygate/pkg/models"
	"github.com/skygate-io/skygate/pkg/token"
)

func newTestWeb(t *testing.T, verifier Verifier) (*http.ServeMux, *Broker, *clock.Manual) {
	t.Helper()
	b, clk := newTestBroker(t, verifier)
	mux := http.NewServeMux()
	NewWebHandler(b, pslog.NoopLogger()).Register(mux)
	return mux, b, clk
}

func TestPageRendersFormForLiveLink(t *testing.T) {
	mux, b, _ := newTestWeb(t, &fakeVerifier{})

	link, _, _ := b.Start("sess-1")
	id := tokenFromLink(t, link)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/"+id, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "API key") {
		t.Error("expected credential form")
	}
}

func TestPageForUnknownAndExpiredLinksLooksTheSame(t *testing.T) {
	mux, b, clk := newTestWeb(t, &fakeVerifier{})

	link, _, _ := b.Start("sess-1")
	expired := tokenFromLink(t, link)
	clk.Advance(10 * time.Minute)

	var bodies []string
	for _, id := range []string{"unknown-token", expired} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status for %q = %d, want 404", id, rec.Code)
		}
		bodies = append(bodies, rec.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Error("unknown and expired links must be indistinguishable")
	}
}

func TestSubmitVerifiesAndConsumes(t *testing.T) {
	verifier := &fakeVerifier{user: models.UserInfo{Email: "ops@example.com"}}
	mux, b, _ := newTestWeb(t, verifier)

	link, _, _ := b.Start("sess-1")
	id := tokenFromLink(t, link)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/"+id,
		strings.NewReader(`{"api_key":"sk-live"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "verified" {
		t.Errorf("status = %s", resp.Status)
	}
	if !b.Status("sess-1") {
		t.Error("session not verified after submit")
	}

	// The page now shows the done state instead of the form.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/"+id, nil))
	if !strings.Contains(rec.Body.String(), "already authenticated") &&
		!strings.Contains(rec.Body.String(), "Already Authenticated") {
		t.Error("expected done page after redemption")
	}

	// A second submit on the consumed link is gone.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/"+id,
		strings.NewReader(`{"api_key":"sk-live"}`)))
	if rec.Code != http.StatusGone {
		t.Errorf("replay status = %d, want 410", rec.Code)
	}
}

func TestSubmitRejectedKeyKeepsLink(t *testing.T) {
	verifier := &fakeVerifier{err: catalogError{}}
	mux, b, _ := newTestWeb(t, verifier)

	link, _, _ := b.Start("sess-1")
	id := tokenFromLink(t, link)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/"+id,
		strings.NewReader(`{"api_key":"bad"}`)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if b.LinkStatus(id) != token.StatusPending {
		t.Error("link must survive a rejected key")
	}
}

func TestSubmitValidation(t *testing.T) {
	mux, b, _ := newTestWeb(t, &fakeVerifier{})

	link, _, _ := b.Start("sess-1")
	id := tokenFromLink(t, link)

	for name, body := range map[string]string{
		"malformed": `{not json`,
		"empty key": `{"api_key":"  "}`,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/"+id,
			strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
	if b.LinkStatus(id) != token.StatusPending {
		t.Error("validation failures must not consume the link")
	}
}

type catalogError struct{}

func (catalogError) Error() string { return "upstream says no" }
