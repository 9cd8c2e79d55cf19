package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hireloop/courier/internal/models"
)

type fakeSendStore struct {
	sends   map[string]*models.CampaignSend
	opened  map[string]int
	clicked map[string]int
	err     error
}

func newFakeSendStore() *fakeSendStore {
	return &fakeSendStore{
		sends:   make(map[string]*models.CampaignSend),
		opened:  make(map[string]int),
		clicked: make(map[string]int),
	}
}

func (f *fakeSendStore) GetByID(_ context.Context, id string) (*models.CampaignSend, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sends[id], nil
}

func (f *fakeSendStore) MarkOpened(_ context.Context, sendID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.sends[sendID]; !ok {
		return false, nil
	}
	f.opened[sendID]++
	return f.opened[sendID] == 1, nil
}

func (f *fakeSendStore) MarkClicked(_ context.Context, sendID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.sends[sendID]; !ok {
		return false, nil
	}
	f.clicked[sendID]++
	return f.clicked[sendID] == 1, nil
}

type fakeSuppressor struct {
	added []string
	err   error
}

func (f *fakeSuppressor) Add(_ context.Context, address, _ string, _ *time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, address)
	return nil
}

func testHandler(store *fakeSendStore, sup *fakeSuppressor) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, sup, "https://app.example.com", logger)
	// Synchronous dispatch keeps assertions deterministic
	h.dispatch = func(fn func(ctx context.Context)) { fn(context.Background()) }
	return h
}

func TestHandleOpenServesPixel(t *testing.T) {
	store := newFakeSendStore()
	store.sends["s1"] = &models.CampaignSend{ID: "s1"}
	h := testHandler(store, &fakeSuppressor{})

	req := httptest.NewRequest(http.MethodGet, "/t/open?sid=s1", nil)
	rec := httptest.NewRecorder()
	h.HandleOpen(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Content-Type = %q, want image/gif", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if len(rec.Body.Bytes()) != len(pixelGIF) {
		t.Errorf("body length = %d, want %d", len(rec.Body.Bytes()), len(pixelGIF))
	}
	if store.opened["s1"] != 1 {
		t.Errorf("opened count = %d, want 1", store.opened["s1"])
	}
}

func TestHandleOpenIdempotent(t *testing.T) {
	store := newFakeSendStore()
	store.sends["s1"] = &models.CampaignSend{ID: "s1"}
	h := testHandler(store, &fakeSuppressor{})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/t/open?sid=s1", nil)
		rec := httptest.NewRecorder()
		h.HandleOpen(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, want 200", i+1, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
			t.Fatalf("call %d: Content-Type = %q", i+1, ct)
		}
	}
	if store.opened["s1"] != 2 {
		t.Errorf("MarkOpened calls = %d, want 2 (store enforces first-event-wins)", store.opened["s1"])
	}
}

func TestHandleOpenStoreErrorStillServesPixel(t *testing.T) {
	store := newFakeSendStore()
	store.err = errors.New("db down")
	h := testHandler(store, &fakeSuppressor{})

	req := httptest.NewRequest(http.MethodGet, "/t/open?sid=s1", nil)
	rec := httptest.NewRecorder()
	h.HandleOpen(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite store error", rec.Code)
	}
}

func TestHandleOpenMissingSid(t *testing.T) {
	h := testHandler(newFakeSendStore(), &fakeSuppressor{})

	req := httptest.NewRequest(http.MethodGet, "/t/open", nil)
	rec := httptest.NewRecorder()
	h.HandleOpen(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandleClickRedirects(t *testing.T) {
	store := newFakeSendStore()
	store.sends["s1"] = &models.CampaignSend{ID: "s1"}
	h := testHandler(store, &fakeSuppressor{})

	target := "https://jobs.acme.test/role/42"
	req := httptest.NewRequest(http.MethodGet, "/t/click?sid=s1&url="+url.QueryEscape(target), nil)
	rec := httptest.NewRecorder()
	h.HandleClick(rec, req)

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != target {
		t.Errorf("Location = %q, want %q", loc, target)
	}
	if store.clicked["s1"] != 1 {
		t.Errorf("clicked count = %d, want 1", store.clicked["s1"])
	}
}

func TestHandleClickUnknownSidStillRedirects(t *testing.T) {
	h := testHandler(newFakeSendStore(), &fakeSuppressor{})

	target := "https://jobs.acme.test/role/42"
	req := httptest.NewRequest(http.MethodGet, "/t/click?sid=nope&url="+url.QueryEscape(target), nil)
	rec := httptest.NewRecorder()
	h.HandleClick(rec, req)

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != target {
		t.Errorf("Location = %q, want %q", loc, target)
	}
}

func TestHandleClickMissingURLUsesDefault(t *testing.T) {
	h := testHandler(newFakeSendStore(), &fakeSuppressor{})

	req := httptest.NewRequest(http.MethodGet, "/t/click?sid=s1", nil)
	rec := httptest.NewRecorder()
	h.HandleClick(rec, req)

	if loc := rec.Header().Get("Location"); loc != "https://app.example.com" {
		t.Errorf("Location = %q, want default redirect", loc)
	}
}

func TestHandleClickRejectsNonHTTPScheme(t *testing.T) {
	h := testHandler(newFakeSendStore(), &fakeSuppressor{})

	req := httptest.NewRequest(http.MethodGet, "/t/click?sid=s1&url="+url.QueryEscape("javascript:alert(1)"), nil)
	rec := httptest.NewRecorder()
	h.HandleClick(rec, req)

	if loc := rec.Header().Get("Location"); loc != "https://app.example.com" {
		t.Errorf("Location = %q, want default redirect for unsafe scheme", loc)
	}
}

func TestHandleUnsubscribe(t *testing.T) {
	store := newFakeSendStore()
	store.sends["s1"] = &models.CampaignSend{ID: "s1", Recipient: "jane@example.com"}
	sup := &fakeSuppressor{}
	h := testHandler(store, sup)

	req := httptest.NewRequest(http.MethodGet, "/t/unsubscribe?sid=s1", nil)
	rec := httptest.NewRecorder()
	h.HandleUnsubscribe(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(sup.added) != 1 || sup.added[0] != "jane@example.com" {
		t.Errorf("suppressed = %v, want [jane@example.com]", sup.added)
	}
}

func TestHandleUnsubscribeOneClickPost(t *testing.T) {
	store := newFakeSendStore()
	store.sends["s1"] = &models.CampaignSend{ID: "s1", Recipient: "jane@example.com"}
	sup := &fakeSuppressor{}
	h := testHandler(store, sup)

	req := httptest.NewRequest(http.MethodPost, "/t/unsubscribe?sid=s1", nil)
	rec := httptest.NewRecorder()
	h.HandleUnsubscribe(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(sup.added) != 1 {
		t.Errorf("suppressed = %v, want one entry", sup.added)
	}
}
