package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wgwatch/internal/model"
	"wgwatch/internal/storage"
	"wgwatch/internal/wgclient"
)

// routeTransport answers requests by method+path and records what was called.
type routeTransport struct {
	mu     sync.Mutex
	routes map[string]string
	calls  []string
}

func newRouteTransport() *routeTransport {
	return &routeTransport{routes: map[string]string{}}
}

func (rt *routeTransport) on(method, path, body string) {
	rt.routes[method+" "+path] = body
}

func (rt *routeTransport) Do(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	key := req.Method + " " + req.URL.Path
	rt.calls = append(rt.calls, key)
	body, ok := rt.routes[key]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(bytes.NewBufferString("{}"))}, nil
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func (rt *routeTransport) count(key string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for _, c := range rt.calls {
		if c == key {
			n++
		}
	}
	return n
}

// recordingNotifier captures new-listing notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

type notification struct {
	Email    string
	Listings []model.NewListing
}

func (n *recordingNotifier) NewListings(account *model.Account, listings []model.NewListing) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{Email: account.Email, Listings: listings})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func freshSession() *model.Session {
	return &model.Session{
		UserID:       "u-1",
		AccessToken:  "at",
		RefreshToken: "rt",
		DevRefNo:     "dev",
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

func seedAccount(t *testing.T, store *storage.SQLite, a *model.Account) {
	t.Helper()
	if err := store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func baseAccount(id string) *model.Account {
	return &model.Account{
		ID:       id,
		Email:    id + "@example.com",
		Password: "secret",
		Website:  model.Website,
		Config:   model.SearchConfig{CityID: "8", ScrapeEnabled: true},
		Session:  freshSession(),
	}
}

func offersBody(offers ...string) string {
	return fmt.Sprintf(`{"_embedded":{"offers":[%s]}}`, strings.Join(offers, ","))
}

func offerJSON(id, title, entry string) string {
	return fmt.Sprintf(
		`{"offer_id":%q,"offer_title":%q,"user_id":"owner-1","date_of_entry_details":%q,"user_data":{"public_name":"Anna"}}`,
		id, title, entry)
}

func newTestRunner(store *storage.SQLite, rt *routeTransport, notifier Notifier) *Runner {
	return New(store, testLogger(), Options{
		Notifier: notifier,
		NewClient: func(string) (*wgclient.Client, error) {
			return wgclient.NewWithHTTP(rt), nil
		},
	})
}

func TestReadyAccounts(t *testing.T) {
	store := newTestStore(t)

	disabled := baseAccount("acc-disabled")
	disabled.Config.ScrapeEnabled = false
	seedAccount(t, store, disabled)

	recent := baseAccount("acc-recent")
	ts := time.Now().UTC().Add(-10 * time.Second)
	recent.LastUpdatedAt = &ts
	seedAccount(t, store, recent)

	stale := baseAccount("acc-stale")
	old := time.Now().UTC().Add(-5 * time.Minute)
	stale.LastUpdatedAt = &old
	seedAccount(t, store, stale)

	seedAccount(t, store, baseAccount("acc-never"))

	r := newTestRunner(store, newRouteTransport(), nil)
	ready, err := r.ReadyAccounts(context.Background())
	if err != nil {
		t.Fatalf("ready accounts: %v", err)
	}

	var ids []string
	for _, a := range ready {
		ids = append(ids, a.ID)
	}
	if diff := cmp.Diff([]string{"acc-never", "acc-stale"}, ids); diff != "" {
		t.Errorf("ready set mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessAccountFirstCycleInitializesWatermark(t *testing.T) {
	store := newTestStore(t)
	seedAccount(t, store, baseAccount("acc-1"))

	rt := newRouteTransport()
	rt.on("GET", "/api/asset/offers/", offersBody(
		offerJSON("101", "Old room", "19.10.2025, 09:00:00"),
		offerJSON("102", "Newer room", "20.10.2025, 10:00:00"),
	))
	notifier := &recordingNotifier{}
	r := newTestRunner(store, rt, notifier)

	ok, newCount := r.ProcessAccount(context.Background(), *mustGet(t, store, "acc-1"))
	if !ok || newCount != 0 {
		t.Fatalf("first cycle = (%v, %d), want (true, 0)", ok, newCount)
	}

	got := mustGet(t, store, "acc-1")
	if got.Listings == nil || got.Listings.LastLatest != "20.10.2025, 10:00:00" {
		t.Errorf("watermark = %+v, want 20.10.2025, 10:00:00", got.Listings)
	}
	if len(got.Listings.Offers) != 0 {
		t.Errorf("first cycle must emit no listings, got %+v", got.Listings.Offers)
	}
	if got.LastUpdatedAt == nil {
		t.Error("last_updated_at not stamped")
	}
	if len(notifier.calls) != 0 {
		t.Errorf("no notification expected on first cycle, got %+v", notifier.calls)
	}
}

func TestProcessAccountReplacesListingsWholesale(t *testing.T) {
	store := newTestStore(t)
	acc := baseAccount("acc-1")
	acc.Listings = &model.ListingState{
		LastLatest: "20.10.2025, 10:00:00",
		Offers: []model.NewListing{
			{OfferID: "55", Title: "Previously detected"},
		},
	}
	seedAccount(t, store, acc)

	rt := newRouteTransport()
	rt.on("GET", "/api/asset/offers/", offersBody(
		offerJSON("101", "At watermark", "20.10.2025, 10:00:00"),
		offerJSON("102", "Newer room", "20.10.2025, 10:05:00"),
		offerJSON("103", "Older room", "20.10.2025, 09:55:00"),
	))
	notifier := &recordingNotifier{}
	r := newTestRunner(store, rt, notifier)

	ok, newCount := r.ProcessAccount(context.Background(), *mustGet(t, store, "acc-1"))
	if !ok || newCount != 1 {
		t.Fatalf("cycle = (%v, %d), want (true, 1)", ok, newCount)
	}

	got := mustGet(t, store, "acc-1")
	wantListings := &model.ListingState{
		LastLatest: "20.10.2025, 10:05:00",
		Offers: []model.NewListing{
			{
				OfferID:     "102",
				Title:       "Newer room",
				UserID:      "owner-1",
				PublicName:  "Anna",
				DateOfEntry: "20.10.2025, 10:05:00",
				URL:         "https://www.wg-gesucht.de/102.html",
			},
		},
	}
	if diff := cmp.Diff(wantListings, got.Listings); diff != "" {
		t.Errorf("persisted listings mismatch (-want +got):\n%s", diff)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
	if diff := cmp.Diff(wantListings.Offers, notifier.calls[0].Listings); diff != "" {
		t.Errorf("notified listings mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessAccountNoNewListings(t *testing.T) {
	store := newTestStore(t)
	acc := baseAccount("acc-1")
	acc.Listings = &model.ListingState{
		LastLatest: "20.10.2025, 10:05:00",
		Offers:     []model.NewListing{{OfferID: "102", Title: "Kept"}},
	}
	old := time.Now().UTC().Add(-time.Hour)
	acc.LastUpdatedAt = &old
	seedAccount(t, store, acc)

	rt := newRouteTransport()
	rt.on("GET", "/api/asset/offers/", offersBody(
		offerJSON("102", "Newer room", "20.10.2025, 10:05:00"),
	))
	r := newTestRunner(store, rt, nil)

	ok, newCount := r.ProcessAccount(context.Background(), *mustGet(t, store, "acc-1"))
	if !ok || newCount != 0 {
		t.Fatalf("cycle = (%v, %d), want (true, 0)", ok, newCount)
	}

	got := mustGet(t, store, "acc-1")
	if got.Listings.LastLatest != "20.10.2025, 10:05:00" {
		t.Errorf("watermark moved to %s", got.Listings.LastLatest)
	}
	if len(got.Listings.Offers) != 1 || got.Listings.Offers[0].OfferID != "102" {
		t.Errorf("listing set touched: %+v", got.Listings.Offers)
	}
	if got.LastUpdatedAt == nil || !got.LastUpdatedAt.After(old) {
		t.Errorf("last_updated_at not advanced: %v", got.LastUpdatedAt)
	}
}

func TestProcessAccountAutoContacts(t *testing.T) {
	store := newTestStore(t)
	acc := baseAccount("acc-1")
	acc.Message = "Hi, is the room still available?"
	acc.Config.ContactedAds = 2
	acc.Listings = &model.ListingState{LastLatest: "20.10.2025, 10:00:00"}
	seedAccount(t, store, acc)

	rt := newRouteTransport()
	rt.on("GET", "/api/asset/offers/", offersBody(
		offerJSON("102", "Newer room", "20.10.2025, 10:05:00"),
		offerJSON("103", "Another room", "20.10.2025, 10:06:00"),
	))
	rt.on("POST", "/api/conversations", "{}")
	r := newTestRunner(store, rt, nil)

	ok, newCount := r.ProcessAccount(context.Background(), *mustGet(t, store, "acc-1"))
	if !ok || newCount != 2 {
		t.Fatalf("cycle = (%v, %d), want (true, 2)", ok, newCount)
	}

	if n := rt.count("POST /api/conversations"); n != 2 {
		t.Errorf("contact requests = %d, want 2", n)
	}
	got := mustGet(t, store, "acc-1")
	if got.Config.ContactedAds != 4 {
		t.Errorf("contacted-ads counter = %d, want 4", got.Config.ContactedAds)
	}
}

func TestProcessAccountNoSessionFails(t *testing.T) {
	store := newTestStore(t)
	acc := baseAccount("acc-1")
	acc.Session = nil
	seedAccount(t, store, acc)

	rt := newRouteTransport()
	r := newTestRunner(store, rt, nil)

	ok, newCount := r.ProcessAccount(context.Background(), *mustGet(t, store, "acc-1"))
	if ok || newCount != 0 {
		t.Fatalf("cycle = (%v, %d), want (false, 0)", ok, newCount)
	}
	if len(rt.calls) != 0 {
		t.Errorf("no API calls expected without a session, got %v", rt.calls)
	}
}

func TestProcessAccountFetchFailure(t *testing.T) {
	store := newTestStore(t)
	seedAccount(t, store, baseAccount("acc-1"))

	rt := newRouteTransport() // no offers route registered: search gets a 404
	r := newTestRunner(store, rt, nil)

	ok, _ := r.ProcessAccount(context.Background(), *mustGet(t, store, "acc-1"))
	if ok {
		t.Fatal("cycle must fail when the offer fetch fails")
	}
	if got := mustGet(t, store, "acc-1"); got.LastUpdatedAt != nil {
		t.Errorf("failed cycle must not stamp last_updated_at, got %v", got.LastUpdatedAt)
	}
}

func TestRunBatchAggregatesAndRecordsStats(t *testing.T) {
	store := newTestStore(t)
	seedAccount(t, store, baseAccount("acc-ok"))
	broken := baseAccount("acc-broken")
	broken.Session = nil
	seedAccount(t, store, broken)

	rt := newRouteTransport()
	rt.on("GET", "/api/asset/offers/", offersBody(
		offerJSON("101", "Room", "20.10.2025, 10:00:00"),
	))
	r := newTestRunner(store, rt, nil)

	accounts, err := store.ListAccounts(context.Background(), model.Website)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}

	summary := r.RunBatch(context.Background(), accounts)
	want := Summary{Processed: 2, Succeeded: 1, Failed: 1}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	snap := r.Stats().Snapshot()
	if snap.TotalRuns != 2 || snap.SuccessfulRuns != 1 || snap.FailedRuns != 1 {
		t.Errorf("stats = %d/%d/%d, want 2/1/1",
			snap.TotalRuns, snap.SuccessfulRuns, snap.FailedRuns)
	}
	if snap.CurrentlyRunning != 0 {
		t.Errorf("currently running = %d after batch", snap.CurrentlyRunning)
	}
	if len(snap.AccountsProcessed) != 2 {
		t.Errorf("history length = %d, want 2", len(snap.AccountsProcessed))
	}
}

func TestRunBatchEmpty(t *testing.T) {
	r := newTestRunner(newTestStore(t), newRouteTransport(), nil)
	if got := r.RunBatch(context.Background(), nil); got != (Summary{}) {
		t.Errorf("empty batch summary = %+v", got)
	}
}

func mustGet(t *testing.T, store *storage.SQLite, id string) *model.Account {
	t.Helper()
	a, err := store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return a
}
