// Package runner orchestrates the full per-account poll cycle and processes
// batches of accounts on a bounded worker pool.
package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wgwatch/internal/contact"
	"wgwatch/internal/model"
	"wgwatch/internal/reconcile"
	"wgwatch/internal/session"
	"wgwatch/internal/storage"
	"wgwatch/internal/wgclient"
)

// Notifier receives the newly detected listings of a successful cycle.
// Delivery is best-effort and never affects the cycle result.
type Notifier interface {
	NewListings(account *model.Account, listings []model.NewListing)
}

// Options configures a Runner.
type Options struct {
	// PollInterval is the per-account staleness interval; an account is
	// ready once this much time passed since its last update. Default 1m.
	PollInterval time.Duration
	// MaxConcurrent caps the worker pool for one batch. Default 10.
	MaxConcurrent int
	// ProxyBase, when set, is combined with an account's proxy port to
	// build that account's proxy URL.
	ProxyBase string
	// Notifier is optional.
	Notifier Notifier
	// NewClient overrides marketplace client construction (useful for
	// testing). Defaults to wgclient.New.
	NewClient func(proxyURL string) (*wgclient.Client, error)
}

// Runner runs poll cycles for accounts.
type Runner struct {
	store     storage.Storage
	sessions  *session.Manager
	contacts  *contact.Dispatcher
	notifier  Notifier
	stats     *Stats
	log       *slog.Logger
	interval  time.Duration
	maxProcs  int
	proxyBase string
	newClient func(proxyURL string) (*wgclient.Client, error)
}

// New creates a Runner over the given account store.
func New(store storage.Storage, log *slog.Logger, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.NewClient == nil {
		opts.NewClient = wgclient.New
	}
	return &Runner{
		store:     store,
		sessions:  session.NewManager(store, log),
		contacts:  contact.NewDispatcher(store, log),
		notifier:  opts.Notifier,
		stats:     NewStats(),
		log:       log,
		interval:  opts.PollInterval,
		maxProcs:  opts.MaxConcurrent,
		proxyBase: opts.ProxyBase,
		newClient: opts.NewClient,
	}
}

// Stats returns the process-lifetime aggregate.
func (r *Runner) Stats() *Stats {
	return r.stats
}

// PollInterval returns the configured per-account staleness interval.
func (r *Runner) PollInterval() time.Duration {
	return r.interval
}

// MaxConcurrent returns the worker pool cap.
func (r *Runner) MaxConcurrent() int {
	return r.maxProcs
}

// ReadyAccounts returns the accounts eligible for the next cycle: scraping
// enabled and not updated within the poll interval (or never updated).
// Readiness is computed once, synchronously, before a batch is dispatched.
func (r *Runner) ReadyAccounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := r.store.ListAccounts(ctx, model.Website)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var ready []model.Account
	for _, a := range accounts {
		if !a.Config.ScrapeEnabled {
			continue
		}
		if a.LastUpdatedAt != nil {
			since := now.Sub(*a.LastUpdatedAt)
			if since < r.interval {
				r.log.Debug("account not ready", "email", a.Email, "since_update", since.Round(time.Second))
				continue
			}
		}
		ready = append(ready, a)
	}
	return ready, nil
}

// Summary aggregates one batch's results.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
	NewOffers int
}

// RunBatch processes the given accounts concurrently on a bounded worker
// pool. Each account's pipeline runs to completion on one worker; results
// are aggregated as they arrive. A single account's failure never affects
// the others.
func (r *Runner) RunBatch(ctx context.Context, accounts []model.Account) Summary {
	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
		sem     = make(chan struct{}, r.maxProcs)
	)

	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(account model.Account) {
			defer wg.Done()
			defer func() { <-sem }()

			r.stats.AddRunning(1)
			ok, newCount := r.ProcessAccount(ctx, account)
			r.stats.AddRunning(-1)
			r.stats.Record(account.Email, ok, newCount)

			mu.Lock()
			summary.Processed++
			if ok {
				summary.Succeeded++
				summary.NewOffers += newCount
			} else {
				summary.Failed++
			}
			mu.Unlock()
		}(account)
	}
	wg.Wait()

	if summary.Processed > 0 {
		r.log.Info("batch complete",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"new_offers", summary.NewOffers)
	}
	return summary
}

// ProcessAccount runs one full cycle for one account: ensure session, fetch
// offers, reconcile against the watermark, persist, then auto-contact. Any
// component failure converts to a failed result here; nothing propagates.
func (r *Runner) ProcessAccount(ctx context.Context, account model.Account) (ok bool, newCount int) {
	log := r.log.With("email", account.Email)
	log.Info("running cycle", "city_id", account.Config.CityID)

	client, err := r.newClient(r.proxyURL(&account))
	if err != nil {
		log.Error("create client", "error", err)
		return false, 0
	}

	if err := r.sessions.EnsureValid(ctx, client, &account); err != nil {
		log.Error("establish session", "error", err)
		return false, 0
	}

	offers, err := client.SearchOffers(ctx, wgclient.SearchFilters{
		CityID:     account.Config.CityID,
		Categories: account.Config.Categories,
		RentTypes:  account.Config.RentTypes,
		MaxRent:    account.Config.MaxRent,
		MinSize:    account.Config.MinSize,
	})
	if err != nil {
		log.Error("fetch offers", "error", err)
		return false, 0
	}
	log.Info("fetched offers", "count", len(offers))

	res := reconcile.Reconcile(offers, account.Listings)
	now := time.Now().UTC()

	if res.Init {
		state := &model.ListingState{LastLatest: res.LastLatest, Offers: []model.NewListing{}}
		if err := r.store.UpdateAccount(ctx, account.ID, model.AccountPatch{
			Listings:      state,
			LastUpdatedAt: &now,
		}); err != nil {
			log.Error("persist initial watermark", "error", err)
			return false, 0
		}
		log.Info("initialized watermark", "last_latest", res.LastLatest)
		return true, 0
	}

	if !res.Changed {
		if err := r.store.UpdateAccount(ctx, account.ID, model.AccountPatch{LastUpdatedAt: &now}); err != nil {
			log.Error("persist last-updated timestamp", "error", err)
			return false, 0
		}
		log.Info("no new listings")
		return true, 0
	}

	// Persist the advanced watermark and the replaced listing set before
	// contacting anyone; if this write fails the watermark stays behind and
	// the same listings are re-detected next cycle.
	state := &model.ListingState{LastLatest: res.LastLatest, Offers: res.NewOffers}
	if err := r.store.UpdateAccount(ctx, account.ID, model.AccountPatch{
		Listings:      state,
		LastUpdatedAt: &now,
	}); err != nil {
		log.Error("persist new listings", "error", err)
		return false, 0
	}
	account.Listings = state
	log.Info("new listings detected", "count", len(res.NewOffers), "last_latest", res.LastLatest)

	if r.notifier != nil {
		r.notifier.NewListings(&account, res.NewOffers)
	}

	if account.AutoContactEnabled() {
		// One session check for the whole batch of sends; a session dying
		// mid-batch surfaces as per-listing failures.
		if err := r.sessions.EnsureValid(ctx, client, &account); err != nil {
			log.Error("session invalid before auto-contact, skipping", "error", err)
			return true, len(res.NewOffers)
		}
		r.contacts.Send(ctx, client, &account, res.NewOffers)
	} else {
		log.Debug("no contact message configured, skipping auto-contact")
	}

	return true, len(res.NewOffers)
}

// proxyURL builds the account's proxy URL from the configured base and the
// account's proxy port. Empty when either half is missing.
func (r *Runner) proxyURL(account *model.Account) string {
	port := account.Config.ProxyPort
	if port == "" {
		return ""
	}
	if r.proxyBase == "" {
		r.log.Warn("proxy port configured but no proxy base set, running without proxy",
			"email", account.Email)
		return ""
	}
	return r.proxyBase + port
}
