// Package contact sends the configured message to owners of newly detected
// listings and maintains the per-account contacted-ads counter.
package contact

import (
	"context"
	"log/slog"

	"wgwatch/internal/model"
	"wgwatch/internal/storage"
)

// Outcome counts per-listing send results for one cycle.
type Outcome struct {
	Sent   int
	Failed int
}

// Dispatcher contacts new listings on behalf of an account.
type Dispatcher struct {
	store storage.Storage
	log   *slog.Logger
}

// NewDispatcher creates a Dispatcher persisting counters to the given store.
func NewDispatcher(store storage.Storage, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, log: log}
}

// Contacter sends one message to one offer's owner.
type Contacter interface {
	ContactOffer(ctx context.Context, offerID, message string) error
}

// Send delivers the account's contact message to every listing
// independently; one failed send never aborts the remaining ones. When at
// least one send succeeded, the account's cumulative contacted-ads counter
// is incremented by the success count in a single read-modify-write.
// Counter persistence failure is logged, not fatal: sends are best-effort,
// reported not guaranteed.
func (d *Dispatcher) Send(ctx context.Context, client Contacter, account *model.Account, listings []model.NewListing) Outcome {
	var out Outcome
	for _, l := range listings {
		d.log.Info("contacting offer",
			"email", account.Email, "offer_id", l.OfferID, "title", l.Title, "url", l.URL)

		if err := client.ContactOffer(ctx, l.OfferID, account.Message); err != nil {
			out.Failed++
			d.log.Error("contact offer", "email", account.Email, "offer_id", l.OfferID, "error", err)
			continue
		}
		out.Sent++
	}

	if out.Sent > 0 {
		cfg := account.Config
		cfg.ContactedAds += out.Sent
		if err := d.store.UpdateAccount(ctx, account.ID, model.AccountPatch{Config: &cfg}); err != nil {
			d.log.Error("update contacted-ads counter", "email", account.Email, "error", err)
		} else {
			account.Config = cfg
			d.log.Info("contacted-ads counter updated",
				"email", account.Email, "total", cfg.ContactedAds)
		}
	}

	d.log.Info("contact summary", "email", account.Email, "sent", out.Sent, "failed", out.Failed)
	return out
}
