// Package reconcile implements incremental new-listing detection against a
// per-account watermark.
package reconcile

import (
	"sort"
	"time"

	"wgwatch/internal/model"
	"wgwatch/internal/wgclient"
)

// EntryTimeLayout is the marketplace's native timestamp format
// ("22.10.2025, 17:15:01").
const EntryTimeLayout = "02.01.2006, 15:04:05"

// ParseEntryTime parses a marketplace entry timestamp. The second return
// value is false when the string does not match the expected format; such
// offers are dropped from consideration entirely.
func ParseEntryTime(s string) (time.Time, bool) {
	t, err := time.Parse(EntryTimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Result is the outcome of reconciling one fetch against the prior state.
type Result struct {
	// Init is true on an account's first-ever cycle: nothing is emitted and
	// the watermark is initialized from the current fetch.
	Init bool
	// NewOffers is the cycle's newly detected listing set, most recent
	// first. Empty when nothing is strictly newer than the watermark.
	NewOffers []model.NewListing
	// LastLatest is the watermark after this cycle, in the marketplace's
	// native format. Empty only on a first cycle with an empty fetch.
	LastLatest string
	// Changed reports whether the watermark or the persisted listing set
	// moved and therefore must be written back.
	Changed bool
}

// Reconcile computes exactly the set of fetched offers whose entry timestamp
// is strictly greater than the account's watermark, and the advanced
// watermark. Offers with unparsable timestamps are neither emitted nor used
// to advance the watermark.
//
// The watermark, once set, never decreases: it only advances to the maximum
// entry timestamp among newly detected offers.
func Reconcile(offers []wgclient.Offer, prior *model.ListingState) Result {
	watermark, haveWatermark := time.Time{}, false
	if prior != nil && prior.LastLatest != "" {
		watermark, haveWatermark = ParseEntryTime(prior.LastLatest)
	}

	// First cycle: the fetched offers are already there, not new arrivals.
	// Initialize the watermark to the newest of them and emit nothing.
	if !haveWatermark {
		latest, ok := maxEntryTime(offers)
		res := Result{Init: true, Changed: true}
		if ok {
			res.LastLatest = latest.Format(EntryTimeLayout)
		}
		return res
	}

	type dated struct {
		listing model.NewListing
		at      time.Time
	}
	var fresh []dated
	newest := watermark
	for _, o := range offers {
		at, ok := ParseEntryTime(o.DateOfEntry)
		if !ok {
			continue
		}
		if !at.After(watermark) {
			continue
		}
		if at.After(newest) {
			newest = at
		}
		fresh = append(fresh, dated{
			listing: model.NewListing{
				OfferID:     o.OfferID,
				Title:       o.Title,
				UserID:      o.UserID,
				PublicName:  o.UserData.PublicName,
				DateOfEntry: o.DateOfEntry,
				URL:         wgclient.OfferURL(o.OfferID),
			},
			at: at,
		})
	}

	if len(fresh) == 0 {
		return Result{LastLatest: prior.LastLatest}
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].at.After(fresh[j].at)
	})
	listings := make([]model.NewListing, len(fresh))
	for i, d := range fresh {
		listings[i] = d.listing
	}

	return Result{
		NewOffers:  listings,
		LastLatest: newest.Format(EntryTimeLayout),
		Changed:    true,
	}
}

func maxEntryTime(offers []wgclient.Offer) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, o := range offers {
		at, ok := ParseEntryTime(o.DateOfEntry)
		if !ok {
			continue
		}
		if !found || at.After(latest) {
			latest = at
			found = true
		}
	}
	return latest, found
}
