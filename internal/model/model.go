// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// Website identifies the marketplace the poller works against.
const Website = "wg-gesucht"

// Account represents one marketplace user identity the poller manages.
// Records are created and edited externally; this service only reads
// credentials and configuration and writes session state, listing state,
// the contacted-ads counter, and the last-updated timestamp.
type Account struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Password      string        `json:"password"`
	Website       string        `json:"website"`
	Message       string        `json:"message"`
	Config        SearchConfig  `json:"configuration"`
	Session       *Session      `json:"session_details"`
	Listings      *ListingState `json:"listing_data"`
	LastUpdatedAt *time.Time    `json:"last_updated_at"`
}

// AutoContactEnabled reports whether newly detected listings should be
// contacted automatically. Active iff a non-blank message is configured;
// a whitespace-only message would otherwise be sent verbatim.
func (a *Account) AutoContactEnabled() bool {
	return strings.TrimSpace(a.Message) != ""
}

// SearchConfig holds the per-account search filters and operational flags.
type SearchConfig struct {
	CityID        string `json:"city_id"`
	Categories    []int  `json:"categories,omitempty"`
	RentTypes     []int  `json:"rent_types,omitempty"`
	MaxRent       int    `json:"max_rent,omitempty"`
	MinSize       int    `json:"min_size,omitempty"`
	ProxyPort     string `json:"proxy_port,omitempty"`
	ScrapeEnabled bool   `json:"scrape_enabled"`
	ContactedAds  int    `json:"contacted_ads"`
}

// Session is the persisted marketplace session for an account. It is only
// ever replaced as a whole, never updated field by field.
type Session struct {
	UserID       string `json:"userId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	DevRefNo     string `json:"devRefNo"`
	CreatedAt    string `json:"session_created_at"`
}

// CreatedAtTime parses the session creation timestamp. The second return
// value is false when the timestamp is absent or unparsable.
func (s *Session) CreatedAtTime() (time.Time, bool) {
	if s == nil || s.CreatedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.CreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ListingState is the persisted watermark plus the most recent cycle's
// newly detected listings. The offer set is replaced wholesale each cycle,
// never appended to.
type ListingState struct {
	LastLatest string       `json:"last_latest"`
	Offers     []NewListing `json:"offers"`
}

// NewListing is the persisted subset of a fetched marketplace offer.
type NewListing struct {
	OfferID     string `json:"offer_id"`
	Title       string `json:"title"`
	UserID      string `json:"user_id"`
	PublicName  string `json:"public_name"`
	DateOfEntry string `json:"date_of_entry_details"`
	URL         string `json:"url"`
}

// AccountPatch is a partial update of an account record. Nil fields are
// left untouched by the store; set fields are merged atomically.
type AccountPatch struct {
	Session       *Session
	Listings      *ListingState
	Config        *SearchConfig
	LastUpdatedAt *time.Time
}
