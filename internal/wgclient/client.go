// Package wgclient implements the WG-Gesucht mobile-API client: session
// creation, token refresh, authenticated offer search, and conversation
// creation.
package wgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wgwatch/internal/model"
)

const (
	apiBase    = "https://www.wg-gesucht.de/api/"
	publicBase = "https://www.wg-gesucht.de"
	clientID   = "wg_mobile_app"
	appVersion = "1.28.0"
	userAgent  = "Mozilla/5.0 (Linux; Android 6.0; Google Build/MRA58K; wv) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 " +
		"Chrome/74.0.3729.186 Mobile Safari/537.36"
)

// Remote API caps for the numeric search filters. Larger values are
// clamped, not rejected.
const (
	maxRentCap = 9999
	minSizeCap = 999
)

// ErrTwoFactorRequired is returned when a login is answered with a
// two-factor challenge, which cannot be completed headlessly.
var ErrTwoFactorRequired = errors.New("two-factor verification required")

// ErrFetchFailed is returned when an offer search yields no usable response.
var ErrFetchFailed = errors.New("offer fetch failed")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an API client bound to at most one account session. A client is
// constructed fresh for each account cycle and never shared across accounts.
type Client struct {
	http HTTPClient

	userID       string
	accessToken  string
	refreshToken string
	devRefNo     string
}

// New creates a Client. When proxyURL is non-empty all requests are
// tunneled through that proxy.
func New(proxyURL string) (*Client, error) {
	hc := &http.Client{Timeout: 30 * time.Second}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		hc.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
	return &Client{http: hc}, nil
}

// NewWithHTTP creates a Client with a custom HTTP client (useful for testing).
func NewWithHTTP(hc HTTPClient) *Client {
	return &Client{http: hc}
}

// Restore loads a persisted session into the client.
func (c *Client) Restore(s *model.Session) {
	if s == nil {
		return
	}
	c.userID = s.UserID
	c.accessToken = s.AccessToken
	c.refreshToken = s.RefreshToken
	c.devRefNo = s.DevRefNo
}

// Snapshot exports the client's session as a whole, stamped with a fresh
// creation timestamp for the next age computation.
func (c *Client) Snapshot() *model.Session {
	return &model.Session{
		UserID:       c.userID,
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		DevRefNo:     c.devRefNo,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

type sessionDetail struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	DevRefNo     string `json:"dev_ref_no"`
}

type sessionResponse struct {
	Status int           `json:"status"`
	Detail sessionDetail `json:"detail"`
}

// Login creates a fresh session with email and password. A two-factor
// challenge from the API surfaces as ErrTwoFactorRequired.
func (c *Client) Login(ctx context.Context, email, password string) error {
	payload := map[string]string{
		"login_email_username": email,
		"login_password":       password,
		"client_id":            clientID,
		"display_language":     "de",
	}

	resp, err := c.do(ctx, http.MethodPost, "sessions", nil, payload)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if sr.Status == http.StatusAccepted {
		return ErrTwoFactorRequired
	}
	c.setSession(sr.Detail)
	return nil
}

// VerifyTwoFactor completes a challenged login with the verification code.
// Used by external bootstrap tooling; the poller itself never calls it.
func (c *Client) VerifyTwoFactor(ctx context.Context, token, code string) error {
	payload := map[string]string{
		"token":             token,
		"verification_code": code,
	}

	resp, err := c.do(ctx, http.MethodPost, "sessions/auth-verifications", nil, payload)
	if err != nil {
		return fmt.Errorf("verify two-factor: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode verification response: %w", err)
	}
	c.setSession(sr.Detail)
	return nil
}

// RefreshSession exchanges the refresh token for a new token set. The user
// id is kept; access token, refresh token, and device reference are replaced.
func (c *Client) RefreshSession(ctx context.Context) error {
	if c.userID == "" || c.refreshToken == "" || c.devRefNo == "" {
		return errors.New("missing session data, cannot refresh token")
	}

	payload := map[string]string{
		"grant_type":       "refresh_token",
		"access_token":     c.accessToken,
		"refresh_token":    c.refreshToken,
		"client_id":        clientID,
		"dev_ref_no":       c.devRefNo,
		"display_language": "de",
	}

	resp, err := c.do(ctx, http.MethodPut, "sessions/users/"+c.userID, nil, payload)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	c.accessToken = sr.Detail.AccessToken
	c.refreshToken = sr.Detail.RefreshToken
	c.devRefNo = sr.Detail.DevRefNo
	return nil
}

// MyProfile fetches the logged-in user's profile. Used as a lightweight
// probe of session validity.
func (c *Client) MyProfile(ctx context.Context) error {
	if c.userID == "" {
		return errors.New("not logged in")
	}
	resp, err := c.do(ctx, http.MethodGet, "public/users/"+c.userID, nil, nil)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// SearchFilters are the account-specific parameters of an offer search.
type SearchFilters struct {
	CityID     string
	Categories []int
	RentTypes  []int
	MaxRent    int // euros, 0 = no cap
	MinSize    int // square meters, 0 = no floor
	Page       int // 1-based, 0 = first page
}

// Offer is a marketplace offer as returned by the search endpoint.
type Offer struct {
	OfferID     string `json:"offer_id"`
	Title       string `json:"offer_title"`
	UserID      string `json:"user_id"`
	DateOfEntry string `json:"date_of_entry_details"`
	UserData    struct {
		PublicName string `json:"public_name"`
	} `json:"user_data"`
}

type offersResponse struct {
	Embedded struct {
		Offers []Offer `json:"offers"`
	} `json:"_embedded"`
}

// SearchOffers runs the authenticated offer search with already-contacted
// ads excluded server-side. Transport failures and non-2xx responses are
// both reported as ErrFetchFailed.
func (c *Client) SearchOffers(ctx context.Context, f SearchFilters) ([]Offer, error) {
	categories := f.Categories
	if len(categories) == 0 {
		categories = []int{0, 1, 2, 3}
	}
	rentTypes := f.RentTypes
	if len(rentTypes) == 0 {
		rentTypes = []int{1, 2}
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	params := url.Values{
		"ad_type":    {"0"},
		"categories": {joinInts(categories)},
		"rent_types": {joinInts(rentTypes)},
		"city_id":    {f.CityID},
		"noDeact":    {"1"},
		"img":        {"1"},
		"limit":      {"50"},
		"page":       {strconv.Itoa(page)},
		"exContAds":  {"1"},
	}
	if f.MaxRent > 0 {
		params.Set("rMax", strconv.Itoa(min(f.MaxRent, maxRentCap)))
	}
	if f.MinSize > 0 {
		params.Set("sMin", strconv.Itoa(min(f.MinSize, minSizeCap)))
	}

	resp, err := c.do(ctx, http.MethodGet, "asset/offers/", params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var or offersResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("%w: decode offers: %w", ErrFetchFailed, err)
	}
	return or.Embedded.Offers, nil
}

// ContactOffer sends a text message to the owner of the given offer.
func (c *Client) ContactOffer(ctx context.Context, offerID, message string) error {
	adID, err := strconv.Atoi(offerID)
	if err != nil {
		return fmt.Errorf("invalid offer id %q: %w", offerID, err)
	}

	payload := map[string]any{
		"user_id": c.userID,
		"ad_type": 0,
		"ad_id":   adID,
		"messages": []map[string]string{
			{"content": message, "message_type": "text"},
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "conversations", nil, payload)
	if err != nil {
		return fmt.Errorf("contact offer %s: %w", offerID, err)
	}
	_ = resp.Body.Close()
	return nil
}

// OfferURL returns the public listing page for an offer id.
func OfferURL(offerID string) string {
	return publicBase + "/" + offerID + ".html"
}

// do performs one API request. A non-2xx status is reported as an error;
// the caller receives the response only on success.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload any) (*http.Response, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	u := apiBase + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-App-Version", appVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Id", clientID)
	if c.accessToken != "" {
		req.Header.Set("X-Authorization", "Bearer "+c.accessToken)
		req.Header.Set("X-User-Id", c.userID)
		req.Header.Set("X-Dev-Ref-No", c.devRefNo)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, endpoint, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) setSession(d sessionDetail) {
	c.accessToken = d.AccessToken
	c.refreshToken = d.RefreshToken
	c.userID = d.UserID
	c.devRefNo = d.DevRefNo
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
