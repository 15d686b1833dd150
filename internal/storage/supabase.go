package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wgwatch/internal/model"
)

// Supabase implements Storage against a Supabase project's PostgREST
// endpoint. The accounts table is shared with the provisioning frontend;
// this service reads whole rows and patches individual columns.
type Supabase struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewSupabase creates a Supabase store for the given project URL and
// service-role key.
func NewSupabase(baseURL, serviceKey string) *Supabase {
	return &Supabase{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Close implements Storage. The underlying HTTP client holds no resources
// that need explicit release.
func (s *Supabase) Close() error { return nil }

// ListAccounts returns all account rows for the given marketplace.
func (s *Supabase) ListAccounts(ctx context.Context, website string) ([]model.Account, error) {
	q := url.Values{
		"website": {"eq." + website},
		"select":  {"*"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/rest/v1/accounts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("list accounts: status %d: %s", resp.StatusCode, body)
	}

	var accounts []model.Account
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccount merge-updates only the columns present in the patch.
func (s *Supabase) UpdateAccount(ctx context.Context, id string, patch model.AccountPatch) error {
	fields := patchFields(patch)
	if len(fields) == 0 {
		return nil
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	q := url.Values{"id": {"eq." + id}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		s.baseURL+"/rest/v1/accounts?"+q.Encode(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("update account %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("update account %s: status %d: %s", id, resp.StatusCode, body)
	}
	return nil
}

func (s *Supabase) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")
}

// patchFields maps the set patch fields to their column names.
func patchFields(patch model.AccountPatch) map[string]any {
	fields := make(map[string]any)
	if patch.Session != nil {
		fields["session_details"] = patch.Session
	}
	if patch.Listings != nil {
		fields["listing_data"] = patch.Listings
	}
	if patch.Config != nil {
		fields["configuration"] = patch.Config
	}
	if patch.LastUpdatedAt != nil {
		fields["last_updated_at"] = patch.LastUpdatedAt.UTC().Format(time.RFC3339)
	}
	return fields
}
