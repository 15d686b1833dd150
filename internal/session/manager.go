// Package session implements the per-account session lifecycle: loading the
// persisted session, proactive token refresh, re-login fallback, and the
// two-factor lockout policy.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wgwatch/internal/model"
	"wgwatch/internal/storage"
	"wgwatch/internal/wgclient"
)

// ErrNoSession is returned when an account carries no persisted session.
// Session bootstrap is an external responsibility; this service never
// performs an initial login.
var ErrNoSession = errors.New("no session present, must be created externally")

// ErrReauthFailed is returned when both token refresh and full re-login
// failed. Transient: the next scheduled cycle retries.
var ErrReauthFailed = errors.New("re-authentication failed")

// Marketplace sessions are valid for roughly 60 minutes; past this age a
// session is refreshed proactively instead of relied upon until failure.
const freshnessThreshold = 40 * time.Minute

// Manager establishes valid marketplace sessions for accounts.
type Manager struct {
	store storage.Storage
	log   *slog.Logger
}

// NewManager creates a Manager persisting session state to the given store.
func NewManager(store storage.Storage, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// EnsureValid leaves the client in a state where authenticated calls
// succeed, or reports definitive failure.
//
// Every successful refresh or re-login persists the whole replacement
// session as one atomic update, stamped with a fresh creation timestamp.
// A two-factor challenge during auto re-login durably disables scraping
// for the account and surfaces as wgclient.ErrTwoFactorRequired.
func (m *Manager) EnsureValid(ctx context.Context, client *wgclient.Client, account *model.Account) error {
	if account.Session == nil {
		m.log.Warn("no session found, must be created externally", "email", account.Email)
		return ErrNoSession
	}

	client.Restore(account.Session)

	created, ok := account.Session.CreatedAtTime()
	if ok {
		age := time.Since(created)
		m.log.Debug("session age", "email", account.Email, "age", age.Round(time.Second))

		if age <= freshnessThreshold {
			return nil
		}

		m.log.Info("session past freshness threshold, refreshing", "email", account.Email)
		if err := client.RefreshSession(ctx); err != nil {
			m.log.Warn("token refresh failed, attempting re-login", "email", account.Email, "error", err)
			if err := m.relogin(ctx, client, account); err != nil {
				return err
			}
		}
		return m.persistSession(ctx, client, account)
	}

	// Unknown session age: validate optimistically with a profile probe
	// before falling back to the refresh / re-login chain.
	m.log.Debug("session age unknown, validating", "email", account.Email)
	if err := client.MyProfile(ctx); err == nil {
		return nil
	}

	m.log.Warn("session invalid, attempting token refresh", "email", account.Email)
	if err := client.RefreshSession(ctx); err == nil {
		return m.persistSession(ctx, client, account)
	}

	m.log.Warn("token refresh failed, re-logging in", "email", account.Email)
	if err := m.relogin(ctx, client, account); err != nil {
		return err
	}
	return m.persistSession(ctx, client, account)
}

// relogin performs a full credential login. A two-factor challenge cannot
// be completed headlessly: scraping is disabled for the account until a
// human re-authenticates externally, and no further login is attempted.
func (m *Manager) relogin(ctx context.Context, client *wgclient.Client, account *model.Account) error {
	err := client.Login(ctx, account.Email, account.Password)
	if err == nil {
		return nil
	}

	if errors.Is(err, wgclient.ErrTwoFactorRequired) {
		m.log.Error("two-factor required during auto re-login, disabling account", "email", account.Email)
		cfg := account.Config
		cfg.ScrapeEnabled = false
		if perr := m.store.UpdateAccount(ctx, account.ID, model.AccountPatch{Config: &cfg}); perr != nil {
			m.log.Error("disable scraping", "email", account.Email, "error", perr)
		}
		account.Config.ScrapeEnabled = false
		return err
	}

	return fmt.Errorf("%w: %w", ErrReauthFailed, err)
}

func (m *Manager) persistSession(ctx context.Context, client *wgclient.Client, account *model.Account) error {
	snap := client.Snapshot()
	if err := m.store.UpdateAccount(ctx, account.ID, model.AccountPatch{Session: snap}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	account.Session = snap
	m.log.Info("session updated", "email", account.Email)
	return nil
}
