// Package storage defines the account store interface and its implementations.
package storage

import (
	"context"

	"wgwatch/internal/model"
)

// Storage is the narrow contract the poller consumes from the account
// store. Accounts are provisioned and deleted elsewhere; this service only
// lists them and merge-updates individual fields.
type Storage interface {
	// ListAccounts returns all accounts for the given marketplace.
	ListAccounts(ctx context.Context, website string) ([]model.Account, error)
	// UpdateAccount applies a partial update to one account record. Unset
	// patch fields are left untouched; the update is a single atomic write.
	UpdateAccount(ctx context.Context, id string, patch model.AccountPatch) error

	Close() error
}
