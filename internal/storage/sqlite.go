package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"wgwatch/internal/model"
	"wgwatch/migrations"
)

const timeLayout = time.RFC3339

// SQLite implements Storage backed by a local SQLite database. Used for
// single-host deployments without a Supabase project, and as the store in
// tests.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateAccount inserts a new account row. Not part of the Storage
// interface: account provisioning is external, this exists for local
// bootstrap tooling and tests.
func (s *SQLite) CreateAccount(ctx context.Context, a *model.Account) error {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	sess, err := marshalNullable(a.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	listings, err := marshalNullable(a.Listings)
	if err != nil {
		return fmt.Errorf("encode listing data: %w", err)
	}

	var lastUpdated *string
	if a.LastUpdatedAt != nil {
		v := a.LastUpdatedAt.UTC().Format(timeLayout)
		lastUpdated = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password, website, message, configuration, session_details, listing_data, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.Password, a.Website, a.Message, string(cfg), sess, listings, lastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount returns a single account by its id.
func (s *SQLite) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password, website, message, configuration, session_details, listing_data, last_updated_at
		 FROM accounts WHERE id = ?`, id,
	)
	return scanAccount(row)
}

// ListAccounts returns all accounts for the given marketplace.
func (s *SQLite) ListAccounts(ctx context.Context, website string) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, password, website, message, configuration, session_details, listing_data, last_updated_at
		 FROM accounts WHERE website = ? ORDER BY id`, website,
	)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccount merge-updates only the columns present in the patch, as a
// single UPDATE statement.
func (s *SQLite) UpdateAccount(ctx context.Context, id string, patch model.AccountPatch) error {
	var sets []string
	var args []any

	if patch.Session != nil {
		data, err := json.Marshal(patch.Session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		sets = append(sets, "session_details = ?")
		args = append(args, string(data))
	}
	if patch.Listings != nil {
		data, err := json.Marshal(patch.Listings)
		if err != nil {
			return fmt.Errorf("encode listing data: %w", err)
		}
		sets = append(sets, "listing_data = ?")
		args = append(args, string(data))
	}
	if patch.Config != nil {
		data, err := json.Marshal(patch.Config)
		if err != nil {
			return fmt.Errorf("encode configuration: %w", err)
		}
		sets = append(sets, "configuration = ?")
		args = append(args, string(data))
	}
	if patch.LastUpdatedAt != nil {
		sets = append(sets, "last_updated_at = ?")
		args = append(args, patch.LastUpdatedAt.UTC().Format(timeLayout))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update account %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update account %s: no such account", id)
	}
	return nil
}

func marshalNullable(v any) (*string, error) {
	switch t := v.(type) {
	case *model.Session:
		if t == nil {
			return nil, nil
		}
	case *model.ListingState:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAccount(row scannable) (*model.Account, error) {
	var a model.Account
	var cfg string
	var sess, listings, lastUpdated sql.NullString
	err := row.Scan(&a.ID, &a.Email, &a.Password, &a.Website, &a.Message, &cfg, &sess, &listings, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &a.Config); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if sess.Valid {
		a.Session = &model.Session{}
		if err := json.Unmarshal([]byte(sess.String), a.Session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
	}
	if listings.Valid {
		a.Listings = &model.ListingState{}
		if err := json.Unmarshal([]byte(listings.String), a.Listings); err != nil {
			return nil, fmt.Errorf("decode listing data: %w", err)
		}
	}
	if lastUpdated.Valid {
		t, err := time.Parse(timeLayout, lastUpdated.String)
		if err == nil {
			a.LastUpdatedAt = &t
		}
	}
	return &a, nil
}
