package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/workforce-ai/compute/internal/domain"
)

// ─── Account Operations ─────────────────────────────────────────────────────

// Load implements domain.AccountStore. It returns nil, nil for an unknown
// identity. History is returned newest first.
func (db *DB) Load(ctx context.Context, identity string) (*domain.Account, error) {
	var (
		acct                 domain.Account
		tier                 sql.NullString
		purchasedAt, expires sql.NullString
		createdAt, updatedAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT identity, balance, lifetime_credits, lifetime_debits,
		       entitlement_tier, entitlement_purchased_at, entitlement_expires_at,
		       created_at, updated_at
		FROM accounts WHERE identity = ?
	`, identity).Scan(&acct.Identity, &acct.Balance, &acct.LifetimeCredits, &acct.LifetimeDebits,
		&tier, &purchasedAt, &expires, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	if acct.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if acct.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if tier.Valid && tier.String != "" {
		ent := &domain.Entitlement{Tier: tier.String}
		if purchasedAt.Valid {
			if ent.PurchasedAt, err = parseTime(purchasedAt.String); err != nil {
				return nil, fmt.Errorf("parse entitlement_purchased_at: %w", err)
			}
		}
		if ent.ExpiresAt, err = parseTimePtr(expires); err != nil {
			return nil, fmt.Errorf("parse entitlement_expires_at: %w", err)
		}
		acct.Entitlement = ent
	}

	acct.History, err = db.entries(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (db *DB) entries(ctx context.Context, identity string) ([]domain.LedgerEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT entry_id, kind, amount, subject, tier, price, metadata, balance_after, occurred_at
		FROM ledger_entries WHERE identity = ?
		ORDER BY seq DESC
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e          domain.LedgerEntry
			kind       string
			md         sql.NullString
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Amount, &e.Subject, &e.Tier, &e.Price, &md, &e.BalanceAfter, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = domain.EntryKind(kind)
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		if md.Valid && md.String != "" {
			if err := json.Unmarshal([]byte(md.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Save implements domain.AccountStore. The account row is upserted, new
// history entries are appended and rows that fell out of the account's
// history are deleted, all in one transaction.
func (db *DB) Save(ctx context.Context, acct domain.Account) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		tier        sql.NullString
		purchasedAt sql.NullString
		expires     sql.NullString
	)
	if ent := acct.Entitlement; ent != nil && ent.Tier != "" {
		tier = sql.NullString{String: ent.Tier, Valid: true}
		purchasedAt = sql.NullString{String: formatTime(ent.PurchasedAt), Valid: true}
		expires = formatTimePtr(ent.ExpiresAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (identity, balance, lifetime_credits, lifetime_debits,
			entitlement_tier, entitlement_purchased_at, entitlement_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			balance          = excluded.balance,
			lifetime_credits = excluded.lifetime_credits,
			lifetime_debits  = excluded.lifetime_debits,
			entitlement_tier = excluded.entitlement_tier,
			entitlement_purchased_at = excluded.entitlement_purchased_at,
			entitlement_expires_at   = excluded.entitlement_expires_at,
			updated_at       = excluded.updated_at
	`, acct.Identity, acct.Balance, acct.LifetimeCredits, acct.LifetimeDebits,
		tier, purchasedAt, expires, formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	var head string
	err = tx.QueryRowContext(ctx, `
		SELECT entry_id FROM ledger_entries WHERE identity = ?
		ORDER BY seq DESC LIMIT 1
	`, acct.Identity).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query history head: %w", err)
	}
	fresh := unsavedEntries(acct.History, head)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO ledger_entries
			(entry_id, identity, kind, amount, subject, tier, price, metadata, balance_after, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	// Oldest first so seq follows history order.
	for i := len(fresh) - 1; i >= 0; i-- {
		e := fresh[i]
		var md sql.NullString
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of %s: %w", e.ID, err)
			}
			md = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, acct.Identity, string(e.Kind), e.Amount, e.Subject, e.Tier,
			e.Price, md, e.BalanceAfter, formatTime(e.OccurredAt)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM ledger_entries
		WHERE identity = ? AND seq NOT IN (
			SELECT seq FROM ledger_entries WHERE identity = ?
			ORDER BY seq DESC LIMIT ?
		)
	`, acct.Identity, acct.Identity, len(acct.History))
	if err != nil {
		return fmt.Errorf("trim entries: %w", err)
	}

	return tx.Commit()
}

// unsavedEntries returns the entries of history (newest first) that precede
// head, the newest stored entry id. When head is empty or no longer in
// history, all of history is returned and duplicates are ignored on insert.
func unsavedEntries(history []domain.LedgerEntry, head string) []domain.LedgerEntry {
	if head == "" {
		return history
	}
	for i, e := range history {
		if e.ID == head {
			return history[:i]
		}
	}
	return history
}

// Identities returns every stored identity, sorted.
func (db *DB) Identities(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT identity FROM accounts ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
