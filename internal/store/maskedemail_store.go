package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/tmail/internal/model"
)

const maskedEmailColumns = `id, email, state, for_domain, description, url,
	created_by, created_at, created_at_raw, last_message_at, fetched_at`

const upsertMaskedEmailSQL = `
	INSERT OR REPLACE INTO masked_emails (
		id, email, state, for_domain, description, url,
		created_by, created_at, created_at_raw, last_message_at, fetched_at
	) VALUES (
		?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?
	)`

// ReplaceMaskedEmails swaps the cached snapshot for emails in a single
// transaction.
func (s *SQLiteStore) ReplaceMaskedEmails(
	ctx context.Context,
	emails []model.MaskedEmail,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM masked_emails"); err != nil {
		return fmt.Errorf("clearing masked emails: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, upsertMaskedEmailSQL)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, me := range emails {
		if err := execUpsert(ctx, stmt, me); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertMaskedEmail inserts or replaces a single cached masked email.
func (s *SQLiteStore) UpsertMaskedEmail(ctx context.Context, me model.MaskedEmail) error {
	stmt, err := s.db.PreparexContext(ctx, upsertMaskedEmailSQL)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	return execUpsert(ctx, stmt, me)
}

func execUpsert(ctx context.Context, stmt *sqlx.Stmt, me model.MaskedEmail) error {
	if me.ID == "" || me.Email == "" {
		return fmt.Errorf("masked email must have an id and an address")
	}
	if me.State == "" {
		me.State = model.StateEnabled
	}
	if me.FetchedAt.IsZero() {
		me.FetchedAt = time.Now().UTC()
	}

	_, err := stmt.ExecContext(ctx,
		me.ID, me.Email, string(me.State), me.ForDomain, me.Description, me.URL,
		me.CreatedBy, nullTime(me.CreatedAt), me.CreatedAtRaw, nullTime(me.LastMessageAt), me.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting masked email %s: %w", me.Email, err)
	}
	return nil
}

// GetMaskedEmails retrieves cached masked emails matching filter, newest
// first.
func (s *SQLiteStore) GetMaskedEmails(
	ctx context.Context,
	filter MaskedEmailFilter,
) ([]model.MaskedEmail, error) {
	var conditions []string
	var args []interface{}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, st := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, "(email LIKE ? OR description LIKE ? OR for_domain LIKE ?)")
		q := "%" + *filter.Query + "%"
		args = append(args, q, q, q)
	}

	query := "SELECT " + maskedEmailColumns + " FROM masked_emails"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, email ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying masked emails: %w", err)
	}
	defer rows.Close()

	var emails []model.MaskedEmail
	for rows.Next() {
		me, err := scanMaskedEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, me)
	}

	return emails, rows.Err()
}

// GetMaskedEmailByAddress retrieves a cached masked email by its address,
// case-insensitively. Returns ErrNotFound when it is not cached.
func (s *SQLiteStore) GetMaskedEmailByAddress(
	ctx context.Context,
	email string,
) (*model.MaskedEmail, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+maskedEmailColumns+" FROM masked_emails WHERE email = ? COLLATE NOCASE",
		strings.TrimSpace(email),
	)
	if err != nil {
		return nil, fmt.Errorf("getting masked email %s: %w", email, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("getting masked email %s: %w", email, err)
		}
		return nil, ErrNotFound
	}

	me, err := scanMaskedEmail(rows)
	if err != nil {
		return nil, err
	}
	return &me, nil
}

// CountMaskedEmails returns the number of cached masked emails per state.
func (s *SQLiteStore) CountMaskedEmails(
	ctx context.Context,
) (map[model.MaskedEmailState]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT state, COUNT(*) FROM masked_emails GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("counting masked emails: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.MaskedEmailState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[model.MaskedEmailState(state)] = n
	}

	return counts, rows.Err()
}

// scanMaskedEmail scans a masked email row selected with maskedEmailColumns.
func scanMaskedEmail(rows *sqlx.Rows) (model.MaskedEmail, error) {
	var (
		me            model.MaskedEmail
		state         string
		createdAt     sql.NullTime
		lastMessageAt sql.NullTime
		fetchedAt     time.Time
	)

	err := rows.Scan(
		&me.ID, &me.Email, &state, &me.ForDomain, &me.Description, &me.URL,
		&me.CreatedBy, &createdAt, &me.CreatedAtRaw, &lastMessageAt, &fetchedAt,
	)
	if err != nil {
		return model.MaskedEmail{}, fmt.Errorf("scanning masked email row: %w", err)
	}

	me.State = model.MaskedEmailState(state)
	me.CreatedAt = timePtr(createdAt)
	me.LastMessageAt = timePtr(lastMessageAt)
	me.FetchedAt = fetchedAt.UTC()

	return me, nil
}

// IsNotFound reports whether err is ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
