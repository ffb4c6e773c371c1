package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pulse/internal/core/domain"
	"time"
)

type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

/*
	type AccountRepository interface {
		GetSnapshotAccountStates(ctx context.Context, accountIDs []string) ([]AccountState, error)
		GetContactTargetIds(ctx context.Context, viewerID string, candidateIDs []string) (map[string]struct{}, error)
		GetAudienceAccountIds(ctx context.Context, accountID string) (map[string]struct{}, error)
		UpdateLastOnlineAt(ctx context.Context, accountIDs []string, at time.Time) ([]string, error)
		GetOnlineStatusVisibility(ctx context.Context, accountID string) (*Visibility, error)
	}
*/

func (r *AccountRepo) GetSnapshotAccountStates(ctx context.Context, accountIDs []string) ([]domain.AccountState, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id::text, online_status_visibility, last_online_at
		FROM accounts
		WHERE id = ANY($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, accountIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	states := make([]domain.AccountState, 0, len(accountIDs))
	for rows.Next() {
		var (
			st         domain.AccountState
			visibility string
			lastOnline sql.NullTime
		)
		if err := rows.Scan(&st.AccountID, &visibility, &lastOnline); err != nil {
			return nil, err
		}
		st.Visibility = domain.ParseVisibility(visibility)
		if lastOnline.Valid {
			t := lastOnline.Time.UTC()
			st.LastOnlineAt = &t
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// GetContactTargetIds returns the candidates whose contact list includes viewerID.
func (r *AccountRepo) GetContactTargetIds(ctx context.Context, viewerID string, candidateIDs []string) (map[string]struct{}, error) {
	if viewerID == "" || len(candidateIDs) == 0 {
		return map[string]struct{}{}, nil
	}
	query := `
		SELECT owner_id::text
		FROM account_contacts
		WHERE contact_id = $1 AND owner_id = ANY($2::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, viewerID, candidateIDs)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// GetAudienceAccountIds returns the account's own contacts plus, when its
// visibility is everyone, the accounts that list it as a contact.
func (r *AccountRepo) GetAudienceAccountIds(ctx context.Context, accountID string) (map[string]struct{}, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidAccountID
	}
	query := `
		SELECT contact_id::text FROM account_contacts WHERE owner_id = $1
		UNION
		SELECT ac.owner_id::text
		FROM account_contacts ac
		JOIN accounts a ON a.id = ac.contact_id
		WHERE ac.contact_id = $1 AND a.online_status_visibility = 'everyone'`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// UpdateLastOnlineAt stamps every existing account in one statement and
// returns the ids that were actually updated.
func (r *AccountRepo) UpdateLastOnlineAt(ctx context.Context, accountIDs []string, at time.Time) ([]string, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	query := `
		UPDATE accounts
		SET last_online_at = $2
		WHERE id = ANY($1::uuid[])
		RETURNING id::text`
	rows, err := r.db.QueryContext(ctx, query, accountIDs, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("update last_online_at: %w", err)
	}
	defer rows.Close()
	updated := make([]string, 0, len(accountIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, rows.Err()
}

func (r *AccountRepo) GetOnlineStatusVisibility(ctx context.Context, accountID string) (*domain.Visibility, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidAccountID
	}
	query := `SELECT online_status_visibility FROM accounts WHERE id = $1`
	var raw string
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v := domain.ParseVisibility(raw)
	return &v, nil
}

func collectIDs(rows *sql.Rows) (map[string]struct{}, error) {
	defer rows.Close()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
