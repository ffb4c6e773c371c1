package domain

import (
	"context"
	"time"
)

// AccountRepository is the read-mostly view of the relational store holding
// visibility settings and contact lists. LastOnlineAt is its only write.
type AccountRepository interface {
	GetSnapshotAccountStates(ctx context.Context, accountIDs []string) ([]AccountState, error)
	// GetContactTargetIds returns the subset of candidateIDs that list viewerID as a contact.
	GetContactTargetIds(ctx context.Context, viewerID string, candidateIDs []string) (map[string]struct{}, error)
	// GetAudienceAccountIds returns the accounts entitled to receive accountID's presence broadcasts.
	GetAudienceAccountIds(ctx context.Context, accountID string) (map[string]struct{}, error)
	// UpdateLastOnlineAt returns the ids whose row was actually updated.
	UpdateLastOnlineAt(ctx context.Context, accountIDs []string, at time.Time) ([]string, error)
	// GetOnlineStatusVisibility returns nil when the account does not exist.
	GetOnlineStatusVisibility(ctx context.Context, accountID string) (*Visibility, error)
}
