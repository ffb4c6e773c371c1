package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility is the per-account policy controlling who may see its online
// status and last-seen time.
type Visibility string

const (
	VisibilityEveryone     Visibility = "everyone"
	VisibilityContactsOnly Visibility = "contacts_only"
	VisibilityNoOne        Visibility = "no_one"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityEveryone, VisibilityContactsOnly, VisibilityNoOne:
		return true
	}
	return false
}

// ParseVisibility maps a stored value to a Visibility. Unknown values fall
// back to NoOne so that a corrupt setting never discloses anything.
func ParseVisibility(s string) Visibility {
	if v := Visibility(s); v.Valid() {
		return v
	}
	return VisibilityNoOne
}

// AccountState is the slice of account settings the snapshot resolver needs.
type AccountState struct {
	AccountID    string
	Visibility   Visibility
	LastOnlineAt *time.Time
}

// SnapshotEntry is the disclosed status of one target for one viewer.
type SnapshotEntry struct {
	AccountID     string     `json:"account_id"`
	CanShowStatus bool       `json:"can_show_status"`
	IsOnline      bool       `json:"is_online"`
	LastOnlineAt  *time.Time `json:"last_online_at,omitempty"`
}

// Hidden returns an entry that discloses nothing about accountID.
func Hidden(accountID string) SnapshotEntry {
	return SnapshotEntry{AccountID: accountID}
}

// RateDecision is the outcome of a snapshot rate-limit check.
type RateDecision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// ValidAccountID reports whether id is a well-formed account identifier.
func ValidAccountID(id string) bool {
	if id == "" {
		return false
	}
	return uuid.Validate(id) == nil
}

// NormalizeAccountID parses id and returns its canonical string form.
func NormalizeAccountID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidAccountID
	}
	return u.String(), nil
}

// NewConnectionID returns a fresh opaque connection identifier.
func NewConnectionID() string {
	return uuid.NewString()
}
