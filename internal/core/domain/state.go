package domain

import "time"

// PresenceState is derived, never stored. The persisted facts are only the
// online counter, the offline-candidate entry and the offline lock.
type PresenceState string

const (
	StateOnline         PresenceState = "online"
	StateGracePeriod    PresenceState = "grace_period"
	StateConfirmPending PresenceState = "confirm_pending"
	StateOffline        PresenceState = "offline"
)

// DeriveState computes the logical state from the live facts.
//   - count > 0                   -> Online
//   - candidate due in the future -> GracePeriod
//   - candidate due at or before  -> ConfirmPending
//   - no candidate                -> Offline
func DeriveState(count int64, dueAt *time.Time, now time.Time) PresenceState {
	switch {
	case count > 0:
		return StateOnline
	case dueAt == nil:
		return StateOffline
	case dueAt.After(now):
		return StateGracePeriod
	default:
		return StateConfirmPending
	}
}
