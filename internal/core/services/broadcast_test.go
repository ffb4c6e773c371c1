package services

import (
	"context"
	"testing"
	"time"

	"pulse/internal/core/domain"
)

func TestBroadcaster_Audience(t *testing.T) {
	tests := []struct {
		name       string
		visibility *domain.Visibility
		audience   []string
		want       []string
	}{
		{"everyone", visibility(domain.VisibilityEveryone), []string{accountB, accountC}, []string{accountB, accountC}},
		{"self excluded", visibility(domain.VisibilityContactsOnly), []string{accountA, accountB}, []string{accountB}},
		{"only self", visibility(domain.VisibilityEveryone), []string{accountA}, nil},
		{"no one", visibility(domain.VisibilityNoOne), []string{accountB}, nil},
		{"empty audience", visibility(domain.VisibilityEveryone), nil, nil},
		{"missing account", nil, []string{accountB}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := newFakeAccounts()
			if tt.visibility != nil {
				accounts.add(accountA, *tt.visibility, nil)
			}
			accounts.audience[accountA] = tt.audience
			notifier := &fakeNotifier{}
			b := NewBroadcaster(discardLogger(), accounts, notifier)

			if err := b.BroadcastOnline(context.Background(), accountA); err != nil {
				t.Fatalf("BroadcastOnline: %v", err)
			}
			if tt.want == nil {
				if len(notifier.sent) != 0 {
					t.Errorf("expected no broadcast, got %+v", notifier.sent)
				}
				return
			}
			if len(notifier.sent) != 1 {
				t.Fatalf("broadcasts = %d, want 1", len(notifier.sent))
			}
			got := notifier.sent[0].audience
			if len(got) != len(tt.want) {
				t.Fatalf("audience = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("audience = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestBroadcaster_OfflinePayload(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.add(accountA, domain.VisibilityEveryone, nil)
	accounts.audience[accountA] = []string{accountB}
	notifier := &fakeNotifier{}
	b := NewBroadcaster(discardLogger(), accounts, notifier)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))

	if err := b.BroadcastOffline(context.Background(), accountA, at); err != nil {
		t.Fatalf("BroadcastOffline: %v", err)
	}
	ev := notifier.sent[0].payload.(domain.PresenceEvent)
	if notifier.sent[0].event != domain.EventBecameOffline || ev.IsOnline {
		t.Errorf("unexpected event %+v", notifier.sent[0])
	}
	if ev.LastOnlineAt == nil || !ev.LastOnlineAt.Equal(at) || ev.LastOnlineAt.Location() != time.UTC {
		t.Errorf("LastOnlineAt = %v, want %v in UTC", ev.LastOnlineAt, at)
	}
}

func visibility(v domain.Visibility) *domain.Visibility {
	return &v
}
