package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreResolveAndUsage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Usage(ctx, "abc123"); err == nil {
		t.Fatal("expected error for unknown client")
	}

	if err := s.ResolveUser(ctx, "abc123"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	u, err := s.Usage(ctx, "abc123")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.TotalMs != 0 || u.LastSession != nil {
		t.Errorf("expected empty balance, got %+v", u)
	}
}

func TestMemoryStoreAddUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := SessionRecord{StartedAt: started, EndedAt: started.Add(20 * time.Second), Seconds: 20}
	second := SessionRecord{StartedAt: started.Add(time.Minute), EndedAt: started.Add(90 * time.Second), Seconds: 30}

	if _, err := s.AddUsage(ctx, "abc123", first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	u, err := s.AddUsage(ctx, "abc123", second)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if u.TotalMs != 50000 {
		t.Errorf("expected 50000 total ms, got %d", u.TotalMs)
	}
	if u.LastSession == nil || u.LastSession.Seconds != 30 {
		t.Errorf("expected last session of 30s, got %+v", u.LastSession)
	}
}

func TestMemoryStoreConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := SessionRecord{Seconds: 1}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AddUsage(ctx, "abc123", rec); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	u, err := s.Usage(ctx, "abc123")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.TotalMs != 50000 {
		t.Errorf("expected 50000 total ms, got %d", u.TotalMs)
	}
}

func TestGuestNameDerivation(t *testing.T) {
	cases := []struct {
		clientID string
		want     string
	}{
		{"0b8f4a21-9c7d-4e2f-8a1b-3c5d7e9f0a2b", "Guest-0b8f4a21"},
		{"short", "Guest-short"},
	}
	for _, tc := range cases {
		if got := guestName(tc.clientID); got != tc.want {
			t.Errorf("guestName(%q) = %q, want %q", tc.clientID, got, tc.want)
		}
	}
}
