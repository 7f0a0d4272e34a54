package app

import (
	"testing"
	"time"

	"quiz-room-service/internal/domain"
)

func TestRefreshRanksByScoreThenJoinOrder(t *testing.T) {
	cache := NewLeaderboardCache(func() time.Time { return time.Unix(0, 0) })
	board := cache.Refresh("ROOM", []domain.Participant{
		{ID: "a", Score: 100},
		{ID: "b", Score: 300},
		{ID: "c", Score: 100},
		{ID: "d", Score: 0},
	})

	wantOrder := []string{"b", "a", "c", "d"}
	for i, e := range board.Entries {
		if e.ParticipantID != wantOrder[i] || e.Rank != i+1 {
			t.Fatalf("entry %d: got %+v, want %s rank %d", i, e, wantOrder[i], i+1)
		}
	}
}

func TestOnJoinAppendsWithoutRecomputing(t *testing.T) {
	cache := NewLeaderboardCache(nil)
	cache.Refresh("ROOM", []domain.Participant{{ID: "a", Score: 0}})
	cache.OnJoin("ROOM", domain.Participant{ID: "b", Nickname: "B"})

	board, ok := cache.Read("ROOM")
	if !ok || len(board.Entries) != 2 {
		t.Fatalf("expected two entries, got %+v", board.Entries)
	}
	if e := board.Entries[1]; e.ParticipantID != "b" || e.Rank != 2 || e.Score != 0 {
		t.Fatalf("unexpected joiner entry %+v", e)
	}
}

func TestReadReturnsCopy(t *testing.T) {
	cache := NewLeaderboardCache(nil)
	cache.Refresh("ROOM", []domain.Participant{{ID: "a", Score: 10}})

	board, _ := cache.Read("ROOM")
	board.Entries[0].Score = 9999

	again, _ := cache.Read("ROOM")
	if again.Entries[0].Score != 10 {
		t.Fatalf("cached snapshot mutated through a read")
	}

	cache.Drop("ROOM")
	if _, ok := cache.Read("ROOM"); ok {
		t.Fatalf("expected dropped room to be absent")
	}
}
