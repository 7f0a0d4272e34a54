package app

import (
	"sort"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// LeaderboardCache keeps the last published ranking per room. Reads never
// recompute; only Refresh and OnJoin change what readers see.
type LeaderboardCache struct {
	now    func() time.Time
	mu     sync.RWMutex
	boards map[string]domain.Leaderboard
}

func NewLeaderboardCache(now func() time.Time) *LeaderboardCache {
	if now == nil {
		now = time.Now
	}
	return &LeaderboardCache{now: now, boards: make(map[string]domain.Leaderboard)}
}

// Refresh ranks participants (given in join order) by score descending, ties by
// join order, and replaces the room's snapshot.
func (c *LeaderboardCache) Refresh(roomCode string, participants []domain.Participant) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, len(participants))
	for i, p := range participants {
		entries[i] = domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
			Streak:        p.Streak,
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	board := domain.Leaderboard{RoomCode: roomCode, Entries: entries, UpdatedAt: c.now()}
	c.mu.Lock()
	c.boards[roomCode] = board
	c.mu.Unlock()
	return copyBoard(board)
}

// OnJoin appends a zero-score entry. Scores are never negative and the joiner is
// the latest, so the last rank is correct without a refresh.
func (c *LeaderboardCache) OnJoin(roomCode string, p domain.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	board, ok := c.boards[roomCode]
	if !ok {
		board = domain.Leaderboard{RoomCode: roomCode}
	}
	entries := make([]domain.LeaderboardEntry, len(board.Entries), len(board.Entries)+1)
	copy(entries, board.Entries)
	board.Entries = append(entries, domain.LeaderboardEntry{
		ParticipantID: p.ID,
		Nickname:      p.Nickname,
		Rank:          len(entries) + 1,
	})
	board.UpdatedAt = c.now()
	c.boards[roomCode] = board
}

// Read returns the last refreshed snapshot.
func (c *LeaderboardCache) Read(roomCode string) (domain.Leaderboard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	board, ok := c.boards[roomCode]
	if !ok {
		return domain.Leaderboard{}, false
	}
	return copyBoard(board), true
}

// Drop forgets a room.
func (c *LeaderboardCache) Drop(roomCode string) {
	c.mu.Lock()
	delete(c.boards, roomCode)
	c.mu.Unlock()
}

func copyBoard(board domain.Leaderboard) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, len(board.Entries))
	copy(entries, board.Entries)
	board.Entries = entries
	return board
}
