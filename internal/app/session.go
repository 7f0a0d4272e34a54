package app

import (
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// Session holds the authoritative records of one room: the room itself, its
// participants in join order, and its answer log.
//
// Two locks guard it. transition serializes host and timer transitions
// (start, timeout, advance) so their events leave in state order. mu guards the
// records and is held only for in-memory work. Lock order: transition, mu, then
// the leaderboard cache.
type Session struct {
	transition sync.Mutex

	mu           sync.Mutex
	room         domain.Room
	active       *domain.ActiveQuestion
	participants []*domain.Participant
	byID         map[string]*domain.Participant
	answers      []recordedAnswer
	answered     map[answerKey]int
	pending      map[answerKey]chan struct{}
	inflight     sync.WaitGroup
	// closed is set when the room is evicted; late Join calls must not re-add it.
	closed bool
}

type answerKey struct {
	participantID string
	question      int
}

type recordedAnswer struct {
	answer domain.Answer
	result domain.AnswerResult
}

// NewSession wraps a freshly created room.
func NewSession(room domain.Room) *Session {
	return &Session{
		room:     room,
		byID:     make(map[string]*domain.Participant),
		answered: make(map[answerKey]int),
		pending:  make(map[answerKey]chan struct{}),
	}
}

// Code returns the room code.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Code
}

// CreatedAt returns when the room was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.CreatedAt
}

// Room returns a copy of the room record.
func (s *Session) Room() domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// ParticipantCount reports how many participants joined.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// participantsLocked copies participants in join order.
func (s *Session) participantsLocked() []domain.Participant {
	out := make([]domain.Participant, len(s.participants))
	for i, p := range s.participants {
		out[i] = *p
	}
	return out
}

func (s *Session) addParticipantLocked(p domain.Participant) {
	stored := p
	s.participants = append(s.participants, &stored)
	s.byID[p.ID] = &stored
}

// recordLocked appends an answer and indexes it for idempotent replays.
func (s *Session) recordLocked(answer domain.Answer, result domain.AnswerResult) {
	key := answerKey{participantID: answer.ParticipantID, question: answer.QuestionIndex}
	s.answered[key] = len(s.answers)
	s.answers = append(s.answers, recordedAnswer{answer: answer, result: result})
}

func (s *Session) recordedLocked(key answerKey) (domain.AnswerResult, bool) {
	idx, ok := s.answered[key]
	if !ok {
		return domain.AnswerResult{}, false
	}
	return s.answers[idx].result, true
}

// resetUnansweredLocked zeroes the streak of everyone without an answer for question.
func (s *Session) resetUnansweredLocked(question int) {
	for _, p := range s.participants {
		if _, ok := s.answered[answerKey{participantID: p.ID, question: question}]; !ok {
			p.Streak = 0
		}
	}
}

// answersLocked copies the answer log, withholding the active question's answers.
func (s *Session) answersLocked() []domain.Answer {
	out := make([]domain.Answer, 0, len(s.answers))
	for _, rec := range s.answers {
		if s.room.Status == domain.StatusActive && rec.answer.QuestionIndex == s.room.CurrentIndex {
			continue
		}
		out = append(out, rec.answer)
	}
	return out
}
