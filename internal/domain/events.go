package domain

import "time"

// EventType tags a real-time message sent to room connections.
type EventType string

const (
	EventParticipantJoined  EventType = "participant_joined"
	EventQuestionStarted    EventType = "question_started"
	EventQuestionChanged    EventType = "question_changed"
	EventQuestionTimeout    EventType = "question_timeout"
	EventQuizComplete       EventType = "quiz_complete"
	EventLeaderboardUpdated EventType = "leaderboard_updated"
	EventRoomClosed         EventType = "room_closed"

	// Direct replies on a single connection, never broadcast.
	EventAnswerResult EventType = "answer_result"
	EventError        EventType = "error"
)

// Event is the envelope delivered to websocket clients.
type Event struct {
	Type     EventType `json:"type"`
	RoomCode string    `json:"room_code,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

type ParticipantJoinedPayload struct {
	ParticipantID     string `json:"participant_id"`
	Nickname          string `json:"nickname"`
	TotalParticipants int    `json:"total_participants"`
}

type QuestionStartedPayload struct {
	QuestionIndex int       `json:"question_index"`
	TimeLimit     int       `json:"time_limit"`
	EndsAt        time.Time `json:"ends_at"`
}

type QuestionChangedPayload struct {
	QuestionIndex int `json:"question_index"`
}

type QuestionTimeoutPayload struct {
	QuestionIndex      int      `json:"question_index"`
	CorrectAnswers     []string `json:"correct_answer"`
	LeaderboardUpdated bool     `json:"leaderboard_updated"`
}

type QuizCompletePayload struct {
	TotalQuestions int         `json:"total_questions"`
	Leaderboard    Leaderboard `json:"leaderboard"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
