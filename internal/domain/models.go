package domain

import "time"

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	StatusIdle     RoomStatus = "idle"
	StatusActive   RoomStatus = "active"
	StatusOver     RoomStatus = "over"
	StatusComplete RoomStatus = "complete"
)

// Room is one live quiz session.
type Room struct {
	Code              string     `json:"room_code"`
	QuizID            string     `json:"quiz_id"`
	HostSecret        string     `json:"-"`
	TotalQuestions    int        `json:"total_questions"`
	CurrentIndex      int        `json:"current_question"`
	Status            RoomStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	QuestionStartedAt *time.Time `json:"question_started_at,omitempty"`
	QuestionEndsAt    *time.Time `json:"question_ends_at,omitempty"`
}

// ActiveQuestion holds what the host armed for the current question.
type ActiveQuestion struct {
	Index          int
	TimeLimit      time.Duration
	CorrectAnswers []string
	Type           QuestionType
	Validation     ValidationMode
	MaxPoints      int
}

// Participant is a player in exactly one room.
type Participant struct {
	ID       string    `json:"participant_id"`
	RoomCode string    `json:"room_code"`
	Nickname string    `json:"nickname"`
	Score    int       `json:"score"`
	Streak   int       `json:"streak"`
	JoinedAt time.Time `json:"joined_at"`
}

// RosterEntry is the score-free view of a participant returned with room state.
type RosterEntry struct {
	ID       string    `json:"participant_id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoomState is the externally visible state of a room.
type RoomState struct {
	Room
	TimeRemaining *int          `json:"time_remaining,omitempty"`
	Participants  []RosterEntry `json:"participants"`
}

// Answer is an immutable record of one submission.
type Answer struct {
	ParticipantID  string         `json:"participant_id"`
	Nickname       string         `json:"nickname"`
	QuestionIndex  int            `json:"question_index"`
	Text           string         `json:"answer"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Correct        bool           `json:"is_correct"`
	Points         int            `json:"points_earned"`
	Method         ValidationMode `json:"validation_method"`
	Confidence     float64        `json:"confidence"`
	Late           bool           `json:"late,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// AnswerSubmission models a participant's answer as received from clients.
type AnswerSubmission struct {
	ParticipantID  string         `json:"participant_id"`
	Text           string         `json:"answer"`
	ResponseTimeMs int64          `json:"response_time"`
	TimeLimit      int            `json:"time_limit,omitempty"`
	QuestionIndex  int            `json:"question_index"`
	CorrectAnswers []string       `json:"correct_answer"`
	QuestionType   QuestionType   `json:"question_type"`
	Validation     ValidationMode `json:"validation,omitempty"`
	MaxPoints      int            `json:"max_points"`
}

// AnswerResult is returned only to the submitting participant.
type AnswerResult struct {
	QuestionIndex int            `json:"question_index"`
	Correct       bool           `json:"is_correct"`
	PointsEarned  int            `json:"points_earned"`
	Score         int            `json:"current_score"`
	Streak        int            `json:"streak"`
	Method        ValidationMode `json:"validation_method"`
	Confidence    float64        `json:"confidence"`
}

// LeaderboardEntry is one ranked row of a snapshot.
type LeaderboardEntry struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
	Rank          int    `json:"rank"`
}

// Leaderboard is a point-in-time ranking, refreshed only at checkpoints.
type Leaderboard struct {
	RoomCode  string             `json:"room_code"`
	Entries   []LeaderboardEntry `json:"leaderboard"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Export is the answer log of a room. Answers for a question that is still
// active are withheld until its timeout.
type Export struct {
	Room        Room        `json:"room"`
	Leaderboard Leaderboard `json:"leaderboard"`
	Answers     []Answer    `json:"answers"`
	ExportedAt  time.Time   `json:"exported_at"`
}
