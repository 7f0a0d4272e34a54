package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the coordinator wraps exactly one of these,
// so transports can map them with errors.Is.
var (
	// ErrNotFound marks unknown rooms or participants.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks a host secret mismatch.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict marks an operation that is invalid for the current room status.
	ErrConflict = errors.New("invalid room state")
	// ErrInvalid marks malformed input.
	ErrInvalid = errors.New("invalid input")
)

var (
	ErrRoomNotFound        = fmt.Errorf("room %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrQuestionNotFound indicates the quiz has no question at the requested index.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)

	ErrHostSecretMismatch = fmt.Errorf("host secret mismatch: %w", ErrUnauthorized)

	ErrQuestionActive        = fmt.Errorf("question already active: %w", ErrConflict)
	ErrQuizComplete          = fmt.Errorf("quiz already complete: %w", ErrConflict)
	ErrQuestionIndexMismatch = fmt.Errorf("question index does not match current question: %w", ErrConflict)
	ErrQuestionNotActive     = fmt.Errorf("question is not accepting answers: %w", ErrConflict)
	ErrQuestionNotOver       = fmt.Errorf("current question is not over: %w", ErrConflict)
	ErrQuestionNotAdvanced   = fmt.Errorf("question is over, advance before starting the next: %w", ErrConflict)

	ErrInvalidQuestionCount = fmt.Errorf("total questions must be positive: %w", ErrInvalid)
	ErrInvalidTimeLimit     = fmt.Errorf("time limit out of range: %w", ErrInvalid)
	ErrInvalidMaxPoints     = fmt.Errorf("max points must not be negative: %w", ErrInvalid)
	ErrNicknameRequired     = fmt.Errorf("nickname is required: %w", ErrInvalid)
	ErrQuizIDRequired       = fmt.Errorf("quiz id is required: %w", ErrInvalid)
	ErrUnknownQuestionType  = fmt.Errorf("unknown question type: %w", ErrInvalid)
	ErrUnknownValidation    = fmt.Errorf("unknown validation mode: %w", ErrInvalid)
)
