package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/metrics"
	"quiz-room-service/internal/scoring"
	"quiz-room-service/internal/validation"
)

// ErrRoomExists is returned by SessionRepository.Create on a code collision.
var ErrRoomExists = errors.New("room code already in use")

// SessionRepository abstracts where room sessions live (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Create(session *Session) error
	Get(code string) (*Session, bool)
	Delete(code string)
	List() []*Session
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AnswerValidator decides correctness of a submission.
type AnswerValidator interface {
	ModeFor(qt domain.QuestionType, override domain.ValidationMode) domain.ValidationMode
	Validate(ctx context.Context, answer string, references []string, mode domain.ValidationMode) validation.Result
}

// Broadcaster fans events out to every connection of a room.
type Broadcaster interface {
	Broadcast(roomCode string, event domain.Event)
	CloseRoom(roomCode string)
}

// Archiver stores a completed room's export outside the process.
type Archiver interface {
	Archive(ctx context.Context, export domain.Export) error
}

// ArchiveReader is implemented by archivers that can return a stored export.
// Export falls back to it once a room has left memory.
type ArchiveReader interface {
	Latest(ctx context.Context, roomCode string) (domain.Export, error)
}

// Timer is a cancellable single-shot countdown.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

const (
	DefaultMaxTimeLimit = 10 * time.Minute
	DefaultMaxPoints    = 1000
	roomCodeAttempts    = 5
)

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	Quizzes      QuizRepository
	Archiver     Archiver
	Logger       *zap.Logger
	RoomTTL      time.Duration
	MaxTimeLimit time.Duration
	Now          func() time.Time
	AfterFunc    AfterFunc
}

// Coordinator is the room state machine. It owns the countdown timers, mutates
// sessions, refreshes the leaderboard at checkpoints and emits events.
type Coordinator struct {
	sessions    SessionRepository
	validator   AnswerValidator
	hub         Broadcaster
	leaderboard *LeaderboardCache
	quizzes     QuizRepository
	archiver    Archiver
	logger      *zap.Logger
	roomTTL     time.Duration
	maxLimit    time.Duration
	now         func() time.Time
	afterFunc   AfterFunc

	timersMu sync.Mutex
	timers   map[string]countdown
	timerGen uint64
}

// countdown identifies the armed timer of a room; gen invalidates stale firings.
type countdown struct {
	timer    Timer
	question int
	gen      uint64
}

func NewCoordinator(store SessionRepository, validator AnswerValidator, hub Broadcaster, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.MaxTimeLimit <= 0 {
		opts.MaxTimeLimit = DefaultMaxTimeLimit
	}
	if hub == nil {
		hub = nopBroadcaster{}
	}
	return &Coordinator{
		sessions:    store,
		validator:   validator,
		hub:         hub,
		leaderboard: NewLeaderboardCache(opts.Now),
		quizzes:     opts.Quizzes,
		archiver:    opts.Archiver,
		logger:      opts.Logger,
		roomTTL:     opts.RoomTTL,
		maxLimit:    opts.MaxTimeLimit,
		now:         opts.Now,
		afterFunc:   opts.AfterFunc,
		timers:      make(map[string]countdown),
	}
}

// CreateRoom opens a room in idle state. A zero question count is taken from the
// quiz content when the quiz is known.
func (c *Coordinator) CreateRoom(ctx context.Context, quizID string, totalQuestions int) (domain.Room, error) {
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return domain.Room{}, domain.ErrQuizIDRequired
	}
	if totalQuestions == 0 {
		if quiz, ok := c.lookupQuiz(ctx, quizID); ok {
			totalQuestions = len(quiz.Questions)
		}
	}
	if totalQuestions <= 0 {
		return domain.Room{}, domain.ErrInvalidQuestionCount
	}

	secret, err := randomToken(16)
	if err != nil {
		return domain.Room{}, err
	}

	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return domain.Room{}, err
		}
		room := domain.Room{
			Code:           code,
			QuizID:         quizID,
			HostSecret:     secret,
			TotalQuestions: totalQuestions,
			CurrentIndex:   0,
			Status:         domain.StatusIdle,
			CreatedAt:      c.now(),
		}
		err = c.sessions.Create(NewSession(room))
		if errors.Is(err, ErrRoomExists) {
			continue
		}
		if err != nil {
			return domain.Room{}, err
		}

		c.leaderboard.Refresh(code, nil)
		metrics.RoomsCreated.Inc()
		metrics.RoomsActive.Inc()
		metrics.Transitions.WithLabelValues(string(domain.StatusIdle)).Inc()
		c.logger.Info("room created", zap.String("room", code), zap.String("quiz", quizID), zap.Int("questions", totalQuestions))
		return room, nil
	}
	return domain.Room{}, fmt.Errorf("create room: %w", ErrRoomExists)
}

// Join adds a participant with zero score. Allowed in any status.
func (c *Coordinator) Join(_ context.Context, roomCode, nickname string) (domain.Participant, error) {
	session, ok := c.sessions.Get(roomCode)
	if !ok {
		return domain.Participant{}, domain.ErrRoomNotFound
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return domain.Participant{}, domain.ErrNicknameRequired
	}

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return domain.Participant{}, domain.ErrRoomNotFound
	}
	participant := domain.Participant{
		ID:       uuid.NewString(),
		RoomCode: session.room.Code,
		Nickname: nickname,
		JoinedAt: c.now(),
	}
	session.addParticipantLocked(participant)
	c.leaderboard.OnJoin(roomCode, participant)
	total := len(session.participants)
	session.mu.Unlock()

	metrics.ParticipantsJoined.Inc()
	c.logger.Info("participant joined", zap.String("room", roomCode), zap.String("participant", participant.ID))
	c.emit(roomCode, domain.EventParticipantJoined, domain.ParticipantJoinedPayload{
		ParticipantID:     participant.ID,
		Nickname:          nickname,
		TotalParticipants: total,
	})
	return participant, nil
}

// StartRequest is the host's description of the question being started.
type StartRequest struct {
	QuestionIndex  int                   `json:"question_index"`
	TimeLimit      int                   `json:"time_limit"` // seconds
	CorrectAnswers []string              `json:"correct_answer"`
	QuestionType   domain.QuestionType   `json:"question_type,omitempty"`
	Validation     domain.ValidationMode `json:"validation,omitempty"`
	MaxPoints      int                   `json:"max_points,omitempty"`
}

// StartQuestion activates the current question and arms its countdown.
func (c *Coordinator) StartQuestion(ctx context.Context, roomCode, hostSecret string, req StartRequest) (domain.QuestionStartedPayload, error) {
	session, err := c.authorize(roomCode, hostSecret)
	if err != nil {
		return domain.QuestionStartedPayload{}, err
	}

	session.transition.Lock()
	defer session.transition.Unlock()

	room := session.Room()
	switch {
	case room.Status == domain.StatusActive:
		return domain.QuestionStartedPayload{}, domain.ErrQuestionActive
	case room.Status == domain.StatusComplete:
		return domain.QuestionStartedPayload{}, domain.ErrQuizComplete
	case room.Status == domain.StatusOver:
		return domain.QuestionStartedPayload{}, domain.ErrQuestionNotAdvanced
	case req.QuestionIndex != room.CurrentIndex:
		return domain.QuestionStartedPayload{}, domain.ErrQuestionIndexMismatch
	}

	armed, err := c.armQuestion(ctx, room.QuizID, req)
	if err != nil {
		return domain.QuestionStartedPayload{}, err
	}

	now := c.now()
	endsAt := now.Add(armed.TimeLimit)

	session.mu.Lock()
	session.room.Status = domain.StatusActive
	session.room.QuestionStartedAt = &now
	session.room.QuestionEndsAt = &endsAt
	session.active = &armed
	session.mu.Unlock()

	c.armTimer(roomCode, armed.Index, armed.TimeLimit)

	payload := domain.QuestionStartedPayload{
		QuestionIndex: armed.Index,
		TimeLimit:     int(armed.TimeLimit / time.Second),
		EndsAt:        endsAt,
	}
	metrics.Transitions.WithLabelValues(string(domain.StatusActive)).Inc()
	c.logger.Info("question started", zap.String("room", roomCode), zap.Int("question", armed.Index), zap.Duration("limit", armed.TimeLimit))
	c.emit(roomCode, domain.EventQuestionStarted, payload)
	return payload, nil
}

// armQuestion merges the host request with authored quiz content. Host values win;
// quiz content fills what the host left out.
func (c *Coordinator) armQuestion(ctx context.Context, quizID string, req StartRequest) (domain.ActiveQuestion, error) {
	armed := domain.ActiveQuestion{
		Index:          req.QuestionIndex,
		TimeLimit:      time.Duration(req.TimeLimit) * time.Second,
		CorrectAnswers: append([]string(nil), req.CorrectAnswers...),
		Type:           req.QuestionType,
		Validation:     req.Validation,
		MaxPoints:      req.MaxPoints,
	}
	if len(armed.CorrectAnswers) == 0 || armed.TimeLimit == 0 || armed.Type == "" || armed.MaxPoints == 0 {
		if quiz, ok := c.lookupQuiz(ctx, quizID); ok {
			if q, ok := quiz.Question(req.QuestionIndex); ok {
				if len(armed.CorrectAnswers) == 0 {
					armed.CorrectAnswers = append([]string(nil), q.Answers...)
				}
				if armed.TimeLimit == 0 {
					armed.TimeLimit = time.Duration(q.TimeLimit) * time.Second
				}
				if armed.Type == "" {
					armed.Type = q.Type
				}
				if armed.Validation == "" {
					armed.Validation = q.Validation
				}
				if armed.MaxPoints == 0 {
					armed.MaxPoints = q.Points
				}
			}
		}
	}

	if armed.TimeLimit <= 0 || armed.TimeLimit > c.maxLimit {
		return domain.ActiveQuestion{}, domain.ErrInvalidTimeLimit
	}
	if armed.Type != "" && !armed.Type.Valid() {
		return domain.ActiveQuestion{}, domain.ErrUnknownQuestionType
	}
	if armed.Validation != "" && !armed.Validation.Valid() {
		return domain.ActiveQuestion{}, domain.ErrUnknownValidation
	}
	if armed.MaxPoints < 0 {
		return domain.ActiveQuestion{}, domain.ErrInvalidMaxPoints
	}
	return armed, nil
}

// SubmitAnswer validates, scores and records one answer. A repeat submission for
// the same question returns the recorded result. The leaderboard is not touched.
func (c *Coordinator) SubmitAnswer(ctx context.Context, roomCode string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	session, ok := c.sessions.Get(roomCode)
	if !ok {
		return domain.AnswerResult{}, domain.ErrRoomNotFound
	}
	key := answerKey{participantID: sub.ParticipantID, question: sub.QuestionIndex}

	session.mu.Lock()
	participant, ok := session.byID[sub.ParticipantID]
	if !ok {
		session.mu.Unlock()
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if result, ok := session.recordedLocked(key); ok {
		session.mu.Unlock()
		return result, nil
	}
	if done, ok := session.pending[key]; ok {
		session.mu.Unlock()
		return c.awaitRecorded(ctx, session, key, done)
	}

	room := session.room
	if sub.QuestionIndex != room.CurrentIndex || room.Status == domain.StatusIdle || room.Status == domain.StatusComplete {
		session.mu.Unlock()
		if sub.QuestionIndex != room.CurrentIndex {
			return domain.AnswerResult{}, domain.ErrQuestionIndexMismatch
		}
		return domain.AnswerResult{}, domain.ErrQuestionNotActive
	}
	if room.Status == domain.StatusOver {
		result := c.recordLateLocked(session, participant, sub)
		session.mu.Unlock()
		return result, nil
	}

	armed := *session.active
	question, err := c.resolveQuestion(armed, sub)
	if err != nil {
		session.mu.Unlock()
		return domain.AnswerResult{}, err
	}
	done := make(chan struct{})
	session.pending[key] = done
	session.inflight.Add(1)
	session.mu.Unlock()

	// Validation may call out to an embedding service, so it runs unlocked. The
	// pending entry keeps a concurrent retry from scoring twice, and timeout waits
	// on inflight before refreshing the leaderboard. The verdict is recorded and
	// replayed to retries, so a caller that disconnects must not cancel it.
	started := time.Now()
	mode := c.validator.ModeFor(question.Type, question.Validation)
	verdict := c.validator.Validate(context.WithoutCancel(ctx), sub.Text, question.CorrectAnswers, mode)
	metrics.ValidationDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())

	elapsed := clampElapsed(sub.ResponseTimeMs, armed.TimeLimit)

	session.mu.Lock()
	outcome := scoring.Apply(verdict.Accepted, question.MaxPoints, elapsed, armed.TimeLimit, participant.Streak)
	participant.Score += outcome.Points
	participant.Streak = outcome.Streak

	answer := domain.Answer{
		ParticipantID:  participant.ID,
		Nickname:       participant.Nickname,
		QuestionIndex:  sub.QuestionIndex,
		Text:           sub.Text,
		ResponseTimeMs: sub.ResponseTimeMs,
		Correct:        verdict.Accepted,
		Points:         outcome.Points,
		Method:         verdict.Method,
		Confidence:     verdict.Confidence,
		SubmittedAt:    c.now(),
	}
	result := domain.AnswerResult{
		QuestionIndex: sub.QuestionIndex,
		Correct:       verdict.Accepted,
		PointsEarned:  outcome.Points,
		Score:         participant.Score,
		Streak:        participant.Streak,
		Method:        verdict.Method,
		Confidence:    verdict.Confidence,
	}
	session.recordLocked(answer, result)
	delete(session.pending, key)
	close(done)
	session.inflight.Done()
	session.mu.Unlock()

	metrics.AnswersSubmitted.WithLabelValues(string(verdict.Method), strconv.FormatBool(verdict.Accepted)).Inc()
	c.logger.Debug("answer recorded",
		zap.String("room", roomCode),
		zap.String("participant", participant.ID),
		zap.Int("question", sub.QuestionIndex),
		zap.Bool("correct", verdict.Accepted),
		zap.Int("points", outcome.Points),
	)
	return result, nil
}

// resolveQuestion prefers what the host armed over what the client sent.
func (c *Coordinator) resolveQuestion(armed domain.ActiveQuestion, sub domain.AnswerSubmission) (domain.ActiveQuestion, error) {
	q := armed
	if len(q.CorrectAnswers) == 0 {
		q.CorrectAnswers = sub.CorrectAnswers
	}
	if q.Type == "" {
		q.Type = sub.QuestionType
	}
	if q.Validation == "" {
		q.Validation = sub.Validation
	}
	if q.MaxPoints == 0 {
		q.MaxPoints = sub.MaxPoints
	}
	if q.Type == "" {
		q.Type = domain.QuestionShortAnswer
	}

	if !q.Type.Valid() {
		return q, domain.ErrUnknownQuestionType
	}
	if q.Validation != "" && !q.Validation.Valid() {
		return q, domain.ErrUnknownValidation
	}
	if q.MaxPoints < 0 {
		return q, domain.ErrInvalidMaxPoints
	}
	if q.MaxPoints == 0 {
		q.MaxPoints = DefaultMaxPoints
	}
	return q, nil
}

// clampElapsed converts a client response time to a duration within [0, limit].
func clampElapsed(ms int64, limit time.Duration) time.Duration {
	if ms <= 0 {
		return 0
	}
	if max := limit.Milliseconds(); ms > max {
		return limit
	}
	return time.Duration(ms) * time.Millisecond
}

// awaitRecorded waits for a concurrent submission of the same answer to finish.
func (c *Coordinator) awaitRecorded(ctx context.Context, session *Session, key answerKey, done <-chan struct{}) (domain.AnswerResult, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return domain.AnswerResult{}, ctx.Err()
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	result, _ := session.recordedLocked(key)
	return result, nil
}

// recordLateLocked rejects an answer that arrived after the question closed.
func (c *Coordinator) recordLateLocked(session *Session, participant *domain.Participant, sub domain.AnswerSubmission) domain.AnswerResult {
	participant.Streak = 0
	answer := domain.Answer{
		ParticipantID:  participant.ID,
		Nickname:       participant.Nickname,
		QuestionIndex:  sub.QuestionIndex,
		Text:           sub.Text,
		ResponseTimeMs: sub.ResponseTimeMs,
		Method:         domain.ValidationLate,
		Late:           true,
		SubmittedAt:    c.now(),
	}
	result := domain.AnswerResult{
		QuestionIndex: sub.QuestionIndex,
		Score:         participant.Score,
		Streak:        0,
		Method:        domain.ValidationLate,
	}
	session.recordLocked(answer, result)
	metrics.AnswersSubmitted.WithLabelValues(string(domain.ValidationLate), "false").Inc()
	c.logger.Debug("late answer rejected",
		zap.String("room", session.room.Code),
		zap.String("participant", participant.ID),
		zap.Int("question", sub.QuestionIndex),
	)
	return result
}

// EndQuestion lets the host close the active question before its countdown runs out.
func (c *Coordinator) EndQuestion(ctx context.Context, roomCode, hostSecret string) error {
	if _, err := c.authorize(roomCode, hostSecret); err != nil {
		return err
	}
	return c.Timeout(ctx, roomCode)
}

// Timeout closes the active question, refreshes the leaderboard and reveals the
// correct answers.
func (c *Coordinator) Timeout(_ context.Context, roomCode string) error {
	session, ok := c.sessions.Get(roomCode)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return c.closeQuestion(session, -1)
}

// expire is the timer callback; it ignores firings invalidated since arming.
func (c *Coordinator) expire(roomCode string, question int, gen uint64) {
	c.timersMu.Lock()
	current, ok := c.timers[roomCode]
	stale := !ok || current.gen != gen
	if !stale {
		delete(c.timers, roomCode)
	}
	c.timersMu.Unlock()
	if stale {
		c.logger.Debug("stale countdown ignored", zap.String("room", roomCode), zap.Int("question", question))
		return
	}

	session, ok := c.sessions.Get(roomCode)
	if !ok {
		return
	}
	if err := c.closeQuestion(session, question); err != nil {
		c.logger.Debug("countdown fired after question closed", zap.String("room", roomCode), zap.Int("question", question), zap.Error(err))
	}
}

// closeQuestion moves an active room to over. question >= 0 restricts it to that index.
func (c *Coordinator) closeQuestion(session *Session, question int) error {
	session.transition.Lock()
	defer session.transition.Unlock()

	session.mu.Lock()
	room := session.room
	if room.Status != domain.StatusActive {
		session.mu.Unlock()
		return domain.ErrQuestionNotActive
	}
	if question >= 0 && room.CurrentIndex != question {
		session.mu.Unlock()
		return domain.ErrQuestionIndexMismatch
	}
	session.room.Status = domain.StatusOver
	revealed := append([]string(nil), session.active.CorrectAnswers...)
	session.mu.Unlock()

	c.cancelTimer(room.Code)

	// Answers that arrived while the question was active are still being scored.
	session.inflight.Wait()

	session.mu.Lock()
	session.resetUnansweredLocked(room.CurrentIndex)
	board := c.leaderboard.Refresh(room.Code, session.participantsLocked())
	session.mu.Unlock()

	metrics.Transitions.WithLabelValues(string(domain.StatusOver)).Inc()
	c.logger.Info("question over", zap.String("room", room.Code), zap.Int("question", room.CurrentIndex))
	c.emit(room.Code, domain.EventQuestionTimeout, domain.QuestionTimeoutPayload{
		QuestionIndex:      room.CurrentIndex,
		CorrectAnswers:     revealed,
		LeaderboardUpdated: true,
	})
	c.emit(room.Code, domain.EventLeaderboardUpdated, board)
	return nil
}

// AdvanceResult reports where the room landed after Advance.
type AdvanceResult struct {
	Status        domain.RoomStatus `json:"status"`
	QuestionIndex int               `json:"current_question"`
	Complete      bool              `json:"complete"`
}

// Advance moves past an over question. The index is incremented before the
// completion check, so the final question completes the quiz.
func (c *Coordinator) Advance(ctx context.Context, roomCode, hostSecret string) (AdvanceResult, error) {
	session, err := c.authorize(roomCode, hostSecret)
	if err != nil {
		return AdvanceResult{}, err
	}

	session.transition.Lock()
	defer session.transition.Unlock()

	session.mu.Lock()
	if session.room.Status != domain.StatusOver {
		session.mu.Unlock()
		return AdvanceResult{}, domain.ErrQuestionNotOver
	}
	session.room.CurrentIndex++
	session.room.QuestionStartedAt = nil
	session.room.QuestionEndsAt = nil
	session.active = nil

	var board domain.Leaderboard
	complete := session.room.CurrentIndex >= session.room.TotalQuestions
	if complete {
		session.room.Status = domain.StatusComplete
		board = c.leaderboard.Refresh(roomCode, session.participantsLocked())
		metrics.RoomsActive.Dec()
	} else {
		session.room.Status = domain.StatusIdle
	}
	result := AdvanceResult{
		Status:        session.room.Status,
		QuestionIndex: session.room.CurrentIndex,
		Complete:      complete,
	}
	session.mu.Unlock()

	c.cancelTimer(roomCode)
	metrics.Transitions.WithLabelValues(string(result.Status)).Inc()

	if !complete {
		c.logger.Info("question changed", zap.String("room", roomCode), zap.Int("question", result.QuestionIndex))
		c.emit(roomCode, domain.EventQuestionChanged, domain.QuestionChangedPayload{QuestionIndex: result.QuestionIndex})
		return result, nil
	}

	c.logger.Info("quiz complete", zap.String("room", roomCode))
	c.emit(roomCode, domain.EventQuizComplete, domain.QuizCompletePayload{
		TotalQuestions: result.QuestionIndex,
		Leaderboard:    board,
	})
	c.emit(roomCode, domain.EventLeaderboardUpdated, board)
	c.archive(ctx, session)
	return result, nil
}

// RoomState returns status, timing and the score-free roster.
func (c *Coordinator) RoomState(_ context.Context, roomCode string) (domain.RoomState, error) {
	session, ok := c.sessions.Get(roomCode)
	if !ok {
		return domain.RoomState{}, domain.ErrRoomNotFound
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	state := domain.RoomState{
		Room:         session.room,
		Participants: make([]domain.RosterEntry, 0, len(session.participants)),
	}
	for _, p := range session.participants {
		state.Participants = append(state.Participants, domain.RosterEntry{ID: p.ID, Nickname: p.Nickname, JoinedAt: p.JoinedAt})
	}
	if session.room.Status == domain.StatusActive && session.room.QuestionEndsAt != nil {
		remaining := int(session.room.QuestionEndsAt.Sub(c.now()) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		state.TimeRemaining = &remaining
	}
	return state, nil
}

// Leaderboard returns the cached snapshot; it never recomputes.
func (c *Coordinator) Leaderboard(_ context.Context, roomCode string) (domain.Leaderboard, error) {
	if _, ok := c.sessions.Get(roomCode); !ok {
		return domain.Leaderboard{}, domain.ErrRoomNotFound
	}
	board, ok := c.leaderboard.Read(roomCode)
	if !ok {
		return domain.Leaderboard{RoomCode: roomCode, Entries: []domain.LeaderboardEntry{}}, nil
	}
	return board, nil
}

// Export returns the answer log with validation metadata.
func (c *Coordinator) Export(ctx context.Context, roomCode string) (domain.Export, error) {
	session, ok := c.sessions.Get(roomCode)
	if !ok {
		if reader, ok := c.archiver.(ArchiveReader); ok {
			return reader.Latest(ctx, roomCode)
		}
		return domain.Export{}, domain.ErrRoomNotFound
	}
	return c.export(session), nil
}

func (c *Coordinator) export(session *Session) domain.Export {
	session.mu.Lock()
	room := session.room
	answers := session.answersLocked()
	session.mu.Unlock()

	board, _ := c.leaderboard.Read(room.Code)
	return domain.Export{
		Room:        room,
		Leaderboard: board,
		Answers:     answers,
		ExportedAt:  c.now(),
	}
}

func (c *Coordinator) archive(ctx context.Context, session *Session) {
	if c.archiver == nil {
		return
	}
	export := c.export(session)
	if err := c.archiver.Archive(ctx, export); err != nil {
		c.logger.Warn("archive export failed", zap.String("room", export.Room.Code), zap.Error(err))
	}
}

// Sweep evicts rooms older than the configured TTL and returns how many it removed.
func (c *Coordinator) Sweep(now time.Time) int {
	if c.roomTTL <= 0 {
		return 0
	}
	evicted := 0
	for _, session := range c.sessions.List() {
		if now.Sub(session.CreatedAt()) < c.roomTTL {
			continue
		}
		session.mu.Lock()
		session.closed = true
		code := session.room.Code
		complete := session.room.Status == domain.StatusComplete
		session.mu.Unlock()

		c.cancelTimer(code)
		c.sessions.Delete(code)
		c.leaderboard.Drop(code)
		c.emit(code, domain.EventRoomClosed, nil)
		c.hub.CloseRoom(code)
		if !complete {
			metrics.RoomsActive.Dec()
		}
		evicted++
		c.logger.Info("room expired", zap.String("room", code))
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.roomTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}

// Close stops every armed countdown.
func (c *Coordinator) Close() {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	for code, cd := range c.timers {
		cd.timer.Stop()
		delete(c.timers, code)
	}
}

func (c *Coordinator) armTimer(roomCode string, question int, d time.Duration) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if prev, ok := c.timers[roomCode]; ok {
		prev.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	timer := c.afterFunc(d, func() { c.expire(roomCode, question, gen) })
	c.timers[roomCode] = countdown{timer: timer, question: question, gen: gen}
}

func (c *Coordinator) cancelTimer(roomCode string) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if cd, ok := c.timers[roomCode]; ok {
		cd.timer.Stop()
		delete(c.timers, roomCode)
	}
}

func (c *Coordinator) authorize(roomCode, hostSecret string) (*Session, error) {
	session, ok := c.sessions.Get(roomCode)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	secret := session.Room().HostSecret
	if subtle.ConstantTimeCompare([]byte(secret), []byte(hostSecret)) != 1 {
		return nil, domain.ErrHostSecretMismatch
	}
	return session, nil
}

func (c *Coordinator) lookupQuiz(ctx context.Context, quizID string) (domain.Quiz, bool) {
	if c.quizzes == nil {
		return domain.Quiz{}, false
	}
	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if !errors.Is(err, domain.ErrQuizNotFound) {
			c.logger.Warn("quiz lookup failed", zap.String("quiz", quizID), zap.Error(err))
		}
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *Coordinator) emit(roomCode string, typ domain.EventType, payload any) {
	c.hub.Broadcast(roomCode, domain.Event{Type: typ, RoomCode: roomCode, Payload: payload})
}

// randomCode returns an 8 character upper-case hex room code.
func randomCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, domain.Event) {}
func (nopBroadcaster) CloseRoom(string)               {}
