package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	"quiz-room-service/internal/metrics"
	"quiz-room-service/internal/validation"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs the i-th armed callback even if it was stopped, the way a timer
// that already fired before Stop would.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.fn()
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type recordingHub struct {
	mu     sync.Mutex
	events []domain.Event
	closed []string
}

func (h *recordingHub) Broadcast(_ string, event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHub) CloseRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, code)
}

func (h *recordingHub) types() []domain.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.EventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func (h *recordingHub) last(typ domain.EventType) (domain.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Type == typ {
			return h.events[i], true
		}
	}
	return domain.Event{}, false
}

type fixture struct {
	coord *app.Coordinator
	clock *fakeClock
	hub   *recordingHub
}

func newFixture(t *testing.T, opts app.Options) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewSessionStore(), validation.New(validation.Options{}, nil, nil), opts)
}

func newFixtureWith(t *testing.T, sessions app.SessionRepository, validator app.AnswerValidator, opts app.Options) *fixture {
	t.Helper()
	clock := newFakeClock()
	hub := &recordingHub{}
	opts.Now = clock.Now
	opts.AfterFunc = clock.AfterFunc
	coord := app.NewCoordinator(sessions, validator, hub, opts)
	t.Cleanup(coord.Close)
	return &fixture{coord: coord, clock: clock, hub: hub}
}

func (f *fixture) start(t *testing.T, room domain.Room, index, limit, maxPoints int, answers ...string) {
	t.Helper()
	_, err := f.coord.StartQuestion(context.Background(), room.Code, room.HostSecret, app.StartRequest{
		QuestionIndex:  index,
		TimeLimit:      limit,
		CorrectAnswers: answers,
		QuestionType:   domain.QuestionShortAnswer,
		MaxPoints:      maxPoints,
	})
	if err != nil {
		t.Fatalf("start question %d: %v", index, err)
	}
}

func (f *fixture) submit(t *testing.T, room domain.Room, participantID string, index int, text string, responseMs int64) domain.AnswerResult {
	t.Helper()
	result, err := f.coord.SubmitAnswer(context.Background(), room.Code, domain.AnswerSubmission{
		ParticipantID:  participantID,
		Text:           text,
		ResponseTimeMs: responseMs,
		QuestionIndex:  index,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return result
}

func (f *fixture) board(t *testing.T, room domain.Room) domain.Leaderboard {
	t.Helper()
	board, err := f.coord.Leaderboard(context.Background(), room.Code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	return board
}

func TestScoringAcrossTwoQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})

	room, err := f.coord.CreateRoom(ctx, "custom", 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := f.coord.Join(ctx, room.Code, "A")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	f.start(t, room, 0, 30, 1000, "Paris")
	res := f.submit(t, room, a.ID, 0, "Paris", 5000)
	if !res.Correct || res.PointsEarned != 917 || res.Score != 917 || res.Streak != 1 {
		t.Fatalf("unexpected first result %+v", res)
	}

	// the countdown closes the question
	f.clock.fire(0)
	if _, err := f.coord.Advance(ctx, room.Code, room.HostSecret); err != nil {
		t.Fatalf("advance: %v", err)
	}

	f.start(t, room, 1, 20, 500, "Rome")
	res = f.submit(t, room, a.ID, 1, "rome", 10000)
	if !res.Correct || res.PointsEarned != 412 || res.Score != 1329 || res.Streak != 2 {
		t.Fatalf("unexpected second result %+v", res)
	}

	if err := f.coord.Timeout(ctx, room.Code); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	advanced, err := f.coord.Advance(ctx, room.Code, room.HostSecret)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !advanced.Complete || advanced.Status != domain.StatusComplete {
		t.Fatalf("expected complete, got %+v", advanced)
	}

	_, err = f.coord.StartQuestion(ctx, room.Code, room.HostSecret, app.StartRequest{QuestionIndex: 2, TimeLimit: 10})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected state error after completion, got %v", err)
	}

	board := f.board(t, room)
	if board.Entries[0].Score != 1329 {
		t.Fatalf("expected final score 1329, got %+v", board.Entries)
	}

	want := []domain.EventType{
		domain.EventParticipantJoined,
		domain.EventQuestionStarted,
		domain.EventQuestionTimeout,
		domain.EventLeaderboardUpdated,
		domain.EventQuestionChanged,
		domain.EventQuestionStarted,
		domain.EventQuestionTimeout,
		domain.EventLeaderboardUpdated,
		domain.EventQuizComplete,
		domain.EventLeaderboardUpdated,
	}
	got := f.hub.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected event sequence:\n got %v\nwant %v", got, want)
	}
}

func TestLeaderboardHiddenUntilTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	b, _ := f.coord.Join(ctx, room.Code, "B")

	before := f.board(t, room)
	f.start(t, room, 0, 30, 1000, "Paris")
	f.submit(t, room, b.ID, 0, "Paris", 0)

	during := f.board(t, room)
	if fmt.Sprint(during.Entries) != fmt.Sprint(before.Entries) {
		t.Fatalf("leaderboard changed during active question:\nbefore %+v\nduring %+v", before.Entries, during.Entries)
	}

	if err := f.coord.Timeout(ctx, room.Code); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	after := f.board(t, room)
	if after.Entries[0].ParticipantID != b.ID || after.Entries[0].Score != 1000 || after.Entries[0].Rank != 1 {
		t.Fatalf("expected B leading after timeout, got %+v", after.Entries)
	}
	if after.Entries[1].ParticipantID != a.ID || after.Entries[1].Rank != 2 {
		t.Fatalf("expected A second, got %+v", after.Entries)
	}

	ev, ok := f.hub.last(domain.EventQuestionTimeout)
	if !ok {
		t.Fatalf("expected question_timeout event")
	}
	payload := ev.Payload.(domain.QuestionTimeoutPayload)
	if len(payload.CorrectAnswers) != 1 || payload.CorrectAnswers[0] != "Paris" {
		t.Fatalf("expected answers revealed at timeout, got %+v", payload)
	}
}

func TestAnswerResultIsNotBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")

	before := len(f.hub.types())
	f.submit(t, room, a.ID, 0, "Paris", 1000)
	if after := len(f.hub.types()); after != before {
		t.Fatalf("submit emitted %d events", after-before)
	}
}

func TestRepeatSubmissionReturnsRecordedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")

	first := f.submit(t, room, a.ID, 0, "Paris", 5000)
	second := f.submit(t, room, a.ID, 0, "London", 0)
	if first != second {
		t.Fatalf("expected replayed result, got %+v then %+v", first, second)
	}

	_ = f.coord.Timeout(ctx, room.Code)
	export, err := f.coord.Export(ctx, room.Code)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(export.Answers) != 1 || export.Answers[0].Text != "Paris" {
		t.Fatalf("expected a single recorded answer, got %+v", export.Answers)
	}
	if board := f.board(t, room); board.Entries[0].Score != 917 || board.Entries[0].Streak != 1 {
		t.Fatalf("expected streak and score counted once, got %+v", board.Entries)
	}
}

func TestConcurrentDuplicateSubmissionsScoreOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")

	var wg sync.WaitGroup
	results := make([]domain.AnswerResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.coord.SubmitAnswer(ctx, room.Code, domain.AnswerSubmission{
				ParticipantID: a.ID, Text: "Paris", QuestionIndex: 0,
			})
			if err != nil {
				t.Errorf("submit: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		if res.Score != 1000 || res.Streak != 1 {
			t.Fatalf("expected a single scored submission, got %+v", res)
		}
	}
}

func TestManyParticipantsAllCountedAtTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)

	const n = 20
	ids := make([]string, n)
	for i := range ids {
		p, err := f.coord.Join(ctx, room.Code, fmt.Sprintf("p%d", i))
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		ids[i] = p.ID
	}
	f.start(t, room, 0, 30, 1000, "Paris")

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.coord.SubmitAnswer(ctx, room.Code, domain.AnswerSubmission{
				ParticipantID: id, Text: "Paris", QuestionIndex: 0,
			}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if err := f.coord.Timeout(ctx, room.Code); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	for _, e := range f.board(t, room).Entries {
		if e.Score != 1000 {
			t.Fatalf("expected every answer counted, got %+v", e)
		}
	}
}

func TestLateJoinerShowsZeroScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 2)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")
	f.submit(t, room, a.ID, 0, "Paris", 5000)
	_ = f.coord.Timeout(ctx, room.Code)
	if _, err := f.coord.Advance(ctx, room.Code, room.HostSecret); err != nil {
		t.Fatalf("advance: %v", err)
	}

	late, err := f.coord.Join(ctx, room.Code, "Late")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	board := f.board(t, room)
	if len(board.Entries) != 2 {
		t.Fatalf("expected late joiner listed, got %+v", board.Entries)
	}
	if e := board.Entries[1]; e.ParticipantID != late.ID || e.Score != 0 || e.Rank != 2 {
		t.Fatalf("unexpected late joiner entry %+v", e)
	}
	if e := board.Entries[0]; e.Score != 917 || e.Rank != 1 {
		t.Fatalf("unexpected leader %+v", e)
	}
}

func TestAdvanceRequiresOverStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 2)

	if _, err := f.coord.Advance(ctx, room.Code, room.HostSecret); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected state error on idle room, got %v", err)
	}
	f.start(t, room, 0, 30, 1000, "Paris")
	if _, err := f.coord.Advance(ctx, room.Code, room.HostSecret); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected state error on active room, got %v", err)
	}
}

func TestStartQuestionStateChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 2)

	req := app.StartRequest{QuestionIndex: 1, TimeLimit: 30, CorrectAnswers: []string{"x"}}
	if _, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, req); !errors.Is(err, domain.ErrQuestionIndexMismatch) {
		t.Fatalf("expected index mismatch, got %v", err)
	}
	req.QuestionIndex = 0
	req.TimeLimit = 0
	if _, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, req); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected invalid time limit, got %v", err)
	}
	f.start(t, room, 0, 30, 1000, "Paris")
	if _, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, app.StartRequest{TimeLimit: 30}); !errors.Is(err, domain.ErrQuestionActive) {
		t.Fatalf("expected already active, got %v", err)
	}
	_ = f.coord.Timeout(ctx, room.Code)
	if _, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, app.StartRequest{TimeLimit: 30}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected state error while over, got %v", err)
	}
}

func TestHostAuthAndLookupErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)

	if _, err := f.coord.StartQuestion(ctx, room.Code, "wrong", app.StartRequest{TimeLimit: 30}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := f.coord.Advance(ctx, room.Code, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if err := f.coord.EndQuestion(ctx, room.Code, "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := f.coord.Join(ctx, "NOPE0000", "A"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.coord.Join(ctx, room.Code, "  "); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected invalid nickname, got %v", err)
	}
	if _, err := f.coord.SubmitAnswer(ctx, room.Code, domain.AnswerSubmission{ParticipantID: "ghost"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
	if _, err := f.coord.Leaderboard(ctx, "NOPE0000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ctx := context.Background()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"capitals": capitalsQuiz(),
	}), time.Minute)
	f := newFixture(t, app.Options{Quizzes: quizzes})

	if _, err := f.coord.CreateRoom(ctx, "", 1); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected missing quiz id rejected, got %v", err)
	}
	if _, err := f.coord.CreateRoom(ctx, "custom", 0); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected zero count for unknown quiz rejected, got %v", err)
	}
	if _, err := f.coord.CreateRoom(ctx, "custom", -3); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected negative count rejected, got %v", err)
	}
	room, err := f.coord.CreateRoom(ctx, "capitals", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.TotalQuestions != 2 || room.Status != domain.StatusIdle || room.CurrentIndex != 0 {
		t.Fatalf("unexpected room %+v", room)
	}
	if len(room.Code) != 8 || room.HostSecret == "" {
		t.Fatalf("expected code and secret, got %q %q", room.Code, room.HostSecret)
	}
}

func TestStoredAnswerKeyWinsOverSubmission(t *testing.T) {
	ctx := context.Background()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"capitals": capitalsQuiz(),
	}), time.Minute)
	f := newFixture(t, app.Options{Quizzes: quizzes})
	room, _ := f.coord.CreateRoom(ctx, "capitals", 0)
	a, _ := f.coord.Join(ctx, room.Code, "A")

	started, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, app.StartRequest{QuestionIndex: 0})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.TimeLimit != 30 {
		t.Fatalf("expected time limit from quiz, got %d", started.TimeLimit)
	}

	res, err := f.coord.SubmitAnswer(ctx, room.Code, domain.AnswerSubmission{
		ParticipantID:  a.ID,
		Text:           "London",
		QuestionIndex:  0,
		CorrectAnswers: []string{"London"},
		MaxPoints:      100000,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Correct || res.PointsEarned != 0 {
		t.Fatalf("expected client answer key ignored, got %+v", res)
	}
}

func TestSubmissionKeyUsedWhenNothingArmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	if _, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, app.StartRequest{TimeLimit: 30}); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := f.coord.SubmitAnswer(ctx, room.Code, domain.AnswerSubmission{
		ParticipantID:  a.ID,
		Text:           "B",
		QuestionIndex:  0,
		CorrectAnswers: []string{"B"},
		QuestionType:   domain.QuestionMultipleChoice,
		MaxPoints:      500,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Correct || res.PointsEarned != 500 || res.Method != domain.ValidationExact {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLateAnswerIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 2)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")
	_ = f.coord.Timeout(ctx, room.Code)

	res := f.submit(t, room, a.ID, 0, "Paris", 1000)
	if res.Correct || res.PointsEarned != 0 || res.Method != domain.ValidationLate {
		t.Fatalf("expected late rejection, got %+v", res)
	}

	if _, err := f.coord.SubmitAnswer(ctx, room.Code, domain.AnswerSubmission{ParticipantID: a.ID, QuestionIndex: 1}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected index mismatch for a future question, got %v", err)
	}
}

func TestUnansweredQuestionResetsStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 2)
	a, _ := f.coord.Join(ctx, room.Code, "A")

	f.start(t, room, 0, 30, 1000, "Paris")
	f.submit(t, room, a.ID, 0, "Paris", 0)
	_ = f.coord.Timeout(ctx, room.Code)
	if got := f.board(t, room).Entries[0].Streak; got != 1 {
		t.Fatalf("expected streak 1, got %d", got)
	}
	_, _ = f.coord.Advance(ctx, room.Code, room.HostSecret)

	f.start(t, room, 1, 30, 1000, "Rome")
	_ = f.coord.Timeout(ctx, room.Code)
	if got := f.board(t, room).Entries[0].Streak; got != 0 {
		t.Fatalf("expected streak reset for unanswered question, got %d", got)
	}
}

func TestStaleCountdownIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 2)

	f.start(t, room, 0, 30, 1000, "Paris")
	if err := f.coord.EndQuestion(ctx, room.Code, room.HostSecret); err != nil {
		t.Fatalf("end: %v", err)
	}
	_, _ = f.coord.Advance(ctx, room.Code, room.HostSecret)
	f.start(t, room, 1, 30, 1000, "Rome")
	if f.clock.armed() != 2 {
		t.Fatalf("expected two armed countdowns, got %d", f.clock.armed())
	}

	// first countdown fires late; question 1 must stay open
	f.clock.fire(0)
	state, err := f.coord.RoomState(ctx, room.Code)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != domain.StatusActive || state.CurrentIndex != 1 {
		t.Fatalf("stale countdown changed the room: %+v", state.Room)
	}

	f.clock.fire(1)
	state, _ = f.coord.RoomState(ctx, room.Code)
	if state.Status != domain.StatusOver {
		t.Fatalf("expected live countdown to close question, got %s", state.Status)
	}
}

func TestRoomStateHidesScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	_, _ = f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")
	f.clock.Add(10 * time.Second)

	state, err := f.coord.RoomState(ctx, room.Code)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.TimeRemaining == nil || *state.TimeRemaining != 20 {
		t.Fatalf("expected 20s remaining, got %v", state.TimeRemaining)
	}
	if len(state.Participants) != 1 || state.Participants[0].Nickname != "A" {
		t.Fatalf("unexpected roster %+v", state.Participants)
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "score") || strings.Contains(string(data), room.HostSecret) {
		t.Fatalf("room state leaks scores or the host secret: %s", data)
	}
}

func TestExportWithholdsActiveQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")
	f.submit(t, room, a.ID, 0, "Paris", 0)

	export, _ := f.coord.Export(ctx, room.Code)
	if len(export.Answers) != 0 {
		t.Fatalf("expected active answers withheld, got %+v", export.Answers)
	}
	_ = f.coord.Timeout(ctx, room.Code)
	export, _ = f.coord.Export(ctx, room.Code)
	if len(export.Answers) != 1 || !export.Answers[0].Correct || export.Answers[0].Method != domain.ValidationFuzzy {
		t.Fatalf("unexpected export %+v", export.Answers)
	}
}

type recordingArchive struct {
	mu      sync.Mutex
	exports []domain.Export
}

func (a *recordingArchive) Archive(_ context.Context, export domain.Export) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exports = append(a.exports, export)
	return nil
}

func (a *recordingArchive) Latest(_ context.Context, code string) (domain.Export, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.exports) - 1; i >= 0; i-- {
		if a.exports[i].Room.Code == code {
			return a.exports[i], nil
		}
	}
	return domain.Export{}, domain.ErrRoomNotFound
}

func TestCompletionArchivesExport(t *testing.T) {
	ctx := context.Background()
	archive := &recordingArchive{}
	f := newFixture(t, app.Options{Archiver: archive})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")
	f.submit(t, room, a.ID, 0, "Paris", 0)
	_ = f.coord.Timeout(ctx, room.Code)
	if _, err := f.coord.Advance(ctx, room.Code, room.HostSecret); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if len(archive.exports) != 1 {
		t.Fatalf("expected one archived export, got %d", len(archive.exports))
	}
	got := archive.exports[0]
	if got.Room.Status != domain.StatusComplete || len(got.Answers) != 1 || got.Leaderboard.Entries[0].Score != 1000 {
		t.Fatalf("unexpected archived export %+v", got)
	}
}

func TestSweepEvictsExpiredRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{RoomTTL: time.Hour})
	old, _ := f.coord.CreateRoom(ctx, "custom", 1)
	f.clock.Add(50 * time.Minute)
	fresh, _ := f.coord.CreateRoom(ctx, "custom", 1)
	f.clock.Add(20 * time.Minute)

	if n := f.coord.Sweep(f.clock.Now()); n != 1 {
		t.Fatalf("expected one room evicted, got %d", n)
	}
	if _, err := f.coord.RoomState(ctx, old.Code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired room gone, got %v", err)
	}
	if _, err := f.coord.RoomState(ctx, fresh.Code); err != nil {
		t.Fatalf("expected fresh room kept, got %v", err)
	}
	if len(f.hub.closed) != 1 || f.hub.closed[0] != old.Code {
		t.Fatalf("expected hub connections closed for %s, got %v", old.Code, f.hub.closed)
	}
}

func TestExportFallsBackToArchiveAfterEviction(t *testing.T) {
	ctx := context.Background()
	archive := &recordingArchive{}
	f := newFixture(t, app.Options{Archiver: archive, RoomTTL: time.Hour})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	f.start(t, room, 0, 30, 1000, "Paris")
	f.submit(t, room, a.ID, 0, "Paris", 0)
	_ = f.coord.Timeout(ctx, room.Code)
	if _, err := f.coord.Advance(ctx, room.Code, room.HostSecret); err != nil {
		t.Fatalf("advance: %v", err)
	}

	f.clock.Add(2 * time.Hour)
	if n := f.coord.Sweep(f.clock.Now()); n != 1 {
		t.Fatalf("expected room evicted, got %d", n)
	}
	if _, err := f.coord.RoomState(ctx, room.Code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected room gone from memory, got %v", err)
	}

	export, err := f.coord.Export(ctx, room.Code)
	if err != nil {
		t.Fatalf("export after eviction: %v", err)
	}
	if export.Room.Code != room.Code || export.Room.Status != domain.StatusComplete || len(export.Answers) != 1 {
		t.Fatalf("unexpected archived export %+v", export)
	}
	if _, err := f.coord.Export(ctx, "NOSUCH"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound for unknown room, got %v", err)
	}
}

func TestExportWithoutArchiveReaderReportsMissingRoom(t *testing.T) {
	f := newFixture(t, app.Options{})
	if _, err := f.coord.Export(context.Background(), "NOSUCH"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomsActiveGaugeTracksLiveRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.Options{RoomTTL: time.Hour})
	base := testutil.ToFloat64(metrics.RoomsActive)

	done, _ := f.coord.CreateRoom(ctx, "custom", 1)
	open, _ := f.coord.CreateRoom(ctx, "custom", 1)
	if got := testutil.ToFloat64(metrics.RoomsActive); got != base+2 {
		t.Fatalf("expected %v active rooms after create, got %v", base+2, got)
	}

	f.start(t, done, 0, 30, 1000, "Paris")
	_ = f.coord.Timeout(ctx, done.Code)
	if _, err := f.coord.Advance(ctx, done.Code, done.HostSecret); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := testutil.ToFloat64(metrics.RoomsActive); got != base+1 {
		t.Fatalf("expected completed room to leave the gauge, got %v want %v", got, base+1)
	}

	f.clock.Add(2 * time.Hour)
	if n := f.coord.Sweep(f.clock.Now()); n != 2 {
		t.Fatalf("expected both rooms evicted, got %d", n)
	}
	if got := testutil.ToFloat64(metrics.RoomsActive); got != base {
		t.Fatalf("expected gauge back at %v after sweep, got %v", base, got)
	}
	if _, err := f.coord.RoomState(ctx, open.Code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected open room evicted, got %v", err)
	}
}

// staleSessions keeps serving sessions after Delete, like a lookup that
// raced with eviction.
type staleSessions struct {
	*memory.SessionStore
	mu   sync.Mutex
	seen map[string]*app.Session
}

func (s *staleSessions) Create(session *app.Session) error {
	if err := s.SessionStore.Create(session); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[session.Code()] = session
	return nil
}

func (s *staleSessions) Get(code string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.seen[code]
	return session, ok
}

func TestJoinAfterEvictionDoesNotResurrectLeaderboard(t *testing.T) {
	ctx := context.Background()
	sessions := &staleSessions{SessionStore: memory.NewSessionStore(), seen: map[string]*app.Session{}}
	f := newFixtureWith(t, sessions, validation.New(validation.Options{}, nil, nil), app.Options{RoomTTL: time.Hour})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	if _, err := f.coord.Join(ctx, room.Code, "A"); err != nil {
		t.Fatalf("join: %v", err)
	}

	f.clock.Add(2 * time.Hour)
	if n := f.coord.Sweep(f.clock.Now()); n != 1 {
		t.Fatalf("expected room evicted, got %d", n)
	}

	if _, err := f.coord.Join(ctx, room.Code, "B"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected join on evicted room to fail, got %v", err)
	}
	board, err := f.coord.Leaderboard(ctx, room.Code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 0 {
		t.Fatalf("expected evicted room's leaderboard to stay dropped, got %+v", board.Entries)
	}
}

// slowEmbedder honours cancellation the way an HTTP client would.
type slowEmbedder struct{}

func (slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch text {
	case "car", "automobile":
		return []float32{1, 0.1}, nil
	}
	return []float32{0, 1}, nil
}

func TestCancelledCallerStillGetsSemanticVerdict(t *testing.T) {
	ctx := context.Background()
	validator := validation.New(validation.Options{}, slowEmbedder{}, nil)
	f := newFixtureWith(t, memory.NewSessionStore(), validator, app.Options{})
	room, _ := f.coord.CreateRoom(ctx, "custom", 1)
	a, _ := f.coord.Join(ctx, room.Code, "A")
	_, err := f.coord.StartQuestion(ctx, room.Code, room.HostSecret, app.StartRequest{
		QuestionIndex:  0,
		TimeLimit:      30,
		CorrectAnswers: []string{"automobile"},
		Validation:     domain.ValidationSemantic,
		MaxPoints:      1000,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	sub := domain.AnswerSubmission{ParticipantID: a.ID, Text: "car", QuestionIndex: 0}
	first, err := f.coord.SubmitAnswer(cancelled, room.Code, sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !first.Correct || first.Method != domain.ValidationSemantic || first.PointsEarned != 1000 {
		t.Fatalf("expected semantic accept despite cancelled caller, got %+v", first)
	}

	retry, err := f.coord.SubmitAnswer(ctx, room.Code, sub)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry != first {
		t.Fatalf("expected retry to replay %+v, got %+v", first, retry)
	}
}

func capitalsQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "capitals",
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionShortAnswer, Answers: []string{"Paris"}, TimeLimit: 30, Points: 1000},
			{ID: "q2", Type: domain.QuestionShortAnswer, Answers: []string{"Rome"}, TimeLimit: 20, Points: 500},
		},
	}
}
