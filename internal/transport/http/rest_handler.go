package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// RESTHandler exposes the room operations as JSON endpoints.
type RESTHandler struct {
	coordinator *app.Coordinator
	logger      *zap.Logger
}

func NewRESTHandler(coordinator *app.Coordinator, logger *zap.Logger) *RESTHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTHandler{coordinator: coordinator, logger: logger}
}

type createRoomRequest struct {
	QuizID         string `json:"quiz_id"`
	TotalQuestions int    `json:"total_questions"`
}

type createRoomResponse struct {
	RoomCode       string `json:"room_code"`
	HostSecret     string `json:"host_secret"`
	TotalQuestions int    `json:"total_questions"`
}

type joinRequest struct {
	Nickname string `json:"nickname"`
}

type joinResponse struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	RoomCode      string `json:"room_code"`
}

type hostRequest struct {
	HostSecret string `json:"host_secret"`
}

type startRequest struct {
	HostSecret string `json:"host_secret"`
	app.StartRequest
}

func (h *RESTHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.coordinator.CreateRoom(r.Context(), req.QuizID, req.TotalQuestions)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomCode:       room.Code,
		HostSecret:     room.HostSecret,
		TotalQuestions: room.TotalQuestions,
	})
}

func (h *RESTHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	participant, err := h.coordinator.Join(r.Context(), roomCode(r), req.Nickname)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		ParticipantID: participant.ID,
		Nickname:      participant.Nickname,
		RoomCode:      participant.RoomCode,
	})
}

func (h *RESTHandler) RoomState(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.RoomState(r.Context(), roomCode(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *RESTHandler) StartQuestion(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	started, err := h.coordinator.StartQuestion(r.Context(), roomCode(r), req.HostSecret, req.StartRequest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, started)
}

func (h *RESTHandler) EndQuestion(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.coordinator.EndQuestion(r.Context(), roomCode(r), req.HostSecret); err != nil {
		h.fail(w, r, err)
		return
	}
	state, err := h.coordinator.RoomState(r.Context(), roomCode(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *RESTHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.coordinator.Advance(r.Context(), roomCode(r), req.HostSecret)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *RESTHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var sub domain.AnswerSubmission
	if !h.decode(w, r, &sub) {
		return
	}
	result, err := h.coordinator.SubmitAnswer(r.Context(), roomCode(r), sub)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *RESTHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.coordinator.Leaderboard(r.Context(), roomCode(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *RESTHandler) Export(w http.ResponseWriter, r *http.Request) {
	export, err := h.coordinator.Export(r.Context(), roomCode(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *RESTHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, fmt.Errorf("decode request: %v: %w", err, domain.ErrInvalid))
		return false
	}
	return true
}

func (h *RESTHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}

// roomCode reads the {code} path segment; codes are case-insensitive.
func roomCode(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("code")))
}
