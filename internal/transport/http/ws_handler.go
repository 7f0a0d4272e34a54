package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/broadcast"
	"quiz-room-service/internal/domain"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size.
	maxMessageSize = 4096
)

// WSOptions limits inbound traffic per connection.
type WSOptions struct {
	MessagesPerSecond float64
	Burst             int
}

type WSHandler struct {
	coordinator *app.Coordinator
	hub         *broadcast.Hub
	logger      *zap.Logger
	opts        WSOptions
	upgrader    websocket.Upgrader
}

func NewWSHandler(coordinator *app.Coordinator, hub *broadcast.Hub, logger *zap.Logger, opts WSOptions) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	return &WSHandler{
		coordinator: coordinator,
		hub:         hub,
		logger:      logger,
		opts:        opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS subscribes a connection to a room's events. A participant_id query
// parameter binds the connection to that participant for answer submission.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	if _, err := h.coordinator.RoomState(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	participantID := r.URL.Query().Get("participant_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.String("room", code), zap.Error(err))
		return
	}

	client := h.hub.Register(code, participantID, conn)
	defer h.hub.Unregister(client)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.ping(conn, client, stopPing)

	limiter := rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.Burst)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("ws read ended", zap.String("room", code), zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			client.Send(errorEvent(code, "rate limit exceeded"))
			continue
		}

		switch inbound.Type {
		case "answer":
			var sub domain.AnswerSubmission
			if err := json.Unmarshal(inbound.Payload, &sub); err != nil {
				client.Send(errorEvent(code, "invalid answer payload"))
				continue
			}
			if participantID != "" {
				sub.ParticipantID = participantID
			}
			result, err := h.coordinator.SubmitAnswer(r.Context(), code, sub)
			if err != nil {
				client.Send(errorEvent(code, err.Error()))
				continue
			}
			client.Send(domain.Event{Type: domain.EventAnswerResult, RoomCode: code, Payload: result})
		default:
			client.Send(errorEvent(code, "unsupported message type"))
		}
	}
}

// ping keeps the peer alive. WriteControl may run alongside the hub's writer.
func (h *WSHandler) ping(conn *websocket.Conn, client *broadcast.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-client.Done():
			return
		case <-stop:
			return
		}
	}
}

func errorEvent(code, message string) domain.Event {
	return domain.Event{Type: domain.EventError, RoomCode: code, Payload: domain.ErrorPayload{Message: message}}
}
