package http

import (
	"net/http"

	"quiz-room-service/internal/metrics"
)

// NewRouter wires the REST and websocket handlers onto a mux.
func NewRouter(rest *RESTHandler, ws *WSHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.Middleware(endpoint, h))
	}
	route("POST /api/rooms", "create_room", rest.CreateRoom)
	route("POST /api/rooms/{code}/join", "join", rest.Join)
	route("GET /api/rooms/{code}", "room_state", rest.RoomState)
	route("POST /api/rooms/{code}/start", "start_question", rest.StartQuestion)
	route("POST /api/rooms/{code}/end", "end_question", rest.EndQuestion)
	route("POST /api/rooms/{code}/next", "advance", rest.Advance)
	route("POST /api/rooms/{code}/answer", "submit_answer", rest.SubmitAnswer)
	route("GET /api/leaderboard/{code}", "leaderboard", rest.Leaderboard)
	route("GET /api/rooms/{code}/export", "export", rest.Export)

	// websocket upgrades need the raw ResponseWriter, so no metrics wrapper
	mux.HandleFunc("GET /ws/{code}", ws.ServeWS)
	return mux
}
