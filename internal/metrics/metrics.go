package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_rooms_created_total",
		Help: "Total number of rooms created",
	})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_rooms_active",
		Help: "Rooms held in memory that have not completed",
	})

	ParticipantsJoined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quiz_participants_joined_total",
		Help: "Total number of participants that joined a room",
	})

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_room_transitions_total",
			Help: "Room state transitions by target status",
		},
		[]string{"status"},
	)

	AnswersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Recorded answers by validation method and correctness",
		},
		[]string{"method", "correct"},
	)

	ValidationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quiz_answer_validation_seconds",
			Help:    "Time spent validating answers",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"mode"},
	)

	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_broadcast_events_total",
			Help: "Events fanned out to room connections",
		},
		[]string{"type"},
	)

	BroadcastDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_broadcast_drops_total",
			Help: "Deliveries dropped or connections pruned",
		},
		[]string{"reason"},
	)

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_ws_connections",
		Help: "Open websocket connections",
	})

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RoomsCreated,
		RoomsActive,
		ParticipantsJoined,
		Transitions,
		AnswersSubmitted,
		ValidationDuration,
		BroadcastsSent,
		BroadcastDrops,
		Connections,
		RequestCounter,
		RequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency under the given endpoint label.
func Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
