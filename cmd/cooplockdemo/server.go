package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slon/cooplock/asyncqueue"
	"github.com/slon/cooplock/rwlock"
)

// stateSnapshot is the JSON shape served by /debug/state and pushed over
// /debug/stream.
type stateSnapshot struct {
	Lock  rwlock.Stats `json:"lock"`
	Queue int          `json:"queue_size"`
}

func snapshot(lock *rwlock.Lock, queue *asyncqueue.Queue[int]) stateSnapshot {
	return stateSnapshot{Lock: lock.Snapshot(), Queue: queue.Size()}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newRouter(lock *rwlock.Lock, queue *asyncqueue.Queue[int], reg *prometheus.Registry, clock clockwork.Clock, streamInterval time.Duration, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/debug/state", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot(lock, queue))
	})

	r.Get("/debug/stream", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ticker := clock.NewTicker(streamInterval)
		defer ticker.Stop()
		for range ticker.Chan() {
			if err := conn.WriteJSON(snapshot(lock, queue)); err != nil {
				return
			}
		}
	})

	return withAccessLog(logger, handlers.RecoveryHandler()(r))
}

// withAccessLog logs one structured line per request using httpsnoop to
// capture the status code and byte count without replacing
// http.ResponseWriter's other optional interfaces.
func withAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
		)
	})
}
