package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Streams are the websocket endpoints mounted next to the JSON API.
type Streams struct {
	Feed   http.Handler
	Worker http.Handler
}

func NewRouter(h *Handlers, s Streams) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /rooms", h.HandleListRooms)
	mux.HandleFunc("POST /rooms", h.HandleSpawnRoom)
	mux.HandleFunc("DELETE /rooms/{code}", h.HandleRemoveRoom)
	mux.HandleFunc("GET /rooms/{code}/events", h.HandleListEvents)
	mux.HandleFunc("POST /rooms/{code}/actions", h.HandleAction)
	mux.HandleFunc("POST /rooms/{code}/worker-token", h.HandleMintWorkerToken)
	mux.HandleFunc("POST /rooms/{code}/player-token", h.HandleMintPlayerToken)

	mux.HandleFunc("POST /livekit/webhook", h.HandleWebhook)

	if s.Feed != nil {
		mux.Handle("GET /rooms/{code}/feed", s.Feed)
	}
	if s.Worker != nil {
		mux.Handle("GET /worker/ws", s.Worker)
	}

	return mux
}
