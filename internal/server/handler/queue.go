package handler

import (
	"net/http"
)

// QueueView is the read surface the queue handler requires.
type QueueView interface {
	Len() int
	Cap() int
}

// QueueHandler serves the candidate queue depth snapshot.
type QueueHandler struct {
	queue QueueView
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(queue QueueView) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// GetQueue returns the current queue depth and capacity.
// GET /api/queue
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	length := h.queue.Len()
	capacity := h.queue.Cap()
	writeJSON(w, http.StatusOK, map[string]any{
		"length":   length,
		"capacity": capacity,
		"free":     capacity - length,
	})
}
