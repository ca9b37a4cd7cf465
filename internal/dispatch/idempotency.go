package dispatch

import (
	"net/http"
	"sync"
	"time"
)

// recordedResponse is a completed mutation response kept for replay. A retry
// carrying the same Idempotency-Key gets the stored response back instead of
// re-executing the mutation.
type recordedResponse struct {
	status     int
	body       []byte
	recordedAt time.Time
}

type replayCache struct {
	mu      sync.Mutex
	entries map[string]recordedResponse
	ttl     time.Duration
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		entries: make(map[string]recordedResponse),
		ttl:     ttl,
	}
}

func (c *replayCache) get(key string) (recordedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return recordedResponse{}, false
	}
	if time.Since(entry.recordedAt) > c.ttl {
		delete(c.entries, key)
		return recordedResponse{}, false
	}
	return entry, true
}

func (c *replayCache) put(key string, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if time.Since(e.recordedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = recordedResponse{status: status, body: body, recordedAt: time.Now()}
}

// recordingWriter captures status and body while still writing through.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

// idempotent wraps a mutating handler with replay protection keyed on the
// Idempotency-Key header. Requests without the header pass straight through.
// The key is scoped to method and path so one key reused against a different
// endpoint never replays the wrong response. Only responses below 500 are
// recorded: a server fault did not complete the mutation, so a retry with the
// same key must re-execute it.
func (h *Handler) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}
		cacheKey := r.Method + " " + r.URL.Path + " " + key

		if entry, ok := h.replays.get(cacheKey); ok {
			h.logger.WithField("idempotency_key", key).Info("Replaying recorded response")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(entry.status)
			w.Write(entry.body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w}
		next(rec, r)
		if rec.status < http.StatusInternalServerError {
			h.replays.put(cacheKey, rec.status, rec.body)
		}
	}
}
