package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func newReplayHandler() *Handler {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewHandler(nil, nil, logger)
}

func TestServerErrorIsNotRecordedForReplay(t *testing.T) {
	h := newReplayHandler()

	calls := 0
	wrapped := h.idempotent(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"success":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/orders/o1/accept", nil)
		req.Header.Set("Idempotency-Key", "retry-1")
		rr := httptest.NewRecorder()
		wrapped(rr, req)
		return rr
	}

	if rr := send(); rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 on first attempt, got %d", rr.Code)
	}

	// The fault never completed the mutation, so the retry with the same key
	// must re-execute instead of getting the 500 handed back.
	if rr := send(); rr.Code != http.StatusOK {
		t.Errorf("Expected retry to re-execute and succeed, got %d", rr.Code)
	}
	if calls != 2 {
		t.Errorf("Expected handler to run twice, ran %d times", calls)
	}

	// The success is recorded; a further retry replays it without a third run.
	if rr := send(); rr.Code != http.StatusOK {
		t.Errorf("Expected replayed 200, got %d", rr.Code)
	}
	if calls != 2 {
		t.Errorf("Expected replay without re-execution, handler ran %d times", calls)
	}
}

func TestIdempotencyKeyScopedToEndpoint(t *testing.T) {
	h := newReplayHandler()

	calls := 0
	wrapped := h.idempotent(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})

	send := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Idempotency-Key", "shared-key")
		rr := httptest.NewRecorder()
		wrapped(rr, req)
		return rr
	}

	first := send("PATCH", "/api/orders/o1")
	second := send("POST", "/api/orders/o1/accept")
	if calls != 2 {
		t.Fatalf("Expected both endpoints to execute, handler ran %d times", calls)
	}
	if !strings.Contains(second.Body.String(), "/accept") {
		t.Errorf("Expected accept response, got replay of %s", second.Body.String())
	}

	// Same method, path and key does replay.
	third := send("PATCH", "/api/orders/o1")
	if calls != 2 {
		t.Errorf("Expected replay without re-execution, handler ran %d times", calls)
	}
	if third.Body.String() != first.Body.String() {
		t.Errorf("Expected identical replayed body, got %s vs %s", first.Body.String(), third.Body.String())
	}
}
