package syncagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// TransientError marks a failure worth retrying: the network was unreachable
// or the server answered 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient network failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a definitive server-side rejection (4xx). Retrying the
// same payload can never succeed.
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected with status %d", e.StatusCode)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Transport performs the actual network calls for the agent. Each call is
// bounded by its own timeout; that timeout is the line between "slow" and
// "transient failure".
type Transport struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func NewTransport(baseURL string, timeout time.Duration, logger *logrus.Logger) *Transport {
	return &Transport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Send performs a queued mutation. The idempotency key travels in a header
// so a replay of the same logical mutation has effect at most once.
func (t *Transport) Send(ctx context.Context, m *Mutation) error {
	req, err := http.NewRequestWithContext(ctx, m.Method, t.baseURL+m.Endpoint, bytes.NewReader(m.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.Key)

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	default:
		return &RejectedError{StatusCode: resp.StatusCode}
	}
}

func (t *Transport) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	default:
		return nil, &RejectedError{StatusCode: resp.StatusCode}
	}
}
