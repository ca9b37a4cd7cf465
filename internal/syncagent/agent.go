package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrOfflineNoCache = errors.New("offline and no cached response available")

type Config struct {
	BaseURL            string
	RequestTimeout     time.Duration
	MaxRetries         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	CacheTTL           time.Duration
	DrainInterval      time.Duration
	OnPermanentFailure func(Mutation)
}

// Agent is the offline-first layer a mobile client routes its API calls
// through. Mutations made while disconnected land in a durable queue and are
// replayed in order once connectivity returns; reads are served from a TTL
// cache with stale fallback. Connectivity and lifecycle changes arrive as
// explicit notifications; the agent installs no global listeners.
type Agent struct {
	cfg       Config
	store     *QueueStore
	transport *Transport
	logger    *logrus.Logger

	mu         sync.Mutex
	online     bool
	foreground bool
	drainStop  context.CancelFunc

	drainMu sync.Mutex

	tickerStop chan struct{}
	tickerDone chan struct{}
}

func New(cfg Config, store *QueueStore, logger *logrus.Logger) *Agent {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 15 * time.Second
	}

	return &Agent{
		cfg:        cfg,
		store:      store,
		transport:  NewTransport(cfg.BaseURL, cfg.RequestTimeout, logger),
		logger:     logger,
		foreground: true,
	}
}

func (a *Agent) Online() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online
}

// SetOnline is the explicit connectivity notification. The offline->online
// edge triggers a drain.
func (a *Agent) SetOnline(online bool) {
	a.mu.Lock()
	wasOnline := a.online
	a.online = online
	foreground := a.foreground
	a.mu.Unlock()

	a.logger.WithField("online", online).Info("Connectivity changed")

	if online && !wasOnline && foreground {
		go a.Drain(a.newDrainContext())
	}
}

// EnterForeground is the app-lifecycle notification; it resumes draining.
func (a *Agent) EnterForeground() {
	a.mu.Lock()
	a.foreground = true
	online := a.online
	a.mu.Unlock()

	if online {
		go a.Drain(a.newDrainContext())
	}
}

// EnterBackground stops the drain loop after the in-flight mutation
// completes; the next queued item waits for the next drain trigger.
func (a *Agent) EnterBackground() {
	a.mu.Lock()
	a.foreground = false
	stop := a.drainStop
	a.drainStop = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (a *Agent) newDrainContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.drainStop != nil {
		a.drainStop()
	}
	a.drainStop = cancel
	a.mu.Unlock()
	return ctx
}

// Start runs the periodic drain ticker until Close.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.tickerStop != nil {
		a.mu.Unlock()
		return
	}
	a.tickerStop = make(chan struct{})
	a.tickerDone = make(chan struct{})
	stop, done := a.tickerStop, a.tickerDone
	a.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(a.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.mu.Lock()
				ready := a.online && a.foreground
				a.mu.Unlock()
				if ready {
					a.Drain(a.newDrainContext())
				}
			case <-stop:
				return
			}
		}
	}()
}

func (a *Agent) Close() {
	a.mu.Lock()
	stop, done := a.tickerStop, a.tickerDone
	a.tickerStop, a.tickerDone = nil, nil
	cancel := a.drainStop
	a.drainStop = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stop != nil {
		close(stop)
		<-done
	}
}

// EnqueueOrSend sends the mutation immediately when online; when offline, or
// when the immediate attempt fails transiently, the mutation is persisted
// for replay. A missing idempotency key is generated.
func (a *Agent) EnqueueOrSend(ctx context.Context, m Mutation) error {
	if m.Key == "" {
		m.Key = uuid.New().String()
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}

	if a.Online() {
		err := a.transport.Send(ctx, &m)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		a.logger.WithError(err).WithFields(logrus.Fields{
			"endpoint": m.Endpoint,
			"key":      m.Key,
		}).Warn("Send failed, queuing mutation for replay")
	} else {
		a.logger.WithFields(logrus.Fields{
			"endpoint": m.Endpoint,
			"key":      m.Key,
		}).Info("Offline, queuing mutation")
	}

	return a.store.Append(&m)
}

// Drain replays queued mutations strictly in enqueue order, one at a time.
// A transient failure schedules the head for a later attempt and the pass
// waits out that backoff before retrying it; nothing behind the head is
// replayed early, since that would break the caller's ordering. The wait is
// interruptible: cancelling ctx (going offline or backgrounding) ends the
// pass immediately.
func (a *Agent) Drain(ctx context.Context) error {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info("Drain interrupted")
			return err
		}

		m, storageKey, err := a.store.First()
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}

		if wait := time.Until(m.NextAttempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				a.logger.Info("Drain interrupted during backoff")
				return ctx.Err()
			}
		}

		// The in-flight call gets its own timeout-bounded context so a
		// backgrounding event never aborts it mid-request.
		reqCtx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
		err = a.transport.Send(reqCtx, m)
		cancel()

		if err == nil {
			if err := a.store.Delete(storageKey); err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{
				"endpoint": m.Endpoint,
				"key":      m.Key,
			}).Info("Queued mutation replayed")
			continue
		}

		if !IsTransient(err) {
			a.fail(storageKey, m, err)
			continue
		}

		m.Retries++
		m.LastError = err.Error()
		if m.Retries > a.cfg.MaxRetries {
			a.fail(storageKey, m, err)
			continue
		}

		m.NextAttempt = time.Now().Add(a.backoff(m.Retries))
		if err := a.store.Update(storageKey, m); err != nil {
			return err
		}
		a.logger.WithFields(logrus.Fields{
			"endpoint": m.Endpoint,
			"key":      m.Key,
			"retries":  m.Retries,
		}).Warn("Replay failed, will retry")
	}
}

// fail moves a mutation out of the active queue and surfaces it; it is never
// silently dropped.
func (a *Agent) fail(storageKey []byte, m *Mutation, cause error) {
	m.LastError = cause.Error()
	if err := a.store.MoveToFailed(storageKey, m); err != nil {
		a.logger.WithError(err).Error("Failed to record permanent failure")
		return
	}
	a.logger.WithFields(logrus.Fields{
		"endpoint": m.Endpoint,
		"key":      m.Key,
		"retries":  m.Retries,
		"cause":    cause.Error(),
	}).Error("Mutation permanently failed")

	if a.cfg.OnPermanentFailure != nil {
		a.cfg.OnPermanentFailure(*m)
	}
}

func (a *Agent) backoff(retries int) time.Duration {
	d := a.cfg.InitialBackoff
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= a.cfg.MaxBackoff {
			return a.cfg.MaxBackoff
		}
	}
	if d > a.cfg.MaxBackoff {
		d = a.cfg.MaxBackoff
	}
	return d
}

// Get serves a read through the cache: a fresh entry skips the network, an
// expired or missing entry triggers a fetch, and on network failure a stale
// entry is returned as a degraded response rather than failing outright.
// The second return value reports staleness.
func (a *Agent) Get(ctx context.Context, endpoint string) (json.RawMessage, bool, error) {
	entry, cached := a.store.CacheGet(endpoint)
	if cached && time.Since(entry.FetchedAt) <= a.cfg.CacheTTL {
		return entry.Body, false, nil
	}

	body, err := a.transport.Fetch(ctx, endpoint)
	if err == nil {
		if cacheErr := a.store.CachePut(endpoint, body, time.Now()); cacheErr != nil {
			a.logger.WithError(cacheErr).Warn("Failed to refresh read cache")
		}
		return body, false, nil
	}

	if cached && IsTransient(err) {
		a.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"age":      time.Since(entry.FetchedAt).String(),
		}).Warn("Network unavailable, serving stale cache entry")
		return entry.Body, true, nil
	}

	if IsTransient(err) {
		return nil, false, ErrOfflineNoCache
	}
	return nil, false, err
}

// Failed lists mutations that exhausted their retry budget.
func (a *Agent) Failed() ([]Mutation, error) {
	return a.store.Failed()
}

// DismissFailed acknowledges a surfaced permanent failure.
func (a *Agent) DismissFailed(key string) error {
	return a.store.DismissFailed(key)
}

// Pending reports how many mutations wait in the active queue.
func (a *Agent) Pending() (int, error) {
	return a.store.Pending()
}
