package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/Metarr-sub001/internal/domain"
	"github.com/jsaddiction/Metarr-sub001/internal/queue"
)

// Config tunes the queue service. Zero values fall back to defaults suited
// to a single-writer embedded store.
type Config struct {
	// Workers is the number of concurrent claim loops. Keep it small when
	// the store is SQLite; scale up on Postgres.
	Workers int

	// PollMin and PollMax bound the adaptive idle poll interval.
	PollMin time.Duration
	PollMax time.Duration

	// StaleAfter is the claim age past which a processing job is presumed
	// orphaned by a crashed worker.
	StaleAfter time.Duration

	// BreakerThreshold consecutive failures open the circuit breaker;
	// BreakerCooldown must elapse before a probe is attempted.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.PollMin <= 0 {
		c.PollMin = 100 * time.Millisecond
	}
	if c.PollMax < c.PollMin {
		c.PollMax = 2 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Service is the queue facade: job submission, handler registration, the
// worker pool lifecycle, crash recovery and transition notifications.
// Construct one per process (or per test); there is no package-level
// instance.
type Service struct {
	cfg      Config
	store    queue.Store
	registry *Registry
	breaker  *Breaker
	workerID string

	subMu   sync.RWMutex
	subs    map[int]func(domain.Transition)
	nextSub int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(store queue.Store, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(),
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		workerID: "wrk_" + uuid.NewString(),
		subs:     make(map[int]func(domain.Transition)),
	}
}

// Register binds h to its job type. Call during bootstrap, before Start;
// duplicate registration is a configuration error.
func (s *Service) Register(h Handler) error {
	return s.registry.Register(h)
}

// Submit validates the payload against the declared shape for t and
// persists a pending job. payload may be a typed payload struct or raw
// JSON bytes. maxAttempts <= 0 uses the store default.
func (s *Service) Submit(ctx context.Context, t domain.JobType, payload any, priority, maxAttempts int) (string, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		var err error
		raw, err = domain.EncodePayload(t, payload)
		if err != nil {
			return "", err
		}
	}
	if _, err := domain.DecodePayload(t, raw); err != nil {
		return "", err
	}

	id, err := s.store.Add(ctx, domain.Job{
		Type:        t,
		Payload:     raw,
		Priority:    priority,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return "", fmt.Errorf("submit %s job: %w", t, err)
	}
	log.Debug().Str("job_id", id).Str("type", string(t)).Int("priority", priority).Msg("job submitted")
	return id, nil
}

// Subscribe registers fn for every job transition and returns its cancel
// function. Callbacks run on worker goroutines; keep them fast and
// non-blocking.
func (s *Service) Subscribe(fn func(domain.Transition)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Service) emit(tr domain.Transition) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(tr)
	}
}

// BreakerState exposes the circuit breaker position for health reporting.
func (s *Service) BreakerState() BreakerState { return s.breaker.State() }

// Start recovers jobs orphaned by a previous process incarnation, then
// spawns the worker loops. A store failure during recovery aborts startup.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("queue service already started")
	}

	ids, err := s.store.ResetStale(ctx, s.cfg.StaleAfter, time.Now())
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	if len(ids) > 0 {
		log.Info().Int("count", len(ids)).Strs("job_ids", ids).Msg("recovered stale jobs")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.runWorker(runCtx, i)
	}
	s.started = true
	log.Info().Int("workers", s.cfg.Workers).Str("worker_id", s.workerID).Msg("queue service started")
	return nil
}

// Stop tells the workers to stop claiming and waits up to grace for
// in-flight handlers to finish. Handlers are never killed mid-execution;
// anything still processing after grace is recovered by ResetStale on the
// next start.
func (s *Service) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("queue service stopped")
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("queue service stop timed out with handlers in flight")
	}
}
