package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/port"
)

var ErrQueueClosed = errors.New("ledger: import queue closed")

const (
	defaultMaxRetries = 3
	defaultQueueSize  = 1000
)

// LedgerService applies transitions to a part ledger and answers temporal
// queries over it.
type LedgerService struct {
	store   port.LedgerStore
	history port.ContainerHistory

	locker  port.ScopeLocker
	idem    port.IdempotencyCache
	catalog port.PartCatalog
	metrics port.Metrics
	logger  *slog.Logger
	now     func() time.Time

	resolvers  []ActorResolver
	maxRetries int

	queueMu     sync.RWMutex
	queueClosed bool
	importQueue chan domain.Transition
}

type Option func(*LedgerService)

func WithLocker(l port.ScopeLocker) Option { return func(s *LedgerService) { s.locker = l } }

func WithIdempotency(c port.IdempotencyCache) Option {
	return func(s *LedgerService) { s.idem = c }
}

func WithCatalog(c port.PartCatalog) Option { return func(s *LedgerService) { s.catalog = c } }

func WithMetrics(m port.Metrics) Option { return func(s *LedgerService) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *LedgerService) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *LedgerService) { s.now = now } }

// WithMaxRetries bounds how often a lost close re-runs candidate selection.
func WithMaxRetries(n int) Option { return func(s *LedgerService) { s.maxRetries = n } }

func WithQueueSize(n int) Option {
	return func(s *LedgerService) { s.importQueue = make(chan domain.Transition, n) }
}

// WithResolvers replaces the actor resolution chain.
func WithResolvers(rs ...ActorResolver) Option {
	return func(s *LedgerService) { s.resolvers = rs }
}

func NewLedgerService(store port.LedgerStore, history port.ContainerHistory, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:       store,
		history:     history,
		metrics:     port.NopMetrics{},
		logger:      slog.Default(),
		now:         time.Now,
		maxRetries:  defaultMaxRetries,
		importQueue: make(chan domain.Transition, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = newScopeMutex()
	}
	if s.resolvers == nil {
		s.resolvers = DefaultResolvers(store)
	}
	s.logger = s.logger.With(slog.String("component", "ledger"))
	return s
}

// Enqueue hands a bulk import to the worker pool. It blocks while the queue is
// full and fails once Close has been called.
func (s *LedgerService) Enqueue(ctx context.Context, t domain.Transition) error {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.queueClosed {
		return ErrQueueClosed
	}
	select {
	case s.importQueue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LedgerService) GetImportQueue() <-chan domain.Transition {
	return s.importQueue
}

// Close stops accepting imports. Queued transitions are still delivered to
// workers ranging over GetImportQueue.
func (s *LedgerService) Close() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queueClosed {
		return
	}
	s.queueClosed = true
	close(s.importQueue)
}
