// File: rpc/if_server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IfServer is the acceptor specialisation that manufactures Handlers and
// owns the worker pool behind the thread-pooled strategy.

package rpc

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/internal/concurrency"
	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/momentics/hioload-rpc/pool"
	"github.com/momentics/hioload-rpc/reactor"
)

// Strategy selects which goroutine processes a connection's input.
type Strategy int

const (
	// SingleThreaded processes every connection on the reactor goroutine.
	SingleThreaded Strategy = iota
	// ThreadPerConnection gives each connection its own goroutine doing
	// blocking reads.
	ThreadPerConnection
	// ThreadPooled hands readable connections from the reactor to a
	// dynamic ThreadPool.
	ThreadPooled
)

func (s Strategy) String() string {
	switch s {
	case SingleThreaded:
		return "single"
	case ThreadPerConnection:
		return "per-connection"
	case ThreadPooled:
		return "pooled"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy accepts the names String produces.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single-threaded":
		return SingleThreaded, nil
	case "per-connection", "thread-per-connection":
		return ThreadPerConnection, nil
	case "pooled", "thread-pooled":
		return ThreadPooled, nil
	}
	return SingleThreaded, fmt.Errorf("unknown strategy %q", s)
}

type ifConfig struct {
	strategy       Strategy
	minThreads     int
	maxThreads     int
	priority       int
	setPriority    bool
	stackSize      int
	cpus           []int
	queueSize      int
	scavengePeriod time.Duration
	ssp            SecurityProvider
	metrics        *control.MetricsRegistry
	log            *logrus.Entry
}

// Option configures an IfServer.
type Option func(*ifConfig)

func WithStrategy(s Strategy) Option {
	return func(c *ifConfig) { c.strategy = s }
}

// WithThreadPool bounds the dynamic pool used by ThreadPooled.
func WithThreadPool(minThreads, maxThreads int) Option {
	return func(c *ifConfig) {
		c.minThreads = minThreads
		c.maxThreads = maxThreads
	}
}

// WithThreadPriority sets the nice value of pool workers and connection
// goroutines.
func WithThreadPriority(nice int) Option {
	return func(c *ifConfig) {
		c.priority = nice
		c.setPriority = true
	}
}

// WithWorkerCPUs pins pool workers to cpus, round-robin.
func WithWorkerCPUs(cpus ...int) Option {
	return func(c *ifConfig) { c.cpus = append([]int(nil), cpus...) }
}

func WithStackSize(bytes int) Option {
	return func(c *ifConfig) { c.stackSize = bytes }
}

func WithQueueSize(n int) Option {
	return func(c *ifConfig) { c.queueSize = n }
}

func WithScavengePeriod(d time.Duration) Option {
	return func(c *ifConfig) { c.scavengePeriod = d }
}

func WithSecurityProvider(ssp SecurityProvider) Option {
	return func(c *ifConfig) { c.ssp = ssp }
}

func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *ifConfig) { c.metrics = m }
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *ifConfig) { c.log = l }
}

// IfServer accepts connections and serves the interfaces of a Dispatcher.
type IfServer struct {
	*reactor.Acceptor[*Handler]

	dispatcher *Dispatcher
	cfg        ifConfig
	log        *logrus.Entry
	pool       *concurrency.ThreadPool
	bufs       *pool.BufferPool

	nextChannel atomic.Uint32
	nextAssoc   atomic.Uint32

	mu     sync.Mutex
	live   map[*Handler]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewIfServer(d *Dispatcher, opts ...Option) *IfServer {
	cfg := ifConfig{
		strategy:   SingleThreaded,
		minThreads: 1,
		maxThreads: 4,
		queueSize:  concurrency.DefaultQueueSize,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logging.New("rpc")
	}
	s := &IfServer{
		dispatcher: d,
		cfg:        cfg,
		log:        cfg.log,
		bufs:       pool.NewBufferPool(RecvChunk),
		live:       make(map[*Handler]struct{}),
	}
	s.nextAssoc.Store(0x10000)
	s.Acceptor = reactor.NewAcceptor(func() *Handler { return newHandler(s) })
	s.Acceptor.OnError = func(stage string, err error) {
		s.log.WithField("category", "accept").WithError(err).Warnf("%s failed", stage)
	}
	return s
}

// Open starts the worker pool the strategy needs and begins accepting on
// peer through r.
func (s *IfServer) Open(peer reactor.PeerAcceptor, r *reactor.Reactor) error {
	if s.closed.Load() {
		return api.ErrClosed
	}
	if err := s.openPool(r); err != nil {
		return err
	}
	if err := s.Acceptor.Open(peer, r); err != nil {
		if s.pool != nil {
			s.pool.Close()
		}
		return err
	}
	s.log.Infof("serving on %s, strategy %s", peer.Addr(), s.cfg.strategy)
	return nil
}

// openPool starts the dynamic pool once, for the thread-pooled strategy.
func (s *IfServer) openPool(r *reactor.Reactor) error {
	if s.cfg.strategy != ThreadPooled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return nil
	}
	popts := []concurrency.PoolOption{
		concurrency.WithQueueSize(s.cfg.queueSize),
		concurrency.WithStackHint(s.cfg.stackSize),
		concurrency.WithPoolLogger(logging.New("threadpool")),
	}
	if s.cfg.scavengePeriod > 0 {
		popts = append(popts, concurrency.WithScavengePeriod(s.cfg.scavengePeriod))
	}
	if s.cfg.setPriority {
		popts = append(popts, concurrency.WithPriority(s.cfg.priority))
	}
	if len(s.cfg.cpus) > 0 {
		popts = append(popts, concurrency.WithCPUAffinity(s.cfg.cpus...))
	}
	p := concurrency.NewThreadPool(popts...)
	if err := p.OpenDynamic(r, s.cfg.minThreads, s.cfg.maxThreads, "rpc"); err != nil {
		return fmt.Errorf("rpc server pool: %w", err)
	}
	s.pool = p
	return nil
}

// Adopt serves an already connected stream through r as if it had been
// accepted, e.g. an inherited descriptor or one end of a stream pair.
func (s *IfServer) Adopt(st api.Stream, r *reactor.Reactor) (*Handler, error) {
	if s.closed.Load() {
		return nil, api.ErrClosed
	}
	if st == nil || r == nil {
		return nil, api.ErrInvalidArgument
	}
	if err := s.openPool(r); err != nil {
		return nil, err
	}
	h := newHandler(s)
	h.SetStream(st)
	h.SetReactor(r)
	if err := h.Open(s); err != nil {
		h.HandleClose(h.Handle(), reactor.NullMask)
		return nil, err
	}
	return h, nil
}

// Close stops accepting, shuts the worker pool and closes every open
// connection. Reactor-driven connections are unregistered from their reactor
// so a reactor that outlives the server holds none of them. Call it while
// the reactor loop is not dispatching.
func (s *IfServer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.Acceptor.Close()
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	if p != nil {
		p.Close()
	}
	s.mu.Lock()
	handlers := make([]*Handler, 0, len(s.live))
	for h := range s.live {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		if s.cfg.strategy == ThreadPerConnection {
			h.abort()
			continue
		}
		h.release()
	}
	s.wg.Wait()
	return err
}

// Strategy returns the configured concurrency strategy.
func (s *IfServer) Strategy() Strategy { return s.cfg.strategy }

// Connections returns the number of open connections.
func (s *IfServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// ThreadCount returns the live pool workers, zero without a pool.
func (s *IfServer) ThreadCount() int {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	if p == nil {
		return 0
	}
	return p.ThreadCount()
}

func (s *IfServer) track(h *Handler) {
	s.mu.Lock()
	s.live[h] = struct{}{}
	s.mu.Unlock()
	s.cfg.metrics.Inc(control.MetricConnections)
	s.cfg.metrics.Inc(control.MetricConnectionsActive)
}

func (s *IfServer) forget(h *Handler) {
	s.mu.Lock()
	_, ok := s.live[h]
	delete(s.live, h)
	s.mu.Unlock()
	if ok {
		s.cfg.metrics.Add(control.MetricConnectionsActive, -1)
	}
}
