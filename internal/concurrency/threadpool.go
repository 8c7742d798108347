// File: internal/concurrency/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadPool services reactor handlers off the reactor thread. Workers pull
// jobs from a bounded TaskQueue; a nil job retires one worker. A dynamic
// pool grows on queue-full and is shrunk by a reactor-driven scavenger.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/momentics/hioload-rpc/reactor"
)

// DefaultScavengePeriod is how often a dynamic pool checks for idle workers.
const DefaultScavengePeriod = 5 * time.Second

// DefaultQueueSize bounds the job queue when no size is configured.
const DefaultQueueSize = 64

// Job is the unit of work a pool worker runs. Every reactor.EventHandler
// satisfies it.
type Job interface {
	Handle() int
	HandleInput(handle int) int
	HandleClose(handle int, mask reactor.EventMask) int
}

// PoolOption configures a ThreadPool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	priority       int
	setPriority    bool
	stackHint      int
	cpus           []int
	queueSize      int
	scavengePeriod time.Duration
	log            *logrus.Entry
}

// WithPriority sets the nice value each worker applies to its OS thread.
func WithPriority(nice int) PoolOption {
	return func(c *poolConfig) {
		c.priority = nice
		c.setPriority = true
	}
}

// WithCPUAffinity pins workers to cpus, assigned round-robin in start
// order. Pinning failures are logged and the worker runs unpinned.
func WithCPUAffinity(cpus ...int) PoolOption {
	return func(c *poolConfig) { c.cpus = append([]int(nil), cpus...) }
}

// WithStackHint records the requested worker stack size. Goroutine stacks
// are managed by the runtime, so the value is informational.
func WithStackHint(bytes int) PoolOption {
	return func(c *poolConfig) { c.stackHint = bytes }
}

// WithQueueSize bounds the job queue.
func WithQueueSize(n int) PoolOption {
	return func(c *poolConfig) { c.queueSize = n }
}

// WithScavengePeriod overrides DefaultScavengePeriod.
func WithScavengePeriod(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.scavengePeriod = d }
}

// WithPoolLogger replaces the pool's logger.
func WithPoolLogger(l *logrus.Entry) PoolOption {
	return func(c *poolConfig) { c.log = l }
}

// ThreadPool is a TaskQueue of jobs serviced by worker goroutines.
type ThreadPool struct {
	queue *TaskQueue[Job]
	cfg   poolConfig
	log   *logrus.Entry

	mu       sync.Mutex // guards the counters below, never held with the queue lock
	threads  int
	retiring int
	started  int
	min, max int
	name     string
	open     bool
	closed   bool

	r         *reactor.Reactor
	scavenger *scavenger
}

// NewThreadPool builds an unopened pool.
func NewThreadPool(opts ...PoolOption) *ThreadPool {
	cfg := poolConfig{
		queueSize:      DefaultQueueSize,
		scavengePeriod: DefaultScavengePeriod,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logging.New("threadpool")
	}
	if cfg.scavengePeriod <= 0 {
		cfg.scavengePeriod = DefaultScavengePeriod
	}
	return &ThreadPool{
		queue: NewTaskQueue[Job](cfg.queueSize),
		cfg:   cfg,
		log:   cfg.log,
	}
}

// Open starts maxThreads fixed workers.
func (p *ThreadPool) Open(maxThreads int, name string) error {
	if maxThreads < 1 {
		return ErrInvalidWorkerCount
	}
	if err := p.start(maxThreads, maxThreads, name); err != nil {
		return err
	}
	for i := 0; i < maxThreads; i++ {
		p.ThreadAdd()
	}
	return nil
}

// OpenDynamic starts minThreads workers, lets the pool grow up to maxThreads
// whenever the queue fills, and registers a scavenger timer with r that
// retires idle workers down to minThreads.
func (p *ThreadPool) OpenDynamic(r *reactor.Reactor, minThreads, maxThreads int, name string) error {
	if minThreads < 1 || maxThreads < minThreads {
		return ErrInvalidWorkerCount
	}
	if r == nil {
		return fmt.Errorf("threadpool %s: nil reactor", name)
	}
	if err := p.start(minThreads, maxThreads, name); err != nil {
		return err
	}
	p.queue.SetFullHandler(p.ThreadAdd)
	for i := 0; i < minThreads; i++ {
		p.ThreadAdd()
	}
	p.r = r
	p.scavenger = &scavenger{pool: p}
	if err := r.TimerAdd(p.scavenger, reactor.FromDuration(p.cfg.scavengePeriod)); err != nil {
		p.scavenger = nil
		p.Close()
		return fmt.Errorf("threadpool %s: scavenger: %w", name, err)
	}
	return nil
}

func (p *ThreadPool) start(minThreads, maxThreads int, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.open {
		return ErrPoolOpen
	}
	p.open = true
	p.min, p.max, p.name = minThreads, maxThreads, name
	p.log = p.log.WithField("category", name)
	return nil
}

// Enqueue hands job to a worker, blocking while the queue is full.
func (p *ThreadPool) Enqueue(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	// Close may seal the queue while we wait for room
	if err := p.queue.Add(job); err != nil {
		return ErrPoolClosed
	}
	return nil
}

// ThreadAdd spawns one worker unless the pool is at its maximum. It reports
// whether a worker was started.
func (p *ThreadPool) ThreadAdd() bool {
	p.mu.Lock()
	if p.closed || !p.open || p.threads-p.retiring >= p.max {
		p.mu.Unlock()
		return false
	}
	p.threads++
	n := p.threads
	cpu := -1
	if len(p.cfg.cpus) > 0 {
		cpu = p.cfg.cpus[p.started%len(p.cfg.cpus)]
	}
	p.started++
	p.mu.Unlock()

	p.log.Debugf("worker started, %d live", n)
	go p.serve(cpu)
	return true
}

// ThreadReaper retires idle workers, never going below the minimum. Idle is
// estimated as live workers minus queued jobs.
func (p *ThreadPool) ThreadReaper() int {
	if p.queue.Full() {
		return 0
	}
	queued := p.queue.Len()

	p.mu.Lock()
	live := p.threads - p.retiring
	jobs := queued - p.retiring
	if jobs < 0 {
		jobs = 0
	}
	idle := live - jobs
	if spare := live - p.min; idle > spare {
		idle = spare
	}
	if idle <= 0 || p.closed {
		p.mu.Unlock()
		return 0
	}
	p.retiring += idle
	p.mu.Unlock()

	posted := 0
	for ; posted < idle; posted++ {
		if !p.queue.TryAdd(nil) {
			break
		}
	}
	if posted < idle {
		p.mu.Lock()
		p.retiring -= idle - posted
		p.mu.Unlock()
	}
	if posted > 0 {
		p.log.Debugf("retiring %d idle workers", posted)
	}
	return posted
}

// ThreadCount returns the number of live workers, including ones that have
// been asked to retire but have not exited yet.
func (p *ThreadPool) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads
}

// QueueLen returns the number of pending jobs and sentinels.
func (p *ThreadPool) QueueLen() int {
	return p.queue.Len()
}

// Close stops the scavenger, closes every job still queued, retires all
// workers and waits for them to exit. It must not be called from a worker.
func (p *ThreadPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sc, r := p.scavenger, p.r
	p.scavenger = nil
	p.mu.Unlock()

	if sc != nil && r != nil {
		_ = r.TimerRemove(sc)
	}

	// sealing and draining is one step, so no job lands after the drain;
	// idle workers wake to the closed, empty queue and exit
	for _, job := range p.queue.Close() {
		if job != nil {
			job.HandleClose(job.Handle(), reactor.ReadMask)
		}
	}
	p.mu.Lock()
	p.retiring = p.threads
	p.mu.Unlock()

	for p.ThreadCount() > 0 {
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	p.log.Debug("pool closed")
	return nil
}

func (p *ThreadPool) serve(cpu int) {
	if p.cfg.setPriority || cpu >= 0 {
		// the adjusted thread stays locked and dies with the worker
		runtime.LockOSThread()
	}
	if p.cfg.setPriority {
		if err := SetThreadPriority(p.cfg.priority); err != nil {
			p.log.WithError(err).Debug("worker priority not applied")
		}
	}
	if cpu >= 0 {
		if err := PinCurrentThread(cpu); err != nil {
			p.log.WithError(err).Debug("worker not pinned")
		}
	}
	defer p.exit()
	for {
		job := p.queue.Remove()
		if job == nil {
			return
		}
		p.run(job)
	}
}

func (p *ThreadPool) run(job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Errorf("job panicked: %v", rec)
			job.HandleClose(job.Handle(), reactor.ReadMask)
		}
	}()
	h := job.Handle()
	if job.HandleInput(h) < 0 {
		job.HandleClose(h, reactor.ReadMask)
	}
}

func (p *ThreadPool) exit() {
	p.mu.Lock()
	p.threads--
	if p.retiring > 0 {
		p.retiring--
	}
	n := p.threads
	p.mu.Unlock()
	p.log.Debugf("worker exited, %d live", n)
}

// scavenger is the timer-only handler that drives ThreadReaper.
type scavenger struct {
	reactor.BaseHandler
	pool *ThreadPool
}

func (s *scavenger) HandleTimeout(reactor.TimeValue) int {
	s.pool.ThreadReaper()
	return 0
}

func (s *scavenger) HandleClose(int, reactor.EventMask) int {
	return 0
}
