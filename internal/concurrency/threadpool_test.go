// File: internal/concurrency/threadpool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-rpc/reactor"
)

type testJob struct {
	handle  int
	release chan struct{}
	result  int
	ran     *atomic.Int32
	closed  atomic.Int32
}

func (j *testJob) Handle() int { return j.handle }

func (j *testJob) HandleInput(int) int {
	if j.release != nil {
		<-j.release
	}
	if j.ran != nil {
		j.ran.Add(1)
	}
	return j.result
}

func (j *testJob) HandleClose(int, reactor.EventMask) int {
	j.closed.Add(1)
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestThreadPoolFixed(t *testing.T) {
	p := NewThreadPool()
	if err := p.Open(3, "fixed"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := p.ThreadCount(); got != 3 {
		t.Fatalf("ThreadCount = %d, want 3", got)
	}
	if p.ThreadAdd() {
		t.Fatal("fixed pool grew past its size")
	}
	if err := p.Open(3, "again"); !errors.Is(err, ErrPoolOpen) {
		t.Fatalf("second Open = %v, want ErrPoolOpen", err)
	}

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if err := p.Enqueue(&testJob{handle: i, ran: &ran}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitFor(t, "jobs", func() bool { return ran.Load() == 10 })

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := p.ThreadCount(); got != 0 {
		t.Fatalf("ThreadCount after Close = %d", got)
	}
	if err := p.Enqueue(&testJob{}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Enqueue after Close = %v, want ErrPoolClosed", err)
	}
}

func TestThreadPoolInvalidArguments(t *testing.T) {
	p := NewThreadPool()
	if err := p.Open(0, "zero"); !errors.Is(err, ErrInvalidWorkerCount) {
		t.Fatalf("Open(0) = %v", err)
	}
	if err := p.OpenDynamic(nil, 2, 1, "inverted"); !errors.Is(err, ErrInvalidWorkerCount) {
		t.Fatalf("OpenDynamic(2,1) = %v", err)
	}
	if err := p.Enqueue(nil); !errors.Is(err, ErrNilJob) {
		t.Fatalf("Enqueue(nil) = %v", err)
	}
}

func TestThreadPoolNegativeInputCloses(t *testing.T) {
	p := NewThreadPool()
	if err := p.Open(1, "neg"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	j := &testJob{handle: 7, result: -1}
	if err := p.Enqueue(j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "HandleClose", func() bool { return j.closed.Load() == 1 })
}

func TestThreadPoolCloseDrainsQueue(t *testing.T) {
	p := NewThreadPool(WithQueueSize(4))
	if err := p.Open(1, "drain"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	release := make(chan struct{})
	var ran atomic.Int32
	busy := &testJob{release: release, ran: &ran}
	if err := p.Enqueue(busy); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "worker pickup", func() bool { return p.QueueLen() == 0 })

	queued := []*testJob{{handle: 1}, {handle: 2}}
	for _, j := range queued {
		if err := p.Enqueue(j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	waitFor(t, "queued jobs closed", func() bool {
		return queued[0].closed.Load() == 1 && queued[1].closed.Load() == 1
	})
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	if ran.Load() != 1 {
		t.Fatalf("busy job ran %d times", ran.Load())
	}
	if busy.closed.Load() != 0 {
		t.Fatal("running job was closed by Close")
	}
}

func TestThreadPoolCloseRefusesBlockedProducer(t *testing.T) {
	p := NewThreadPool(WithQueueSize(1))
	if err := p.Open(1, "seal"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	release := make(chan struct{})
	var busyRan, lateRan atomic.Int32
	busy := &testJob{release: release, ran: &busyRan}
	if err := p.Enqueue(busy); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "worker pickup", func() bool { return p.QueueLen() == 0 })
	filler := &testJob{handle: 1}
	if err := p.Enqueue(filler); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	late := &testJob{handle: 2, ran: &lateRan}
	refused := make(chan error, 1)
	go func() { refused <- p.Enqueue(late) }()
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-refused:
		if !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("blocked Enqueue = %v, want ErrPoolClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	if filler.closed.Load() != 1 {
		t.Fatal("queued job not closed by Close")
	}
	if lateRan.Load() != 0 || late.closed.Load() != 0 {
		t.Fatalf("refused job touched by the pool: ran %d closed %d", lateRan.Load(), late.closed.Load())
	}
	if err := p.Enqueue(&testJob{}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Enqueue after Close = %v", err)
	}
}

func TestThreadPoolBoundedGrowthAndShrink(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	defer r.Close()

	p := NewThreadPool(WithQueueSize(1), WithScavengePeriod(time.Hour))
	if err := p.OpenDynamic(r, 1, 4, "dynamic"); err != nil {
		t.Fatalf("OpenDynamic: %v", err)
	}
	if r.TimerCount() != 1 {
		t.Fatalf("scavenger not registered, %d timers", r.TimerCount())
	}

	const jobs = 12
	release := make(chan struct{})
	var ran atomic.Int32
	var peak atomic.Int32
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := int32(p.ThreadCount()); n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	enqueued := make(chan struct{})
	go func() {
		for i := 0; i < jobs; i++ {
			_ = p.Enqueue(&testJob{handle: i, release: release, ran: &ran})
		}
		close(enqueued)
	}()

	waitFor(t, "growth to 4", func() bool { return p.ThreadCount() == 4 })
	close(release)
	<-enqueued
	waitFor(t, "all jobs", func() bool { return ran.Load() == jobs })
	close(stop)

	if got := peak.Load(); got > 4 {
		t.Fatalf("pool grew to %d workers, max is 4", got)
	}

	waitFor(t, "shrink to 1", func() bool {
		p.ThreadReaper()
		return p.ThreadCount() == 1
	})
	// already at the minimum
	time.Sleep(10 * time.Millisecond)
	if n := p.ThreadReaper(); n != 0 {
		t.Fatalf("ThreadReaper retired %d workers at minimum", n)
	}
	if got := p.ThreadCount(); got != 1 {
		t.Fatalf("ThreadCount = %d, want 1", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.TimerCount() != 0 {
		t.Fatal("scavenger still armed after Close")
	}
}

func TestScavengerDrivesReaper(t *testing.T) {
	p := NewThreadPool()
	p.start(1, 3, "scavenge")
	for i := 0; i < 3; i++ {
		p.ThreadAdd()
	}
	s := &scavenger{pool: p}
	if rc := s.HandleTimeout(reactor.ZeroTime); rc != 0 {
		t.Fatalf("HandleTimeout = %d, want 0", rc)
	}
	waitFor(t, "shrink", func() bool { return p.ThreadCount() == 1 })
	p.Close()
}

func TestThreadPoolWorkerPriority(t *testing.T) {
	if _, err := ThreadPriority(); err != nil {
		t.Skipf("thread priority unavailable: %v", err)
	}
	p := NewThreadPool(WithPriority(5))
	if err := p.Open(1, "nice"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	got := make(chan int, 1)
	j := &priorityJob{got: got}
	if err := p.Enqueue(j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case nice := <-got:
		if nice != 5 {
			t.Fatalf("worker nice = %d, want 5", nice)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

type priorityJob struct {
	got chan int
}

func (j *priorityJob) Handle() int { return 0 }

func (j *priorityJob) HandleInput(int) int {
	nice, _ := ThreadPriority()
	j.got <- nice
	return 0
}

func (j *priorityJob) HandleClose(int, reactor.EventMask) int { return 0 }
