// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// select(2)-based Reactor: handle/handler maps, handle sets, interval timers
// and a self-pipe wakeup, dispatched from one loop goroutine.

package reactor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotRegistered is returned when removing a handler or timer that is unknown.
	ErrNotRegistered = errors.New("reactor: handler not registered")
	// ErrHandleInUse is returned when a handle is already owned by another handler.
	ErrHandleInUse = errors.New("reactor: handle registered to another handler")
	// ErrClosed is returned by operations on a closed reactor.
	ErrClosed = errors.New("reactor: closed")
)

type timerEntry struct {
	interval  TimeValue
	remaining TimeValue
}

// Reactor demultiplexes I/O readiness and timer expiry to EventHandlers.
//
// All maps and handle sets are guarded by mu, which is never held across
// select(2) or a handler callback, so callbacks may re-enter HandlerAdd,
// HandlerRemove, TimerAdd and TimerRemove. The loop itself runs on exactly
// one goroutine; any goroutine may register or unregister.
type Reactor struct {
	mu        sync.Mutex
	handlers  map[int]EventHandler
	handles   map[EventHandler]int
	masks     map[int]EventMask
	readSet   HandleSet
	writeSet  HandleSet
	exceptSet HandleSet
	timers    map[EventHandler]*timerEntry
	wakeup    *wakeupHandler
	endLoop   atomic.Bool
	closed    atomic.Bool

	log *logrus.Entry
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithLogger replaces the reactor's diagnostic logger.
func WithLogger(l *logrus.Entry) Option {
	return func(r *Reactor) { r.log = l }
}

// New creates a reactor with its wakeup pipe registered. A failure to build
// the wakeup channel leaves no usable reactor and is returned as an error.
func New(opts ...Option) (*Reactor, error) {
	r := &Reactor{
		handlers:  make(map[int]EventHandler),
		handles:   make(map[EventHandler]int),
		masks:     make(map[int]EventMask),
		readSet:   NewHandleSet(),
		writeSet:  NewHandleSet(),
		exceptSet: NewHandleSet(),
		timers:    make(map[EventHandler]*timerEntry),
		log:       logging.New("reactor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	w, err := newWakeupHandler()
	if err != nil {
		r.endLoop.Store(true)
		return nil, api.Wrap(api.ErrCodeResourceExhausted, "reactor wakeup pipe", err)
	}
	r.wakeup = w
	w.SetReactor(r)
	r.mu.Lock()
	err = r.registerLocked(w, ReadMask)
	r.mu.Unlock()
	if err != nil {
		w.close()
		r.endLoop.Store(true)
		return nil, err
	}
	return r, nil
}

var (
	defaultOnce    sync.Once
	defaultReactor *Reactor
	defaultErr     error
)

// Default returns a lazily built process-wide reactor that is never closed.
// It is meant for top-level wiring only; components receive their reactor
// explicitly.
func Default() (*Reactor, error) {
	defaultOnce.Do(func() {
		defaultReactor, defaultErr = New()
	})
	return defaultReactor, defaultErr
}

func (r *Reactor) registerLocked(h EventHandler, mask EventMask) error {
	handle := h.Handle()
	if !validHandle(handle) {
		return fmt.Errorf("reactor: register handle %d: %w", handle, api.ErrInvalidHandle)
	}
	if owner, ok := r.handlers[handle]; ok && owner != h {
		return ErrHandleInUse
	}
	if prev, ok := r.handles[h]; ok && prev != handle {
		return fmt.Errorf("reactor: handler already registered on handle %d: %w", prev, api.ErrAlreadyExists)
	}
	if mask&readClass != 0 {
		r.readSet.Set(handle)
	}
	if mask&WriteMask != 0 {
		r.writeSet.Set(handle)
	}
	if mask&ExceptMask != 0 {
		r.exceptSet.Set(handle)
	}
	r.handlers[handle] = h
	r.handles[h] = handle
	r.masks[handle] |= mask & AllEventsMask
	if h.Reactor() == nil {
		h.SetReactor(r)
	}
	return nil
}

// HandlerAdd registers h's handle for the events in mask and wakes the loop.
func (r *Reactor) HandlerAdd(h EventHandler, mask EventMask) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	err := r.registerLocked(h, mask)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.log.WithField("category", "register").Debugf("handle %d added for %s", h.Handle(), mask)
	r.Notify()
	return nil
}

// removeLocked clears mask for h and returns the handle and the bits that
// were actually removed. Map entries go once no event remains registered.
func (r *Reactor) removeLocked(h EventHandler, mask EventMask) (int, EventMask, bool) {
	handle, ok := r.handles[h]
	if !ok {
		return InvalidHandle, NullMask, false
	}
	removed := r.masks[handle] & mask & AllEventsMask
	remaining := r.masks[handle] &^ removed
	if remaining&readClass == 0 {
		r.readSet.Clr(handle)
	}
	if remaining&WriteMask == 0 {
		r.writeSet.Clr(handle)
	}
	if remaining&ExceptMask == 0 {
		r.exceptSet.Clr(handle)
	}
	if remaining == NullMask {
		delete(r.handlers, handle)
		delete(r.handles, h)
		delete(r.masks, handle)
	} else {
		r.masks[handle] = remaining
	}
	return handle, removed, true
}

// HandlerRemove unregisters h for mask. Unless mask carries DontCall,
// h.HandleClose is invoked exactly once with the handle and removed mask.
func (r *Reactor) HandlerRemove(h EventHandler, mask EventMask) error {
	r.mu.Lock()
	handle, removed, ok := r.removeLocked(h, mask)
	r.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	r.log.WithField("category", "register").Debugf("handle %d removed for %s", handle, mask)
	if mask&DontCall == 0 {
		h.HandleClose(handle, removed)
	}
	r.Notify()
	return nil
}

// HandleFind returns the handle h is registered on.
func (r *Reactor) HandleFind(h EventHandler) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.handles[h]
	return handle, ok
}

// HandlerFind returns the handler registered on handle.
func (r *Reactor) HandlerFind(handle int) (EventHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[handle]
	return h, ok
}

// Mask returns the events registered on handle.
func (r *Reactor) Mask(handle int) EventMask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.masks[handle]
}

// Handles returns every registered descriptor in ascending order, the
// wakeup pipe included.
func (r *Reactor) Handles() []int {
	r.mu.Lock()
	all := r.readSet.Clone()
	for _, set := range []*HandleSet{&r.writeSet, &r.exceptSet} {
		it := NewHandleSetIterator(set)
		for h, ok := it.Next(); ok; h, ok = it.Next() {
			all.Set(h)
		}
	}
	r.mu.Unlock()
	return all.Handles()
}

// EventLoopReset clears a completed EventLoopEnd so a reactor shared by
// several users can be run again. It has no effect on a closed reactor.
func (r *Reactor) EventLoopReset() {
	if !r.closed.Load() {
		r.endLoop.Store(false)
	}
}

// TimerAdd schedules h.HandleTimeout every interval. Adding an existing
// timer rearms it with the new interval.
func (r *Reactor) TimerAdd(h EventHandler, interval TimeValue) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if interval.Less(ZeroTime) {
		return fmt.Errorf("reactor: negative timer interval %s: %w", interval, api.ErrInvalidArgument)
	}
	r.mu.Lock()
	r.timers[h] = &timerEntry{interval: interval, remaining: interval}
	r.mu.Unlock()
	if h.Reactor() == nil {
		h.SetReactor(r)
	}
	r.Notify()
	return nil
}

// TimerRemove cancels h's timer.
func (r *Reactor) TimerRemove(h EventHandler) error {
	r.mu.Lock()
	_, ok := r.timers[h]
	delete(r.timers, h)
	r.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	r.Notify()
	return nil
}

// TimerCount reports the number of armed timers.
func (r *Reactor) TimerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Notify wakes a loop blocked in select(2). Pending wakeups coalesce.
func (r *Reactor) Notify() {
	if r.wakeup != nil && !r.closed.Load() {
		r.wakeup.notify()
	}
}

// Run drives HandleEvents until EventLoopEnd is called or select(2) fails.
func (r *Reactor) Run() error {
	for !r.endLoop.Load() {
		if err := r.HandleEvents(); err != nil {
			r.log.WithField("category", "loop").Warnf("event loop stopped: %v", err)
			return err
		}
	}
	return nil
}

// EventLoopRun drives the loop for callers with no use for its error, such
// as a dedicated reactor goroutine. Run already logs the failure.
func (r *Reactor) EventLoopRun() {
	_ = r.Run()
}

// EventLoopEnd asks Run to return. It is idempotent and may be called before
// Run starts, from any goroutine, or from inside a callback.
func (r *Reactor) EventLoopEnd() {
	r.endLoop.Store(true)
	r.Notify()
}

// EventLoopDone reports whether the loop has been asked to end.
func (r *Reactor) EventLoopDone() bool {
	return r.endLoop.Load()
}

// HandleEvents runs one iteration: wait for readiness or the nearest timer,
// dispatch expired timers, then dispatch ready handles in ascending order.
func (r *Reactor) HandleEvents() error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	rd := r.readSet.Clone()
	wr := r.writeSet.Clone()
	ex := r.exceptSet.Clone()
	var timeout *unix.Timeval
	haveTimers := len(r.timers) > 0
	if haveTimers {
		tv := r.nearestTimerLocked().Timeval()
		timeout = &tv
	}
	nfds := max(rd.MaxHandle(), wr.MaxHandle(), ex.MaxHandle()) + 1
	r.mu.Unlock()

	start := Now()
	n, err := unix.Select(nfds, rd.FdSet(), wr.FdSet(), ex.FdSet(), timeout)
	if r.endLoop.Load() {
		return nil
	}
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		if errors.Is(err, unix.EBADF) {
			r.checkHandles()
			return nil
		}
		return api.Wrap(api.ErrCodeIO, "select", err)
	}
	if haveTimers {
		r.expireTimers(Now().Sub(start))
	}
	if n > 0 {
		rd.Sync(nfds)
		wr.Sync(nfds)
		ex.Sync(nfds)
		r.dispatchSet(&rd, readClass)
		r.dispatchSet(&wr, WriteMask)
		r.dispatchSet(&ex, ExceptMask)
	}
	return nil
}

func (r *Reactor) nearestTimerLocked() TimeValue {
	first := true
	var nearest TimeValue
	for _, t := range r.timers {
		if first || t.remaining.Less(nearest) {
			nearest = t.remaining
			first = false
		}
	}
	if nearest.Less(ZeroTime) {
		return ZeroTime
	}
	return nearest
}

type dueTimer struct {
	h        EventHandler
	interval TimeValue
}

func (r *Reactor) expireTimers(elapsed TimeValue) {
	r.mu.Lock()
	var due []dueTimer
	for h, t := range r.timers {
		t.remaining = t.remaining.Sub(elapsed)
		if t.remaining.LessEqual(ZeroTime) {
			t.remaining = t.interval
			due = append(due, dueTimer{h: h, interval: t.interval})
		}
	}
	r.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].interval.Less(due[j].interval) })
	for _, d := range due {
		if !r.timerArmed(d.h) {
			continue
		}
		if d.h.HandleTimeout(d.interval) < 0 {
			_ = r.TimerRemove(d.h)
		}
	}
}

func (r *Reactor) timerArmed(h EventHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[h]
	return ok
}

func (r *Reactor) liveSet(class EventMask) *HandleSet {
	switch class {
	case WriteMask:
		return &r.writeSet
	case ExceptMask:
		return &r.exceptSet
	}
	return &r.readSet
}

// lookup resolves a fired handle. A handle that left the live set since the
// snapshot was unregistered by an earlier callback and is skipped; a live
// handle without a handler is a bookkeeping bug.
func (r *Reactor) lookup(handle int, class EventMask) EventHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.liveSet(class).IsSet(handle) {
		return nil
	}
	h, ok := r.handlers[handle]
	if !ok {
		panic(fmt.Sprintf("reactor: handle %d is set without a registered handler", handle))
	}
	return h
}

func (r *Reactor) dispatchSet(set *HandleSet, class EventMask) {
	it := NewHandleSetIterator(set)
	for handle, ok := it.Next(); ok; handle, ok = it.Next() {
		h := r.lookup(handle, class)
		if h == nil {
			continue
		}
		var ret int
		switch class {
		case WriteMask:
			ret = h.HandleOutput(handle)
		case ExceptMask:
			ret = h.HandleException(handle)
		default:
			ret = h.HandleInput(handle)
		}
		if ret > 0 {
			panic(fmt.Sprintf("reactor: handler on %d returned reserved value %d", handle, ret))
		}
		if ret < 0 {
			if err := r.HandlerRemove(h, class); err != nil && !errors.Is(err, ErrNotRegistered) {
				r.log.WithField("category", "dispatch").Warnf("remove handle %d: %v", handle, err)
			}
		}
	}
}

// checkHandles drops handlers whose descriptor was closed while the loop was
// about to block on it.
func (r *Reactor) checkHandles() {
	r.mu.Lock()
	stale := make(map[int]EventHandler)
	for handle, h := range r.handlers {
		if _, err := unix.FcntlInt(uintptr(handle), unix.F_GETFD, 0); errors.Is(err, unix.EBADF) {
			stale[handle] = h
		}
	}
	r.mu.Unlock()
	for handle, h := range stale {
		r.log.WithField("category", "loop").Warnf("dropping handler with closed handle %d", handle)
		_ = r.HandlerRemove(h, AllEventsMask)
	}
}

// Close unregisters every handler (calling HandleClose), drops all timers and
// releases the wakeup pipe. Call it after Run has returned.
func (r *Reactor) Close() error {
	if r.closed.Load() {
		return nil
	}
	r.endLoop.Store(true)

	r.mu.Lock()
	snapshot := make([]EventHandler, 0, len(r.handles))
	for h := range r.handles {
		if h != EventHandler(r.wakeup) {
			snapshot = append(snapshot, h)
		}
	}
	r.timers = make(map[EventHandler]*timerEntry)
	r.mu.Unlock()

	for _, h := range snapshot {
		_ = r.HandlerRemove(h, AllEventsMask)
	}
	r.closed.Store(true)
	r.mu.Lock()
	r.removeLocked(r.wakeup, AllEventsMask)
	r.mu.Unlock()
	return r.wakeup.close()
}
