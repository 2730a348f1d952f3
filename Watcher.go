//go:build linux

package sigfd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	omap "github.com/akalinux/orderedmap"
	"github.com/eapache/queue"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	// Upper bound on records dispatched in one loop pass, the rest stay queued for the next pass.
	MAX_SIGNALS_PER_PASS = 64

	// Initial size of the timeout index.
	DEFAULT_TIMER_SLOTS = 16
)

var ERR_SHUTDOWN = errors.New("Watcher Shutdown")
var ERR_CALLBACK_PANIC = errors.New("Callback panic")

// Watcher is an epoll event loop around a non blocking signalfd.  Records read from the descriptor
// are dispatched to the callbacks registered with OnSignal, and timers registered with SetTimeout,
// SetInterval or SetCron run on the same loop.
//
// # Threads
//
// A signalfd only sees signals that are blocked, and epoll only reports the signals pending for the
// thread calling EpollWait plus those pending for the whole process.  Lock the loop goroutine to its
// thread and block the watched signals on it before calling Start:
//
//	runtime.LockOSThread()
//	defer runtime.UnlockOSThread()
//	mask := sigfd.NewSigSet(unix.SIGUSR1)
//	mask.BlockThread()
//	w, _ := sigfd.NewWatcher(mask)
//	defer w.Close()
//	w.Start()
//
// Process directed signals may still be picked up by other Go runtime threads that do not block them.
type Watcher struct {
	sfd      *SignalFd
	mask     *SigSet
	epfd     int
	read     int
	write    int
	handlers map[unix.Signal][]*sigHandler
	timeouts *omap.SliceTree[int64, map[int64]*TimerJob]
	nextId   int64
	stopped  bool
	closed   bool
	locker   sync.RWMutex
	now      time.Time
	events   []unix.EpollEvent
	pending  *queue.Queue
}

// Creates a Watcher for mask.  The signalfd is created with SFD_NONBLOCK and SFD_CLOEXEC.
func NewWatcher(mask *SigSet) (*Watcher, error) {
	if mask == nil {
		mask = &SigSet{}
	}
	sfd, err := NewWithFlags(mask, SFD_NONBLOCK|SFD_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// create in level not edge mode!
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		sfd.Close()
		return nil, fmt.Errorf("Failed to create epoll fd, error was: %w", err)
	}

	var p [2]int
	if err = unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		sfd.Close()
		return nil, fmt.Errorf("Failed to create wakeup pipe, error was: %w", err)
	}

	s := &Watcher{
		sfd:      sfd,
		mask:     mask.Clone(),
		epfd:     epfd,
		read:     p[0],
		write:    p[1],
		handlers: make(map[unix.Signal][]*sigHandler),
		timeouts: omap.NewSliceTree[int64, map[int64]*TimerJob](DEFAULT_TIMER_SLOTS, cmp.Compare),
		events:   make([]unix.EpollEvent, 2),
		pending:  queue.New(),
	}

	for _, fd := range []int{sfd.Fd(), s.read} {
		err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)})
		if err != nil {
			// give up and close here
			s.Close()
			return nil, fmt.Errorf("Failed to watch fd: %d, error was: %w", fd, err)
		}
	}
	return s, nil
}

// Returns a copy of the signals currently delivered to the Watcher.
func (s *Watcher) Mask() *SigSet {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return s.mask.Clone()
}

// Returns the number of registered signal callbacks and timers.
func (s *Watcher) JobCount() (count int) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	for _, list := range s.handlers {
		count += len(list)
	}
	for _, jobs := range s.timeouts.All() {
		count += len(jobs)
	}
	return
}

// Runs cb for every sig read from the descriptor, adding sig to the descriptor mask if needed.
// Callbacks for the same signal run in registration order.
func (s *Watcher) OnSignal(sig unix.Signal, cb func(*SigEvent)) error {
	if !validSignal(sig) {
		return fmt.Errorf("Invalid signal: %d, error was: %w", sig, unix.EINVAL)
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed {
		return ERR_SHUTDOWN
	}
	if !s.mask.Contains(sig) {
		next := s.mask.Clone()
		next.Add(sig)
		if err := s.sfd.SetMask(next); err != nil {
			return err
		}
		s.mask = next
	}
	s.handlers[sig] = append(s.handlers[sig], &sigHandler{cb: cb})
	return nil
}

// Drops every callback for sig and removes it from the descriptor mask.
func (s *Watcher) Ignore(sig unix.Signal) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed {
		return ERR_SHUTDOWN
	}
	delete(s.handlers, sig)
	if !s.mask.Contains(sig) {
		return nil
	}
	next := s.mask.Clone()
	next.Del(sig)
	if err := s.sfd.SetMask(next); err != nil {
		return err
	}
	s.mask = next
	return nil
}

func (s *Watcher) removeHandler(sig unix.Signal, h *sigHandler) {
	s.locker.Lock()
	defer s.locker.Unlock()
	list := slices.DeleteFunc(s.handlers[sig], func(c *sigHandler) bool { return c == h })
	if len(list) == 0 {
		delete(s.handlers, sig)
		return
	}
	s.handlers[sig] = list
}

// Wakes up the event loop so it picks up new timers.
func (s *Watcher) Wakeup() error {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return s.wakeup()
}

func (s *Watcher) wakeup() error {
	if s.closed {
		return ERR_SHUTDOWN
	}
	_, err := unix.Write(s.write, []byte{0})
	if errors.Is(err, unix.EAGAIN) {
		// the pipe is full, the loop is already going to wake up
		return nil
	}
	return err
}

// Runs the event loop until Stop is called.
func (s *Watcher) Start() error {
	if s.isStopped() {
		return ERR_SHUTDOWN
	}
	for {
		if err := s.SingleRun(); err != nil {
			if err == ERR_SHUTDOWN {
				return nil
			}
			return err
		}
	}
}

// Runs the event loop until ctx is done or Stop is called.
func (s *Watcher) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Stop() })
	defer stop()
	err := s.Start()
	if err == ERR_SHUTDOWN && ctx.Err() != nil {
		// the context stopped the loop before it got going
		return nil
	}
	return err
}

// Performs a single epoll pass: waits until a signal arrives, the loop is woken up or the next timer is due,
// then runs the callbacks.  Optionally t[0] caps the wait in milliseconds, -1 waits forever.
func (s *Watcher) SingleRun(t ...int64) error {
	sleep, err := s.nextSleep()
	if err != nil {
		return err
	}
	if len(t) != 0 && t[0] >= 0 && (sleep < 0 || t[0] < sleep) {
		sleep = t[0]
	}

	active, err := unix.EpollWait(s.epfd, s.events, int(sleep))
	if errors.Is(err, unix.EINTR) {
		active, err = 0, nil
	}
	if err != nil {
		return fmt.Errorf("Failed to wait on epoll fd: %d, error was: %w", s.epfd, err)
	}
	s.now = time.Now()

	var readErr error
	for i := range active {
		switch int(s.events[i].Fd) {
		case s.sfd.Fd():
			readErr = s.readSignals()
		case s.read:
			s.drainWakeup()
		}
	}
	s.dispatchSignals()
	s.runTimers()

	if readErr != nil {
		return readErr
	}
	if s.isStopped() {
		return ERR_SHUTDOWN
	}
	return nil
}

func (s *Watcher) isStopped() bool {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return s.stopped || s.closed
}

// Returns how long EpollWait may sleep in milliseconds, -1 when no timer is set.
func (s *Watcher) nextSleep() (sleep int64, err error) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	if s.stopped || s.closed {
		return 0, ERR_SHUTDOWN
	}
	if s.pending.Length() > 0 {
		// queued records from the last pass, do not sleep
		return 0, nil
	}
	sleep = -1
	for nextTs := range s.timeouts.All() {
		sleep = max(nextTs-time.Now().UnixMilli(), 0)
		break
	}
	return
}

func (s *Watcher) readSignals() error {
	list, err := s.sfd.Drain(0)
	for _, info := range list {
		s.pending.Add(info)
	}
	if err != nil {
		slog.Error("Failed to read signals", "fd", s.sfd.Fd(), "error", err)
	}
	return err
}

func (s *Watcher) drainWakeup() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.read, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (s *Watcher) dispatchSignals() {
	for range min(s.pending.Length(), MAX_SIGNALS_PER_PASS) {
		info := s.pending.Remove().(*Siginfo)
		sig := info.Signal()

		s.locker.RLock()
		list := slices.Clone(s.handlers[sig])
		s.locker.RUnlock()

		if len(list) == 0 {
			slog.Debug("No callback for signal", "signal", sig, "pid", info.Pid)
			continue
		}
		for _, h := range list {
			event := &SigEvent{
				Info:    info,
				Signal:  sig,
				now:     s.now,
				handler: h,
				watcher: s,
			}
			s.safeCall(func() { h.cb(event) })
		}
	}
}

// Runs every timer that is due and reschedules it.
func (s *Watcher) runTimers() {
	now := s.now.UnixMilli()
	var due []*TimerJob

	s.locker.Lock()
	var expired []int64
	for nextTs, jobs := range s.timeouts.All() {
		if nextTs > now {
			break
		}
		expired = append(expired, nextTs)
		for _, job := range jobs {
			due = append(due, job)
		}
	}
	for _, nextTs := range expired {
		s.timeouts.Remove(nextTs)
	}
	for _, job := range due {
		job.nextTs = 0
	}
	s.locker.Unlock()

	slices.SortFunc(due, func(a, b *TimerJob) int { return cmp.Compare(a.id, b.id) })
	for _, job := range due {
		s.locker.RLock()
		released := job.released
		s.locker.RUnlock()
		if released {
			continue
		}
		event := &TimerEvent{job: job, now: s.now}
		s.safeCall(func() { job.onEvent(event) })
		if next := job.resolveNext(s.now, event); next > 0 {
			s.locker.Lock()
			// Release from inside the callback leaves the job unscheduled
			if job.nextTs == 0 && !job.released {
				s.scheduleLocked(job, next)
			}
			s.locker.Unlock()
		}
	}
}

// Adds a timer job to the index, caller must hold the lock.
func (s *Watcher) scheduleLocked(job *TimerJob, nextTs int64) {
	job.nextTs = nextTs
	m, ok := s.timeouts.Get(nextTs)
	if !ok {
		m = make(map[int64]*TimerJob)
		s.timeouts.Put(nextTs, m)
	}
	m[job.id] = job
}

func (s *Watcher) addTimer(job *TimerJob, nextTs int64) (*TimerJob, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed || s.stopped {
		return nil, ERR_SHUTDOWN
	}
	s.nextId++
	job.id = s.nextId
	job.watcher = s
	s.scheduleLocked(job, nextTs)
	return job, s.wakeup()
}

func (s *Watcher) removeTimer(job *TimerJob) {
	s.locker.Lock()
	defer s.locker.Unlock()
	job.released = true
	if job.nextTs <= 0 {
		return
	}
	if m, ok := s.timeouts.Get(job.nextTs); ok {
		delete(m, job.id)
		if len(m) == 0 {
			s.timeouts.Remove(job.nextTs)
		}
	}
	job.nextTs = 0
}

func (s *Watcher) safeCall(cb func()) {
	defer func() {
		if e := recover(); e != nil {
			slog.Error(fmt.Sprintf("%s, error was: %v", ERR_CALLBACK_PANIC, e))
		}
	}()
	cb()
}

// Tells the event loop to stop once the current pass completes.
func (s *Watcher) Stop() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.stopped || s.closed {
		return ERR_SHUTDOWN
	}
	s.stopped = true
	return s.wakeup()
}

// Releases the signalfd, the epoll fd and the wakeup pipe.  Do not call while Start is running,
// Stop it first.
func (s *Watcher) Close() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopped = true
	s.sfd.Close()
	return multierr.Combine(
		closeErr("epoll", s.epfd),
		closeErr("pipe", s.read),
		closeErr("pipe", s.write),
	)
}

func closeErr(name string, fd int) error {
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("Failed to close %s fd: %d, error was: %w", name, fd, err)
	}
	return nil
}
