package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
)

// Defaults.
const (
	DefaultInterval    = 60 * time.Second
	DefaultSettleDelay = 500 * time.Millisecond
)

// Logger is the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Inventory reads the device's sensors and actors.
// *allnet.Discovery implements it.
type Inventory interface {
	ListSensors(ctx context.Context) ([]allnet.SensorReading, error)
	ListActors(ctx context.Context) ([]allnet.ActorState, error)
	Sensor(ctx context.Context, id int) (allnet.SensorReading, bool, error)
	Actor(ctx context.Context, id int) (allnet.ActorState, bool, error)
}

// ActorWriter switches actors. *allnet.Client implements it.
type ActorWriter interface {
	WriteActor(ctx context.Context, id int, on bool) error
}

// Options configures a Coordinator.
type Options struct {
	// Inventory is required.
	Inventory Inventory

	// Writer is required.
	Writer ActorWriter

	// Interval between scheduled polls. Default: 60 seconds.
	Interval time.Duration

	// SettleDelay overrides the 500 ms pause between an accepted actor
	// write and the follow-up refresh. Only tests set it; the device
	// needs the full default to reach its new state.
	SettleDelay time.Duration

	// Logger is optional.
	Logger Logger
}

// PollResult describes one completed poll, successful or not.
type PollResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Sensors   int
	Actors    int
	Err       error
}

// CommandResult describes one actor write.
type CommandResult struct {
	ActorID   int
	On        bool
	At        time.Time
	Source    string
	RequestID string
	Err       error
}

// Status is a point-in-time view of the coordinator's health.
type Status struct {
	Ready       bool          `json:"ready"`
	Refreshing  bool          `json:"refreshing"`
	Interval    time.Duration `json:"interval_ns"`
	LastSuccess time.Time     `json:"last_success,omitzero"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt time.Time     `json:"last_error_at,omitzero"`
	Polls       uint64        `json:"polls"`
	Failures    uint64        `json:"failures"`
	Commands    uint64        `json:"commands"`
	Sensors     int           `json:"sensors"`
	Actors      int           `json:"actors"`
}

// pollCall is the in-flight poll record that concurrent callers join.
type pollCall struct {
	startedAt time.Time
	done      chan struct{}
	waiters   int // guarded by Coordinator.mu

	// Set before done is closed.
	snapshot Snapshot
	err      error
}

// Coordinator owns the cached snapshot and the poll schedule.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	inventory   Inventory
	writer      ActorWriter
	interval    time.Duration
	settleDelay time.Duration

	mu          sync.Mutex
	snapshot    Snapshot
	hasSnapshot bool
	inflight    *pollCall
	started     bool
	ready       bool
	stopped     bool
	lastSuccess time.Time
	lastErr     error
	lastErrAt   time.Time
	polls       uint64
	failures    uint64
	commands    uint64
	subscribers map[int]chan Snapshot
	nextSubID   int

	// Observers (invoked outside the lock)
	onPoll    func(PollResult)
	onCommand func(CommandResult)
	hookMu    sync.RWMutex

	// Lifecycle (stopOnce prevents double-close panics)
	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a coordinator. Call Start to run the first poll.
//
// Returns:
//   - *Coordinator: Ready to start
//   - error: ErrInvalidOptions if Inventory or Writer is missing
func New(opts Options) (*Coordinator, error) {
	if opts.Inventory == nil {
		return nil, fmt.Errorf("%w: inventory is required", ErrInvalidOptions)
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("%w: writer is required", ErrInvalidOptions)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	return &Coordinator{
		inventory:   opts.Inventory,
		writer:      opts.Writer,
		interval:    interval,
		settleDelay: settle,
		subscribers: make(map[int]chan Snapshot),
		done:        make(chan struct{}),
		logger:      opts.Logger,
	}, nil
}

// Start runs the first poll synchronously and then starts the schedule.
//
// A failure of the first poll is fatal: the error wraps ErrStartup and the
// cause, and the coordinator stays not ready. Later scheduled polls never
// return errors; they are logged and recorded in Status.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.ctxCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	call, err := c.beginPoll()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		c.ctxCancel()
		return fmt.Errorf("%w: %w", ErrStartup, ctx.Err())
	}
	if call.err != nil {
		c.ctxCancel()
		return fmt.Errorf("%w: %w", ErrStartup, call.err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.ready = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.pollLoop()

	c.logInfo("coordinator started",
		"interval", c.interval.String(),
		"sensors", len(call.snapshot.Sensors),
		"actors", len(call.snapshot.Actors))
	return nil
}

// Stop ends the poll schedule, aborts a running poll and closes every
// subscription channel. The last snapshot stays readable.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.ready = false
		c.mu.Unlock()

		close(c.done)
		if c.ctxCancel != nil {
			c.ctxCancel()
		}

		c.wg.Wait()

		c.mu.Lock()
		for id, ch := range c.subscribers {
			close(ch)
			delete(c.subscribers, id)
		}
		c.mu.Unlock()

		c.logInfo("coordinator stopped")
	})
}

// RequestRefresh waits for the next completed poll. If a poll is already
// in flight the caller joins it; otherwise a new poll starts.
//
// Returns:
//   - Snapshot: The snapshot the poll installed
//   - error: The poll error, ctx.Err() if the caller stops waiting,
//     ErrNotReady before Start succeeded, ErrStopped after Stop
func (c *Coordinator) RequestRefresh(ctx context.Context) (Snapshot, error) {
	if err := c.checkReady(); err != nil {
		return Snapshot{}, err
	}

	call, err := c.beginPoll()
	if err != nil {
		return Snapshot{}, err
	}
	return c.wait(ctx, call)
}

// refreshSince is RequestRefresh restricted to polls that started at or
// after since. A poll already in flight from before that point is waited
// out first, since it cannot reflect a change made in the meantime.
func (c *Coordinator) refreshSince(ctx context.Context, since time.Time) (Snapshot, error) {
	for {
		call, err := c.beginPoll()
		if err != nil {
			return Snapshot{}, err
		}
		if !call.startedAt.Before(since) {
			return c.wait(ctx, call)
		}

		select {
		case <-call.done:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

// CurrentSnapshot returns a copy of the cached snapshot without any I/O.
// The bool is false until the first successful poll.
func (c *Coordinator) CurrentSnapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasSnapshot {
		return Snapshot{}, false
	}
	return c.snapshot.Clone(), true
}

// Subscribe returns a channel that receives every newly installed snapshot.
//
// Delivery is non-blocking: when the channel buffer is full the snapshot is
// skipped for that subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once. Stop closes all
// remaining channels.
func (c *Coordinator) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// Status returns the coordinator's current health counters.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Ready:       c.ready,
		Refreshing:  c.inflight != nil,
		Interval:    c.interval,
		LastSuccess: c.lastSuccess,
		LastErrorAt: c.lastErrAt,
		Polls:       c.polls,
		Failures:    c.failures,
		Commands:    c.commands,
		Sensors:     len(c.snapshot.Sensors),
		Actors:      len(c.snapshot.Actors),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Ready reports whether the initial poll succeeded and Stop has not been called.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Interval returns the configured poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// SetOnPoll registers a callback invoked after every completed poll.
// The callback runs on the poll goroutine and must not block.
func (c *Coordinator) SetOnPoll(fn func(PollResult)) {
	c.hookMu.Lock()
	c.onPoll = fn
	c.hookMu.Unlock()
}

// SetOnCommand registers a callback invoked after every actor write.
func (c *Coordinator) SetOnCommand(fn func(CommandResult)) {
	c.hookMu.Lock()
	c.onCommand = fn
	c.hookMu.Unlock()
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// pollLoop drives scheduled polls until Stop.
func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			call, err := c.beginPoll()
			if err != nil {
				return
			}
			select {
			case <-call.done:
			case <-c.done:
				return
			}
		}
	}
}

// beginPoll returns the in-flight poll or starts a new one.
func (c *Coordinator) beginPoll() (*pollCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrStopped
	}
	if !c.started {
		return nil, ErrNotReady
	}
	if c.inflight != nil {
		c.inflight.waiters++
		return c.inflight, nil
	}

	call := &pollCall{
		startedAt: time.Now(),
		done:      make(chan struct{}),
		waiters:   1,
	}
	c.inflight = call

	// Add under mu so it cannot race Stop's Wait.
	c.wg.Add(1)
	go c.runPoll(call)

	return call, nil
}

// runPoll performs one poll and installs the result.
func (c *Coordinator) runPoll(call *pollCall) {
	defer c.wg.Done()

	snap, err := c.poll(c.ctx)
	duration := time.Since(call.startedAt)

	c.mu.Lock()
	c.inflight = nil
	waiters := call.waiters
	c.polls++
	if err != nil {
		c.failures++
		c.lastErr = err
		c.lastErrAt = time.Now()
		call.err = err
	} else {
		c.snapshot = snap
		c.hasSnapshot = true
		c.lastSuccess = snap.FetchedAt
		call.snapshot = snap.Clone()
		c.broadcastLocked(snap)
	}
	c.mu.Unlock()

	close(call.done)

	result := PollResult{
		StartedAt: call.startedAt,
		Duration:  duration,
		Sensors:   len(snap.Sensors),
		Actors:    len(snap.Actors),
		Err:       err,
	}
	if err != nil {
		c.logWarn("poll failed, keeping last snapshot", "error", err, "duration", duration.String())
	} else {
		c.logDebug("poll completed",
			"sensors", result.Sensors,
			"actors", result.Actors,
			"waiters", waiters,
			"duration", duration.String())
	}

	c.hookMu.RLock()
	onPoll := c.onPoll
	c.hookMu.RUnlock()
	if onPoll != nil {
		onPoll(result)
	}
}

// poll reads sensors then actors. A hard error from either fails the cycle.
func (c *Coordinator) poll(ctx context.Context) (Snapshot, error) {
	sensors, err := c.inventory.ListSensors(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing sensors: %w", err)
	}

	actors, err := c.inventory.ListActors(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing actors: %w", err)
	}

	return Snapshot{
		Sensors:   sensors,
		Actors:    actors,
		FetchedAt: time.Now(),
	}, nil
}

// broadcastLocked delivers snap to every subscriber without blocking.
// Caller must hold mu.
func (c *Coordinator) broadcastLocked(snap Snapshot) {
	for id, ch := range c.subscribers {
		select {
		case ch <- snap.Clone():
		default:
			c.logDebug("subscriber behind, snapshot skipped", "subscriber", id)
		}
	}
}

func (c *Coordinator) wait(ctx context.Context, call *pollCall) (Snapshot, error) {
	select {
	case <-call.done:
		if call.err != nil {
			return Snapshot{}, call.err
		}
		return call.snapshot.Clone(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) checkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.stopped:
		return ErrStopped
	case !c.ready:
		return ErrNotReady
	default:
		return nil
	}
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Coordinator) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
