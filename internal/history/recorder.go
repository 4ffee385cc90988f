package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/valkey"
)

const (
	queueSize       = 256
	pruneInterval   = time.Hour
	writeTimeout    = 5 * time.Second
	snapshotBacklog = 4
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Source is the part of the coordinator the recorder observes.
type Source interface {
	SetOnPoll(fn func(coordinator.PollResult))
	SetOnCommand(fn func(coordinator.CommandResult))
	Subscribe(buffer int) (<-chan coordinator.Snapshot, func())
}

// MetricsWriter receives exported telemetry. *influxdb.Client implements it.
type MetricsWriter interface {
	WriteSensorReading(p influxdb.SensorPoint)
	WriteActorState(p influxdb.ActorPoint)
}

// SnapshotMirror receives every installed snapshot. *valkey.Client
// implements it.
type SnapshotMirror interface {
	MirrorSnapshot(ctx context.Context, device string, snapshot any, sensors []valkey.SensorValue, fetchedAt time.Time) error
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Device labels every row and point (the device host). Required.
	Device string

	// Repository is required.
	Repository Repository

	// Metrics is optional; snapshots are not exported without it.
	Metrics MetricsWriter

	// Mirror is optional.
	Mirror SnapshotMirror

	// Retention is how long rows are kept. Zero disables pruning.
	Retention time.Duration

	Logger Logger
}

// Recorder persists coordinator events and exports snapshot telemetry.
//
// Thread Safety:
//   - Hooks may fire from any goroutine; they only enqueue work.
//   - Start and Stop must not be called concurrently.
type Recorder struct {
	device    string
	repo      Repository
	metrics   MetricsWriter
	mirror    SnapshotMirror
	retention time.Duration
	logger    Logger

	mu      sync.RWMutex
	jobs    chan func(context.Context) error
	stopped bool
	dropped int

	unsubscribe func()
	ctxCancel   context.CancelFunc
	wg          sync.WaitGroup
}

// NewRecorder creates a recorder. Call Start to attach it to a source.
func NewRecorder(opts RecorderOptions) (*Recorder, error) {
	if opts.Device == "" {
		return nil, errors.New("history: device is required")
	}
	if opts.Repository == nil {
		return nil, errors.New("history: repository is required")
	}
	return &Recorder{
		device:    opts.Device,
		repo:      opts.Repository,
		metrics:   opts.Metrics,
		mirror:    opts.Mirror,
		retention: opts.Retention,
		logger:    opts.Logger,
		jobs:      make(chan func(context.Context) error, queueSize),
	}, nil
}

// Start registers the recorder's hooks on src and starts its workers.
func (r *Recorder) Start(ctx context.Context, src Source) {
	ctx, r.ctxCancel = context.WithCancel(ctx)

	src.SetOnPoll(r.handlePoll)
	src.SetOnCommand(r.handleCommand)

	r.wg.Add(1)
	go r.writeLoop()

	if r.metrics != nil || r.mirror != nil {
		snapshots, unsubscribe := src.Subscribe(snapshotBacklog)
		r.unsubscribe = unsubscribe
		r.wg.Add(1)
		go r.exportLoop(snapshots)
	}

	if r.retention > 0 {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}
}

// Stop detaches from the source, drains queued writes and waits for the
// workers to exit. Hooks firing after Stop are ignored.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.ctxCancel != nil {
		r.ctxCancel()
	}
	r.wg.Wait()
}

// Dropped reports how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

func (r *Recorder) handlePoll(res coordinator.PollResult) {
	entry := PollEntry{
		Device:    r.device,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
		Success:   res.Err == nil,
		Sensors:   res.Sensors,
		Actors:    res.Actors,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	r.enqueue(func(ctx context.Context) error {
		return r.repo.RecordPoll(ctx, entry)
	})
}

func (r *Recorder) handleCommand(res coordinator.CommandResult) {
	entry := CommandEntry{
		ID:        uuid.NewString(),
		Device:    r.device,
		ActorID:   res.ActorID,
		On:        res.On,
		Source:    res.Source,
		RequestID: res.RequestID,
		IssuedAt:  res.At,
		Success:   res.Err == nil,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	r.enqueue(func(ctx context.Context) error {
		return r.repo.RecordCommand(ctx, entry)
	})
}

func (r *Recorder) enqueue(job func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.jobs <- job:
	default:
		r.dropped++
		r.logWarn("history queue full, event dropped", "dropped", r.dropped)
	}
}

// writeLoop runs queued writes until the queue is closed and drained.
func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for job := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := job(ctx); err != nil {
			r.logWarn("history write failed", "error", err)
		}
		cancel()
	}
}

func (r *Recorder) exportLoop(snapshots <-chan coordinator.Snapshot) {
	defer r.wg.Done()
	for snap := range snapshots {
		if r.metrics != nil {
			r.export(snap)
		}
		if r.mirror != nil {
			r.mirrorSnapshot(snap)
		}
	}
}

func (r *Recorder) mirrorSnapshot(snap coordinator.Snapshot) {
	sensors := make([]valkey.SensorValue, 0, len(snap.Sensors))
	for _, s := range snap.Sensors {
		sensors = append(sensors, valkey.SensorValue{ID: s.ID, Name: s.Name, Value: s.Value, Unit: s.Unit})
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.mirror.MirrorSnapshot(ctx, r.device, snap, sensors, snap.FetchedAt); err != nil {
		r.logWarn("snapshot mirror failed", "error", err)
	}
}

// export writes one point per numeric sensor and per actor. Non-numeric
// readings are skipped.
func (r *Recorder) export(snap coordinator.Snapshot) {
	for _, s := range snap.Sensors {
		value, ok := s.Numeric()
		if !ok {
			continue
		}
		class := s.Classification()
		r.metrics.WriteSensorReading(influxdb.SensorPoint{
			Device:   r.device,
			ID:       s.ID,
			Name:     s.Name,
			Category: string(class.Category),
			Unit:     class.Unit,
			Value:    value,
			Time:     snap.FetchedAt,
		})
	}
	for _, a := range snap.Actors {
		r.metrics.WriteActorState(influxdb.ActorPoint{
			Device: r.device,
			ID:     a.ID,
			Name:   a.Name,
			On:     a.IsOn(),
			Raw:    a.State,
			Time:   snap.FetchedAt,
		})
	}
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, r.retention)
	if err != nil {
		if ctx.Err() == nil {
			r.logWarn("history prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		r.logInfo("history pruned", "rows", n, "retention", r.retention)
	}
}

func (r *Recorder) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
