package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
	"github.com/nerrad567/allnet-bridge/internal/coordinator"
	"github.com/nerrad567/allnet-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one actor command including the follow-up refresh.
	commandTimeout = 30 * time.Second

	// requestTimeout bounds one request.
	requestTimeout = 30 * time.Second

	// snapshotBuffer is the coordinator subscription buffer.
	snapshotBuffer = 4

	// SourceMQTT is the command origin reported for MQTT commands.
	SourceMQTT = "mqtt"
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Subscriptions() []string
	IsConnected() bool
}

// Coordinator is the subset of *coordinator.Coordinator the bridge needs.
type Coordinator interface {
	SetActorState(ctx context.Context, id int, on bool) error
	Toggle(ctx context.Context, id int) (bool, error)
	RequestRefresh(ctx context.Context) (coordinator.Snapshot, error)
	CurrentSnapshot() (coordinator.Snapshot, bool)
	Subscribe(buffer int) (<-chan coordinator.Snapshot, func())
	Status() coordinator.Status
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTT is required.
	MQTT MQTTClient

	// Coordinator is required.
	Coordinator Coordinator

	// Topics builds the topic names. The zero value uses the "home" prefix.
	Topics mqtt.Topics

	// Device is announced in discovery messages.
	Device allnet.DeviceInfo

	// ID identifies the bridge in health and discovery messages.
	// Default: "allnet".
	ID string

	// Version is reported in health messages.
	Version string

	// QoS for state, ack and response messages. Default: 1.
	QoS byte

	// HealthInterval between health messages. Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Metrics contains counters for the API metrics endpoint.
type Metrics struct {
	Connected        bool   `json:"connected"`
	StatesPublished  uint64 `json:"states_published"`
	CommandsHandled  uint64 `json:"commands_handled"`
	CommandsFailed   uint64 `json:"commands_failed"`
	RequestsHandled  uint64 `json:"requests_handled"`
	PublishFailures  uint64 `json:"publish_failures"`
	TrackedAddresses int    `json:"tracked_addresses"`

	// Subscriptions lists the topic filters the MQTT client will restore
	// after a reconnect.
	Subscriptions []string `json:"subscriptions"`
}

// Bridge translates between the coordinator and MQTT consumers.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt   MQTTClient
	coord  Coordinator
	topics mqtt.Topics
	device allnet.DeviceInfo
	id     string
	qos    byte
	health *HealthReporter

	// State cache for change detection, keyed by address
	stateCache   map[string]map[string]any
	inventoryKey string
	stateCacheMu sync.Mutex

	// publishMu serialises whole-snapshot publication.
	publishMu sync.Mutex

	statesPublished atomic.Uint64
	commandsHandled atomic.Uint64
	commandsFailed  atomic.Uint64
	requestsHandled atomic.Uint64
	publishFailures atomic.Uint64

	// Shutdown coordination
	done        chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
	stopMu      sync.Mutex
	stopped     bool
	unsubscribe func()
	ctx         context.Context
	ctxCancel   context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to begin operation.
//
// Returns:
//   - *Bridge: Ready to start
//   - error: ErrInvalidOptions if MQTT or Coordinator is missing
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidOptions)
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator is required", ErrInvalidOptions)
	}

	id := opts.ID
	if id == "" {
		id = Protocol
	}
	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:       opts.MQTT,
		coord:      opts.Coordinator,
		topics:     opts.Topics,
		device:     opts.Device,
		id:         id,
		qos:        qos,
		stateCache: make(map[string]map[string]any),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  id,
		Version:   opts.Version,
		Device:    opts.Device.Name,
		Interval:  opts.HealthInterval,
		Topic:     opts.Topics.Health(),
		Publisher: opts.MQTT,
		Status:    opts.Coordinator,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the coordinator and to the command and request
// topics, publishes the current snapshot and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logWarn("failed to publish starting status", "error", err)
	}

	snapshots, unsubscribe := b.coord.Subscribe(snapshotBuffer)
	b.unsubscribe = unsubscribe

	if snap, ok := b.coord.CurrentSnapshot(); ok {
		b.publishSnapshot(snap)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMessage); err != nil {
		unsubscribe()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.AllRequests()
	if err := b.mqtt.Subscribe(requestTopic, b.qos, b.handleMessage); err != nil {
		unsubscribe()
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.wg.Add(1)
	go b.snapshotLoop(snapshots)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.id, "prefix", b.topics.AllStates())
	return nil
}

// Stop gracefully shuts down the bridge.
// In-flight commands are cancelled and acknowledged before it returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		close(b.done)
		b.ctxCancel()

		for _, topic := range []string{b.topics.AllCommands(), b.topics.AllRequests()} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logDebug("unsubscribe skipped", "topic", topic, "reason", err.Error())
			}
		}
		if b.unsubscribe != nil {
			b.unsubscribe()
		}

		b.wg.Wait()

		// Publishes "stopping"
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Republish forgets what was published and publishes the current snapshot
// again. Call it after the broker connection is re-established.
func (b *Bridge) Republish() {
	select {
	case <-b.done:
		return
	default:
	}

	b.ClearStateCache()
	if snap, ok := b.coord.CurrentSnapshot(); ok {
		b.publishSnapshot(snap)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logWarn("failed to publish health", "error", err)
	}
}

// ClearStateCache removes all entries from the state cache so that the
// next snapshot is published in full.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	b.stateCache = make(map[string]map[string]any)
	b.inventoryKey = ""
}

// Metrics returns current bridge counters.
func (b *Bridge) Metrics() Metrics {
	b.stateCacheMu.Lock()
	tracked := len(b.stateCache)
	b.stateCacheMu.Unlock()

	return Metrics{
		Connected:        b.mqtt.IsConnected(),
		StatesPublished:  b.statesPublished.Load(),
		CommandsHandled:  b.commandsHandled.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		RequestsHandled:  b.requestsHandled.Load(),
		PublishFailures:  b.publishFailures.Load(),
		TrackedAddresses: tracked,
		Subscriptions:    b.mqtt.Subscriptions(),
	}
}

// snapshotLoop publishes every snapshot the coordinator delivers.
func (b *Bridge) snapshotLoop(snapshots <-chan coordinator.Snapshot) {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			b.publishSnapshot(snap)
		}
	}
}

// dispatch runs fn on a tracked goroutine so that MQTT handlers return
// immediately. It refuses work once Stop has begun.
func (b *Bridge) dispatch(fn func()) error {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()

	if b.stopped {
		return ErrStopped
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return nil
}

// handleMessage routes incoming MQTT messages to the appropriate handler.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	category, address, ok := b.topics.Split(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	switch category {
	case "command":
		return b.handleCommand(address, payload)
	case "request":
		return b.handleRequest(address, payload)
	default:
		return fmt.Errorf("%w: unexpected category %q", ErrInvalidTopic, category)
	}
}

// =============================================================================
// Commands
// =============================================================================

// handleCommand validates a command and hands it to a worker goroutine.
func (b *Bridge) handleCommand(address string, payload []byte) error {
	cmd, err := ParseCommand(payload)
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	id, ok := mqtt.ParseActorAddress(address)
	if !ok {
		b.commandsFailed.Add(1)
		b.publishAck(address, NewAckError(cmd.ID, address, ErrCodeInvalidCommand,
			fmt.Sprintf("%q is not an actor address", address)))
		return fmt.Errorf("%w: %q is not an actor address", ErrInvalidTopic, address)
	}

	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(address, NewAckError(cmd.ID, address, ErrCodeInvalidCommand, err.Error()))
		return err
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"actor", id,
		"command", cmd.Command)

	return b.dispatch(func() { b.executeCommand(id, address, cmd) })
}

// executeCommand runs one command against the coordinator and publishes
// the acknowledgement.
func (b *Bridge) executeCommand(id int, address string, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	ctx = coordinator.WithOrigin(ctx, coordinator.Origin{Source: SourceMQTT, RequestID: cmd.ID})

	var (
		desired bool
		err     error
	)
	switch cmd.Command {
	case CommandOn, CommandOff:
		desired = cmd.Command == CommandOn
		err = b.coord.SetActorState(ctx, id, desired)
	case CommandToggle:
		desired, err = b.coord.Toggle(ctx, id)
	}

	if err != nil {
		b.commandsFailed.Add(1)
		b.logWarn("command failed", "command_id", cmd.ID, "actor", id, "error", err)
		b.publishAck(address, NewAckError(cmd.ID, address, errorCode(err), err.Error()))
		return
	}

	b.commandsHandled.Add(1)
	b.publishAck(address, NewAck(cmd.ID, address, desired))
}

// publishAck publishes a command acknowledgement.
func (b *Bridge) publishAck(address string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", "error", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Ack(address), payload, b.qos, false); err != nil {
		b.publishFailures.Add(1)
		b.logWarn("failed to publish ack", "address", address, "error", err)
	}
}

// errorCode maps a coordinator or device error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrUnknownActor):
		return ErrCodeUnknownActor
	case errors.Is(err, coordinator.ErrNotReady):
		return ErrCodeNotReady
	case errors.Is(err, allnet.ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, allnet.ErrConnection):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeBridgeError
	}
}

// =============================================================================
// Requests
// =============================================================================

// handleRequest decodes a request and hands it to a worker goroutine.
func (b *Bridge) handleRequest(requestID string, payload []byte) error {
	var req RequestMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			b.publishResponse(newErrorResponse(requestID, ErrCodeInvalidParameters,
				fmt.Sprintf("invalid request: %v", err)))
			return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	return b.dispatch(func() {
		b.publishResponse(b.executeRequest(req))
	})
}

// executeRequest produces the response to one request.
func (b *Bridge) executeRequest(req RequestMessage) ResponseMessage {
	b.requestsHandled.Add(1)

	switch req.Action {
	case ActionRefresh:
		return b.handleRefresh(req)
	case ActionReadState:
		return b.handleReadState(req)
	case ActionStatus:
		return newResponse(req.RequestID, map[string]any{
			"status":  b.coord.Status(),
			"metrics": b.Metrics(),
		})
	default:
		return newErrorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %q", req.Action))
	}
}

// handleRefresh forces a poll and reports its outcome.
func (b *Bridge) handleRefresh(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	snap, err := b.coord.RequestRefresh(ctx)
	if err != nil {
		return newErrorResponse(req.RequestID, errorCode(err), err.Error())
	}

	return newResponse(req.RequestID, map[string]any{
		"fetched_at": snap.FetchedAt.UTC(),
		"sensors":    len(snap.Sensors),
		"actors":     len(snap.Actors),
	})
}

// handleReadState answers from the cached snapshot without touching the device.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.Address == "" {
		return newErrorResponse(req.RequestID, ErrCodeInvalidParameters, "address is required")
	}

	snap, ok := b.coord.CurrentSnapshot()
	if !ok {
		return newErrorResponse(req.RequestID, ErrCodeNotReady, "no snapshot available")
	}

	if id, ok := mqtt.ParseSensorAddress(req.Address); ok {
		if r, found := snap.Sensor(id); found {
			return newResponse(req.RequestID, map[string]any{
				"address":    req.Address,
				"kind":       "sensor",
				"state":      SensorState(r),
				"fetched_at": snap.FetchedAt.UTC(),
			})
		}
	}
	if id, ok := mqtt.ParseActorAddress(req.Address); ok {
		if a, found := snap.Actor(id); found {
			return newResponse(req.RequestID, map[string]any{
				"address":    req.Address,
				"kind":       "actor",
				"state":      ActorStateMap(a),
				"fetched_at": snap.FetchedAt.UTC(),
			})
		}
	}

	return newErrorResponse(req.RequestID, ErrCodeInvalidParameters,
		fmt.Sprintf("unknown address: %q", req.Address))
}

// publishResponse publishes a request response.
func (b *Bridge) publishResponse(resp ResponseMessage) {
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", "error", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Response(resp.RequestID), payload, b.qos, false); err != nil {
		b.publishFailures.Add(1)
		b.logWarn("failed to publish response", "request_id", resp.RequestID, "error", err)
	}
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
