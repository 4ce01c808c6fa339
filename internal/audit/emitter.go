package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit emitter closed")

const defaultQueueSize = 1024

// Config configures event emission.
type Config struct {
	Enabled bool

	// Dir holds the chain heads and a local copy of every event.
	Dir string

	// Endpoint, when set, receives every event as a JSON POST.
	Endpoint string
	Timeout  time.Duration

	// ChainKey names the chain events are linked into, usually the
	// destination container URI.
	ChainKey string

	// QueueSize bounds the events waiting for delivery. Emit blocks while
	// the queue is full.
	QueueSize int

	Producer ProducerInfo
}

// Emitter emits audit events.
type Emitter interface {
	// Emit queues an event for out. Delivery happens in the background.
	Emit(ctx context.Context, out OutputInfo) error

	// Close delivers every queued event and then stops.
	Close() error
}

// NewEmitter creates an emitter based on configuration.
func NewEmitter(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return NoopEmitter{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("audit dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	tracker, err := NewChainTracker(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	e := &ChainEmitter{
		cfg:     cfg,
		tracker: tracker,
		backup:  backup,
		log:     slog.With("component", "audit"),
		queue:   make(chan *Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	if cfg.Endpoint != "" {
		e.sink = NewHTTPSink(cfg.Endpoint, cfg.Timeout)
	}
	go e.deliverLoop()
	return e, nil
}

// ChainEmitter links events into one chain from a single delivery
// goroutine, so callers never wait on the endpoint and the chain stays
// linear in queue order.
type ChainEmitter struct {
	cfg     Config
	tracker *ChainTracker
	backup  *FileBackup
	sink    *HTTPSink
	log     *slog.Logger

	queue chan *Event
	done  chan struct{}

	// mu guards closed against sends on a closed queue.
	mu     sync.RWMutex
	closed bool
}

// Emit stamps an event for out and queues it.
func (e *ChainEmitter) Emit(ctx context.Context, out OutputInfo) error {
	evt := &Event{
		Version:   EventVersion,
		EventType: EventType,
		EventID:   GenerateEventID(),
		Timestamp: time.Now().UTC(),
		Output:    out,
		Producer:  e.cfg.Producer,
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	select {
	case e.queue <- evt:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue event %s: %w", evt.EventID, ctx.Err())
	}
}

// Close stops accepting events and waits until the queue is delivered.
func (e *ChainEmitter) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	<-e.done
	return nil
}

func (e *ChainEmitter) deliverLoop() {
	defer close(e.done)
	for evt := range e.queue {
		if err := e.deliver(evt); err != nil {
			e.log.Warn("event delivery failed",
				"event_id", evt.EventID,
				"output_uri", evt.Output.OutputURI,
				"error", err,
			)
		}
	}
}

// deliver links evt to the chain head, saves it and posts it. The head only
// advances once the event has been delivered.
func (e *ChainEmitter) deliver(evt *Event) error {
	prevHash, err := e.tracker.GetHead(e.cfg.ChainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}
	evt.SetChainHashes(prevHash)

	// Backup to local file (always, before HTTP)
	if err := e.backup.Save(evt); err != nil {
		e.log.Warn("event backup failed", "event_id", evt.EventID, "error", err)
	}

	if e.sink != nil {
		if err := e.sink.Post(context.Background(), evt); err != nil {
			return err
		}
	}

	if err := e.tracker.SetHead(e.cfg.ChainKey, evt.Chain.EventHash); err != nil {
		e.log.Warn("failed to update chain head", "error", err)
	}

	e.log.Debug("emitted event",
		"event_id", evt.EventID,
		"output_uri", evt.Output.OutputURI,
		"event_hash", evt.Chain.EventHash,
	)
	return nil
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(_ context.Context, _ OutputInfo) error {
	return nil
}

func (NoopEmitter) Close() error {
	return nil
}
