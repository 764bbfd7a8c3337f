package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"collabboard/backend/internal/limiter"
)

var ErrQueueFull = errors.New("event queue full")

// KafkaDispatcher publishes committed actions from a bounded local queue.
// Rooms only enqueue; a full queue drops the event instead of stalling the
// room, since the stream is best effort.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	now      func() time.Time

	queue chan ActionEvent
	// sem caps in-flight SendMessage calls across workers.
	sem *limiter.SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sem *limiter.SemaphoreControl, opt KafkaDispatcherOptions, logger *zap.Logger) *KafkaDispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		logger:      logger,
		now:         time.Now,
		queue:       make(chan ActionEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// ActionCommitted implements room.ActionObserver.
func (d *KafkaDispatcher) ActionCommitted(boardID string, revision uint64, userID string, action []byte) {
	evt := ActionEvent{
		EventType:   EventActionCommitted,
		BoardID:     boardID,
		Revision:    revision,
		UserID:      userID,
		Action:      extractMutation(action),
		CommittedAt: d.now(),
	}
	if err := d.TryEnqueue(evt); err != nil {
		d.logger.Warn("action event dropped",
			zap.String("board", boardID), zap.Uint64("revision", revision), zap.Error(err))
	}
}

// TryEnqueue queues evt without waiting.
func (d *KafkaDispatcher) TryEnqueue(evt ActionEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueFull
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *KafkaDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *KafkaDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt ActionEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			d.logger.Error("kafka send failed, event dropped",
				zap.String("board", evt.BoardID), zap.Uint64("revision", evt.Revision),
				zap.Int("worker", workerID), zap.Error(err))
			return
		}

		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if d.maxBackoff > 0 && backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt ActionEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.BoardID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

// extractMutation pulls the mutation out of an action frame so the event
// does not repeat the envelope.
func extractMutation(frame []byte) json.RawMessage {
	var w struct {
		Action json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(frame, &w); err != nil || len(w.Action) == 0 {
		return json.RawMessage(frame)
	}
	return w.Action
}

// NewSyncProducer builds the producer the dispatcher expects.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	return sarama.NewSyncProducer(brokers, cfg)
}
