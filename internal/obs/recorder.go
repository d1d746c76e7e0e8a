package obs

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kalshi-exec/internal/metrics"
	"kalshi-exec/pkg/types"
)

// defaultQueueSize bounds the recorder's buffer. A full buffer means the
// sink is far behind; further records are dropped, not queued.
const defaultQueueSize = 10000

// DegradedStatus reports recorder health counters for the status surface.
type DegradedStatus struct {
	Dropped        int64      `json:"dropped"`
	WriteFailures  int64      `json:"write_failures"`
	FirstFailureAt *time.Time `json:"first_failure_at,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
}

// Degraded reports whether any record has been lost or failed to persist.
func (s DegradedStatus) Degraded() bool {
	return s.Dropped > 0 || s.WriteFailures > 0
}

// Recorder accepts messages without blocking and persists them through a
// background writer. Dropped records and sink failures are counted, never
// propagated to callers.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Record

	mu     sync.RWMutex
	closed bool

	closeOnce  sync.Once
	writerDone chan struct{}

	dropped       atomic.Int64
	writeFailures atomic.Int64

	failMu       sync.Mutex
	firstFailure time.Time
	lastFailure  time.Time
}

// NewRecorder starts a recorder writing to sink. queueSize <= 0 takes the
// default.
func NewRecorder(sink Sink, logger *slog.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Recorder{
		sink:       sink,
		logger:     logger.With("component", "recorder"),
		queue:      make(chan Record, queueSize),
		writerDone: make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// RecordMessage classifies and enqueues one message. It never blocks: a
// full queue or a closed recorder drops the record and bumps the counter.
func (r *Recorder) RecordMessage(message any, kind, stage, correlationID string) {
	rec := buildRecord(message, kind, stage, correlationID, types.Now())

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(rec)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.drop(rec)
	}
}

func (r *Recorder) drop(rec Record) {
	metrics.RecordsDropped.Inc()
	r.noteFailure()
	if r.dropped.Add(1) == 1 {
		// Log the first loss loudly; after that the counter tells the story.
		r.logger.Error("recorder dropping records", "event_type", rec.EventType, "stage", rec.Stage)
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.writerDone)
	for rec := range r.queue {
		if err := r.sink.Write(rec); err != nil {
			metrics.SinkWriteFailures.Inc()
			r.writeFailures.Add(1)
			r.noteFailure()
			r.logger.Error("sink write failed", "event_type", rec.EventType, "error", err)
		}
	}
}

// Close drains queued records into the sink, closes the sink, and returns
// its close error. Safe to call more than once.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		<-r.writerDone
		err = r.sink.Close()
	})
	return err
}

func (r *Recorder) noteFailure() {
	now := types.Now()
	r.failMu.Lock()
	if r.firstFailure.IsZero() {
		r.firstFailure = now
	}
	r.lastFailure = now
	r.failMu.Unlock()
}

// Status returns the recorder's loss counters.
func (r *Recorder) Status() DegradedStatus {
	status := DegradedStatus{
		Dropped:       r.dropped.Load(),
		WriteFailures: r.writeFailures.Load(),
	}
	r.failMu.Lock()
	if !r.firstFailure.IsZero() {
		first, last := r.firstFailure, r.lastFailure
		status.FirstFailureAt = &first
		status.LastFailureAt = &last
	}
	r.failMu.Unlock()
	return status
}
