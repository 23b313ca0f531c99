// Package captions delivers transcription text to viewers and tracks delivery latency.
package captions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/transcription"
)

// Event is one delivered caption
type Event struct {
	CallID            string    `json:"call_id"`
	Text              string    `json:"text"`
	SourceTimestamp   time.Time `json:"source_timestamp"`
	DeliveredAt       time.Time `json:"delivered_at"`
	DeliveryLatencyMs float64   `json:"delivery_latency_ms"`
	Sequence          int       `json:"sequence"`
}

// Sink receives every delivered caption, e.g. an event bus publisher
type Sink interface {
	PublishCaption(ctx context.Context, event Event) error
}

// LatencyStats summarizes delivery latency in milliseconds
type LatencyStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	P95   float64 `json:"p95_ms"`
}

type callLog struct {
	mu          sync.Mutex
	events      []Event
	lastSource  time.Time
	violations  int
	subscribers map[int]chan Event
	nextSubID   int
}

// Queue keeps the ordered caption log of each call
type Queue struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	calls map[string]*callLog

	latencyMu sync.Mutex
	latencies []float64
}

// NewQueue creates a queue. sink may be nil.
func NewQueue(sink Sink, logger zerolog.Logger) *Queue {
	return &Queue{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		calls:  make(map[string]*callLog),
	}
}

// Deliver appends text to the call's log and returns the delivered event.
// A zero sourceTimestamp means the text originated now. Source timestamps
// that go backwards are counted as ordering violations but kept as given.
func (q *Queue) Deliver(callID, text string, sourceTimestamp time.Time) Event {
	now := q.now()
	if sourceTimestamp.IsZero() {
		sourceTimestamp = now
	}

	latency := now.Sub(sourceTimestamp)
	if latency < 0 {
		latency = 0
	}

	cl := q.log(callID)
	cl.mu.Lock()

	outOfOrder := len(cl.events) > 0 && sourceTimestamp.Before(cl.lastSource)
	if outOfOrder {
		cl.violations++
	}

	event := Event{
		CallID:            callID,
		Text:              text,
		SourceTimestamp:   sourceTimestamp,
		DeliveredAt:       now,
		DeliveryLatencyMs: float64(latency) / float64(time.Millisecond),
		Sequence:          len(cl.events),
	}
	cl.events = append(cl.events, event)
	cl.lastSource = sourceTimestamp

	for id, ch := range cl.subscribers {
		select {
		case ch <- event:
		default:
			q.logger.Warn().
				Str("call_id", callID).
				Int("subscriber", id).
				Int("sequence", event.Sequence).
				Msg("Caption subscriber full, dropping event")
		}
	}
	cl.mu.Unlock()

	q.latencyMu.Lock()
	q.latencies = append(q.latencies, event.DeliveryLatencyMs)
	q.latencyMu.Unlock()

	if outOfOrder {
		q.logger.Warn().
			Str("call_id", callID).
			Int("sequence", event.Sequence).
			Time("source_timestamp", sourceTimestamp).
			Msg("Caption delivered out of source order")
	}
	observability.RecordCaptionDelivered(latency, outOfOrder)

	if q.sink != nil {
		if err := q.sink.PublishCaption(context.Background(), event); err != nil {
			q.logger.Error().Err(err).Str("call_id", callID).Msg("Failed to publish caption")
		}
	}

	return event
}

// DeliverStream delivers each result's transcript in order, stamped with the result timestamp
func (q *Queue) DeliverStream(callID string, results []transcription.Result) []Event {
	events := make([]Event, 0, len(results))
	for _, r := range results {
		events = append(events, q.Deliver(callID, r.Transcript, r.Timestamp))
	}
	return events
}

// Log returns a snapshot of the call's delivered captions
func (q *Queue) Log(callID string) []Event {
	cl := q.lookup(callID)
	if cl == nil {
		return []Event{}
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return append([]Event(nil), cl.events...)
}

// Subscribe returns a channel receiving the call's future captions in sequence
// order. Events are dropped when the channel buffer is full. The returned
// function cancels the subscription.
func (q *Queue) Subscribe(callID string, buffer int) (<-chan Event, func()) {
	cl := q.log(callID)
	ch := make(chan Event, max(buffer, 1))

	cl.mu.Lock()
	id := cl.nextSubID
	cl.nextSubID++
	cl.subscribers[id] = ch
	cl.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cl.mu.Lock()
			defer cl.mu.Unlock()
			if _, ok := cl.subscribers[id]; ok {
				delete(cl.subscribers, id)
				close(ch)
			}
		})
	}
}

// Ordered reports whether every caption of the call arrived in source-timestamp order
func (q *Queue) Ordered(callID string) bool {
	return q.Violations(callID) == 0
}

// Violations returns how many captions of the call arrived out of source order
func (q *Queue) Violations(callID string) int {
	cl := q.lookup(callID)
	if cl == nil {
		return 0
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.violations
}

// Metrics returns delivery latency statistics for callID, or for every call when callID is empty
func (q *Queue) Metrics(callID string) LatencyStats {
	var samples []float64
	if callID == "" {
		q.latencyMu.Lock()
		samples = append(samples, q.latencies...)
		q.latencyMu.Unlock()
	} else if cl := q.lookup(callID); cl != nil {
		cl.mu.Lock()
		for _, e := range cl.events {
			samples = append(samples, e.DeliveryLatencyMs)
		}
		cl.mu.Unlock()
	}
	return summarize(samples)
}

// Purge drops a finished call's log and closes its subscribers
func (q *Queue) Purge(callID string) {
	q.mu.Lock()
	cl := q.calls[callID]
	delete(q.calls, callID)
	q.mu.Unlock()

	if cl == nil {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for id, ch := range cl.subscribers {
		delete(cl.subscribers, id)
		close(ch)
	}
}

func (q *Queue) lookup(callID string) *callLog {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.calls[callID]
}

func (q *Queue) log(callID string) *callLog {
	if cl := q.lookup(callID); cl != nil {
		return cl
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if cl, ok := q.calls[callID]; ok {
		return cl
	}
	cl := &callLog{subscribers: make(map[int]chan Event)}
	q.calls[callID] = cl
	return cl
}

func summarize(samples []float64) LatencyStats {
	n := len(samples)
	if n == 0 {
		return LatencyStats{}
	}

	sort.Float64s(samples)
	var sum float64
	for _, s := range samples {
		sum += s
	}

	return LatencyStats{
		Count: n,
		Mean:  sum / float64(n),
		Min:   samples[0],
		Max:   samples[n-1],
		P95:   samples[min(int(float64(n)*0.95), n-1)],
	}
}
