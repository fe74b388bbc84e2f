package stream

import (
	"sync"
	"time"
)

const latencySamples = 100

// Metrics is a point-in-time snapshot of stream counters.
type Metrics struct {
	EventsProcessed   int64     `json:"events_processed"`
	EventsDropped     int64     `json:"events_dropped"`
	MessagesSent      int64     `json:"messages_sent"`
	InsightsGenerated int64     `json:"insights_generated"`
	PatternsDetected  int64     `json:"patterns_detected"`
	Errors            int64     `json:"errors"`
	Batches           int64     `json:"batches"`
	ErrorRate         float64   `json:"error_rate"`
	AverageLatencyMS  float64   `json:"average_latency_ms"`
	BufferSize        int       `json:"buffer_size"`
	ActiveContexts    int       `json:"active_contexts"`
	Subscribers       int       `json:"subscribers"`
	Running           bool      `json:"running"`
	LastFlush         time.Time `json:"last_flush"`
}

// recorder accumulates counters and a ring of recent batch latencies.
type recorder struct {
	m         Metrics
	latencies []time.Duration
	next      int
	mu        sync.Mutex
}

func newRecorder() *recorder {
	return &recorder{latencies: make([]time.Duration, 0, latencySamples)}
}

func (r *recorder) batch(events, insights, patterns, errs int, latency time.Duration, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m.Batches++
	r.m.EventsProcessed += int64(events)
	r.m.InsightsGenerated += int64(insights)
	r.m.PatternsDetected += int64(patterns)
	r.m.Errors += int64(errs)
	r.m.LastFlush = at
	if len(r.latencies) < latencySamples {
		r.latencies = append(r.latencies, latency)
	} else {
		r.latencies[r.next] = latency
	}
	r.next = (r.next + 1) % latencySamples
}

func (r *recorder) failed(n int) {
	r.mu.Lock()
	r.m.Errors += int64(n)
	r.mu.Unlock()
}

func (r *recorder) dropped(n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	r.m.EventsDropped += int64(n)
	r.mu.Unlock()
}

func (r *recorder) sent(n int, insights int) {
	r.mu.Lock()
	r.m.MessagesSent += int64(n)
	r.m.InsightsGenerated += int64(insights)
	r.mu.Unlock()
}

func (r *recorder) snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.m
	if m.Batches > 0 {
		m.ErrorRate = float64(m.Errors) / float64(m.Batches)
	}
	if len(r.latencies) > 0 {
		var total time.Duration
		for _, l := range r.latencies {
			total += l
		}
		m.AverageLatencyMS = float64(total) / float64(len(r.latencies)) / float64(time.Millisecond)
	}
	return m
}
