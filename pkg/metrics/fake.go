package metrics

import (
	"sync"
	"time"
)

// Recorder is a Sink that records every call for test assertions.
type Recorder struct {
	mu      sync.Mutex
	Counts  []Call
	Gauges  []Call
	Timings []Call
	Histos  []Call
}

// Call captures one metric emission.
type Call struct {
	Bucket string
	Value  float64
	Tags   []string
}

func (r *Recorder) Count(bucket string, n int, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Counts = append(r.Counts, Call{Bucket: bucket, Value: float64(n), Tags: tags})
}

func (r *Recorder) Gauge(bucket string, value float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Gauges = append(r.Gauges, Call{Bucket: bucket, Value: value, Tags: tags})
}

func (r *Recorder) Timing(bucket string, d time.Duration, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Timings = append(r.Timings, Call{Bucket: bucket, Value: float64(d), Tags: tags})
}

func (r *Recorder) Histogram(bucket string, value float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Histos = append(r.Histos, Call{Bucket: bucket, Value: value, Tags: tags})
}
