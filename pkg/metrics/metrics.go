// Package metrics adapts a StatsD client to the Sink interface the
// rest of this repository depends on, so tests can substitute a
// recording fake instead of a live client.
//
// Grounded on grafana-pyroscope's pkg/util/statsd (the legacy
// Initialize/Count/Gauge/Increment/Timing wrapper around
// gopkg.in/alexcesaro/statsd.v2) — the spec's metric names (§6) are
// dotted StatsD bucket names, not Prometheus label sets, so this is
// the teacher package that actually matches the domain here.
package metrics

import (
	"time"

	statsd "gopkg.in/alexcesaro/statsd.v2"
)

// Sink is the metrics surface the symbolication pipeline depends on.
// Tag arguments are "key:value" strings, appended to the bucket name
// dot-joined, matching the spec's tag-on-timing/counter convention
// (e.g. "downloader.download" timing tagged "response:success").
type Sink interface {
	Count(bucket string, n int, tags ...string)
	Gauge(bucket string, value float64, tags ...string)
	Timing(bucket string, d time.Duration, tags ...string)
	Histogram(bucket string, value float64, tags ...string)
}

// StatsD implements Sink over a gopkg.in/alexcesaro/statsd.v2 client.
type StatsD struct {
	client *statsd.Client
}

// New dials a StatsD daemon at address (host:port) and prefixes every
// bucket name with prefix.
func New(address, prefix string) (*StatsD, error) {
	client, err := statsd.New(statsd.Address(address), statsd.Prefix(prefix))
	if err != nil {
		return nil, err
	}
	return &StatsD{client: client}, nil
}

func bucketWithTags(bucket string, tags []string) string {
	if len(tags) == 0 {
		return bucket
	}
	out := bucket
	for _, t := range tags {
		out += "." + t
	}
	return out
}

func (s *StatsD) Count(bucket string, n int, tags ...string) {
	s.client.Count(bucketWithTags(bucket, tags), n)
}

func (s *StatsD) Gauge(bucket string, value float64, tags ...string) {
	s.client.Gauge(bucketWithTags(bucket, tags), value)
}

func (s *StatsD) Timing(bucket string, d time.Duration, tags ...string) {
	s.client.Timing(bucketWithTags(bucket, tags), int(d.Milliseconds()))
}

func (s *StatsD) Histogram(bucket string, value float64, tags ...string) {
	s.client.Histogram(bucketWithTags(bucket, tags), value)
}

// Close flushes and releases the underlying client's resources.
func (s *StatsD) Close() { s.client.Close() }

// Noop discards every call; used where no StatsD host is configured.
type Noop struct{}

func (Noop) Count(string, int, ...string)            {}
func (Noop) Gauge(string, float64, ...string)        {}
func (Noop) Timing(string, time.Duration, ...string) {}
func (Noop) Histogram(string, float64, ...string)    {}
