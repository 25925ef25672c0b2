package health

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type mockCondition struct {
	results []StatusMessage
	i       int
}

func (m *mockCondition) Probe() (StatusMessage, error) {
	if m.i >= len(m.results) {
		return m.results[len(m.results)-1], nil
	}
	s := m.results[m.i]
	m.i++
	return s, nil
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestControllerReportsWorstRecentStatus(t *testing.T) {
	cond := &mockCondition{results: []StatusMessage{
		{Status: Healthy, Message: "ok"},
		{Status: Critical, Message: "disk full"},
		{Status: Healthy, Message: "ok"},
	}}
	c := NewController([]Condition{cond}, time.Hour, newTestLogger())

	c.probeOnce()
	c.probeOnce()
	c.probeOnce()

	assert.False(t, c.Healthy())
	assert.Contains(t, c.Notifications(), "disk full")
}

func TestControllerHealthyWhenNoBadReadings(t *testing.T) {
	cond := &mockCondition{results: []StatusMessage{{Status: Healthy, Message: "ok"}}}
	c := NewController([]Condition{cond}, time.Hour, newTestLogger())

	c.probeOnce()

	assert.True(t, c.Healthy())
	assert.Empty(t, c.Notifications())
}

func TestControllerOldCriticalAgesOutOfHistory(t *testing.T) {
	results := []StatusMessage{{Status: Critical, Message: "bad"}}
	for i := 0; i < historySize; i++ {
		results = append(results, StatusMessage{Status: Healthy, Message: "ok"})
	}
	cond := &mockCondition{results: results}
	c := NewController([]Condition{cond}, time.Hour, newTestLogger())

	for i := 0; i < len(results); i++ {
		c.probeOnce()
	}

	assert.True(t, c.Healthy(), "critical reading should have scrolled out of the history window")
}
