package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// historySize bounds how many recent probes a condition's window
// remembers before the oldest reading ages out.
const historySize = 5

// statusWindow remembers a condition's last historySize probe
// results and reports the worst of them, so a single flaky Healthy
// reading right after a Critical one doesn't immediately clear it.
type statusWindow struct {
	entries []StatusMessage
}

func (w *statusWindow) record(s StatusMessage) {
	w.entries = append(w.entries, s)
	if len(w.entries) > historySize {
		w.entries = w.entries[1:]
	}
}

func (w *statusWindow) worst() StatusMessage {
	var worst StatusMessage
	for _, e := range w.entries {
		if e.Status > worst.Status {
			worst = e
		}
	}
	return worst
}

// Controller periodically probes a fixed set of Conditions, keeping
// each one's recent-status window up to date for Notifications and
// Healthy to query.
type Controller struct {
	mu         sync.RWMutex
	conditions []Condition
	windows    []statusWindow

	interval time.Duration
	logger   *logrus.Logger

	stop chan struct{}
}

func NewController(conditions []Condition, interval time.Duration, logger *logrus.Logger) *Controller {
	return &Controller{
		conditions: conditions,
		windows:    make([]statusWindow, len(conditions)),
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called. Intended to run in
// its own goroutine.
func (c *Controller) Start() {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.probeOnce()
		}
	}
}

func (c *Controller) Stop() { close(c.stop) }

func (c *Controller) probeOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cond := range c.conditions {
		s, err := cond.Probe()
		if err != nil {
			s = StatusMessage{Status: Critical, Message: err.Error()}
			c.logger.WithError(err).
				WithField("probe", fmt.Sprintf("%T", cond)).
				Warn("health probe failed")
		}
		c.windows[i].record(s)
	}
}

// Notifications returns the messages of every condition whose worst
// reading in its window is above Healthy.
func (c *Controller) Notifications() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var messages []string
	for _, w := range c.windows {
		if s := w.worst(); s.Status > Healthy {
			messages = append(messages, s.Message)
		}
	}
	return messages
}

// Healthy reports whether every condition's worst recent reading is
// at or below Healthy.
func (c *Controller) Healthy() bool {
	return len(c.Notifications()) == 0
}
