package hud

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"regionping/internal/models"
	"regionping/internal/ping"
)

// StatusSource exposes the current probing status.
type StatusSource interface {
	Status() ping.Status
}

// Format renders the ping counter text.
func Format(result models.PingResult) string {
	if !result.Known() {
		return "PING: - ms"
	}
	return fmt.Sprintf("PING: %d ms", result.Ping)
}

// StatusLine renders the counter with its region and reading age.
func StatusLine(status ping.Status, now time.Time) string {
	line := Format(status.Result)
	if status.Result.Region != "" {
		line = fmt.Sprintf("[%s] %s", status.Result.Region, line)
	}
	if !status.LastReading.IsZero() {
		line += " (updated " + humanize.RelTime(status.LastReading, now, "ago", "from now") + ")"
	}
	if status.State != "" {
		line += " " + string(status.State)
	}
	return line
}

// Counter periodically writes the status line while visible. A line is only
// written when its text changes.
type Counter struct {
	source   StatusSource
	out      io.Writer
	interval time.Duration
	visible  func() bool
	now      func() time.Time

	mu   sync.Mutex
	last string

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCounter creates a HUD counter. visible may be nil for always on.
func NewCounter(source StatusSource, out io.Writer, interval time.Duration, visible func() bool) *Counter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if visible == nil {
		visible = func() bool { return true }
	}
	return &Counter{
		source:   source,
		out:      out,
		interval: interval,
		visible:  visible,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the refresh loop.
func (c *Counter) Start() {
	go c.run()
}

// Stop terminates the refresh loop and waits for it.
func (c *Counter) Stop() {
	select {
	case <-c.doneCh:
		return
	default:
	}
	close(c.stopCh)
	<-c.doneCh
}

// Render writes the current line if visible and changed. It reports whether
// anything was written.
func (c *Counter) Render() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.visible() {
		c.last = ""
		return false, nil
	}
	line := StatusLine(c.source.Status(), c.now())
	if line == c.last {
		return false, nil
	}
	c.last = line
	if _, err := fmt.Fprintln(c.out, line); err != nil {
		return false, fmt.Errorf("write hud: %w", err)
	}
	return true, nil
}

func (c *Counter) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Render(); err != nil {
				return
			}
		case <-c.stopCh:
			return
		}
	}
}
