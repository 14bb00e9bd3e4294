// Package probetest provides a manual clock and scripted websocket doubles
// for driving probe sessions in tests.
package probetest

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"regionping/internal/probe"
)

// Clock is a manually advanced probe.Clock.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*timer
}

type timer struct {
	clock   *Clock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewClock starts at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, fn func()) probe.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Pending counts timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward, firing due timers in deadline order on the
// caller's goroutine.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*timer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

// ErrClosed is returned by a Conn after Close.
var ErrClosed = errors.New("use of closed connection")

// Conn is a scripted probe.Conn. Writes are captured, frames are delivered
// on demand.
type Conn struct {
	writes    chan []byte
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{
		writes: make(chan []byte, 16),
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *Conn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return 2, frame, nil
	case <-c.closed:
		return 0, nil, ErrClosed
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Respond delivers one echo frame.
func (c *Conn) Respond() {
	c.frames <- []byte{0}
}

// Drop simulates the server ending the connection.
func (c *Conn) Drop() {
	c.dropOnce.Do(func() { close(c.frames) })
}

// ExpectWrite waits for the next probe frame.
func (c *Conn) ExpectWrite(t testing.TB) []byte {
	t.Helper()
	select {
	case data := <-c.writes:
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a probe to be sent")
		return nil
	}
}

// ExpectNoWrite asserts that no probe is sent within a short window.
func (c *Conn) ExpectNoWrite(t testing.TB) {
	t.Helper()
	select {
	case <-c.writes:
		t.Fatalf("unexpected probe sent")
	case <-time.After(30 * time.Millisecond):
	}
}

// Dial is one scripted dial outcome.
type Dial struct {
	Conn *Conn
	Err  error
}

// Dialer replays queued outcomes and refuses once the queue is empty.
type Dialer struct {
	mu      sync.Mutex
	results []Dial
	urls    []string
}

// Queue appends dial outcomes.
func (d *Dialer) Queue(results ...Dial) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *Dialer) Dial(_ context.Context, url string) (probe.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.results[0]
	d.results = d.results[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return next.Conn, nil
}

// Attempts counts Dial calls.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns every dialed address in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// WaitFor polls cond until it holds or fails the test after two seconds.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
