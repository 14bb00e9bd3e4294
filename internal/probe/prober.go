package probe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"regionping/internal/models"
)

const (
	DefaultProbeInterval    = 250 * time.Millisecond
	DefaultReconnectBackoff = time.Second
	DefaultMaxRetries       = 3
)

// State is the lifecycle position of a probing session.
//
//	idle -> connecting -> connected <-> awaiting
//	connecting | connected | awaiting -> retrying -> connecting
//	retrying -> given_up (after MaxRetries consecutive failures)
//	any -> stopped (Stop)
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateAwaiting   State = "awaiting"
	StateRetrying   State = "retrying"
	StateGivenUp    State = "given_up"
	StateStopped    State = "stopped"
)

// probePayload is the fixed request frame understood by the echo endpoint.
var probePayload = []byte{0}

var errNotOpen = errors.New("connection not open")

// Options tunes a Prober. Zero values fall back to defaults.
type Options struct {
	ProbeInterval    time.Duration
	ReconnectBackoff time.Duration
	MaxRetries       int
	Dialer           Dialer
	Clock            Clock
	Logger           *log.Logger
}

func (o Options) withDefaults() Options {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = DefaultProbeInterval
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = DefaultReconnectBackoff
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(0)
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Snapshot is a point-in-time view of a prober.
type Snapshot struct {
	Target      models.ProbeTarget
	State       State
	LatencyMs   int
	Retries     int
	LastReading time.Time
}

// session is one open connection plus its writer.
type session struct {
	conn   Conn
	writes chan struct{}
	done   chan struct{}
}

// Prober keeps a single connection to one endpoint and measures round-trip
// latency with a chained probe loop: the next probe is scheduled only after
// the previous response arrives, so at most one probe is ever in flight.
//
// Every asynchronous callback captures the generation current when it was
// created and does nothing if Stop has since advanced it.
type Prober struct {
	target models.ProbeTarget
	opts   Options

	mu          sync.Mutex
	gen         uint64
	state       State
	sess        *session
	connecting  bool
	inFlight    bool
	lastSend    time.Time
	latency     int
	retries     int
	lastReading time.Time
	probeTimer  Timer
	retryTimer  Timer
	cancelDial  context.CancelFunc
}

// New creates an idle prober for target.
func New(target models.ProbeTarget, opts Options) *Prober {
	return &Prober{
		target: target,
		opts:   opts.withDefaults(),
		state:  StateIdle,
	}
}

// Target returns the endpoint this prober measures.
func (p *Prober) Target() models.ProbeTarget {
	return p.target
}

// Start opens the connection. It is a no-op while connecting or connected.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connecting || p.sess != nil {
		return
	}
	if p.state == StateGivenUp || p.state == StateStopped {
		p.retries = 0
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.connectLocked()
}

// Stop closes the connection, cancels pending work and clears the reading.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if p.cancelDial != nil {
		p.cancelDial()
		p.cancelDial = nil
	}
	p.stopTimersLocked()
	p.closeSessionLocked()
	p.connecting = false
	p.inFlight = false
	p.retries = 0
	p.latency = 0
	p.lastReading = time.Time{}
	p.state = StateStopped
}

// LatencyMs returns the last measured latency, 0 when unknown.
func (p *Prober) LatencyMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

// State returns the current lifecycle state.
func (p *Prober) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the prober's current view without touching the network.
func (p *Prober) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Target:      p.target,
		State:       p.state,
		LatencyMs:   p.latency,
		Retries:     p.retries,
		LastReading: p.lastReading,
	}
}

func (p *Prober) connectLocked() {
	p.connecting = true
	p.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelDial = cancel
	go p.dial(ctx, p.gen)
}

func (p *Prober) dial(ctx context.Context, gen uint64) {
	url := p.target.URL()
	conn, err := p.opts.Dialer.Dial(ctx, url)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if p.cancelDial != nil {
		p.cancelDial()
		p.cancelDial = nil
	}
	if err != nil {
		p.failLocked(fmt.Errorf("dial %s: %w", url, err))
		return
	}

	sess := &session{
		conn:   conn,
		writes: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.sess = sess
	p.retries = 0
	p.connecting = false
	p.state = StateConnected

	go p.readLoop(sess, gen)
	go p.writeLoop(sess, gen)
	p.sendProbeLocked()
}

// sendProbeLocked stamps the send time and hands the payload to the writer.
func (p *Prober) sendProbeLocked() {
	if p.sess == nil {
		p.failLocked(errNotOpen)
		return
	}
	if p.inFlight {
		return
	}
	p.lastSend = p.opts.Clock.Now()
	p.inFlight = true
	p.state = StateAwaiting
	select {
	case p.sess.writes <- struct{}{}:
	default:
	}
}

func (p *Prober) writeLoop(sess *session, gen uint64) {
	for {
		select {
		case <-sess.done:
			return
		case <-sess.writes:
			if err := sess.conn.WriteMessage(websocket.BinaryMessage, probePayload); err != nil {
				p.onConnError(sess, gen, fmt.Errorf("send probe: %w", err))
				return
			}
		}
	}
}

func (p *Prober) readLoop(sess *session, gen uint64) {
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			p.onConnError(sess, gen, fmt.Errorf("connection closed: %w", err))
			return
		}
		p.onResponse(sess, gen)
	}
}

func (p *Prober) onResponse(sess *session, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || p.sess != sess || !p.inFlight {
		return
	}
	now := p.opts.Clock.Now()
	p.latency = clampLatency(now.Sub(p.lastSend))
	p.lastReading = now
	p.inFlight = false
	p.state = StateConnected

	p.probeTimer = p.opts.Clock.AfterFunc(p.opts.ProbeInterval, func() {
		p.probeTick(gen)
	})
}

func (p *Prober) probeTick(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		return
	}
	p.probeTimer = nil
	p.sendProbeLocked()
}

func (p *Prober) onConnError(sess *session, gen uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The session may already have been torn down by the other loop.
	if gen != p.gen || p.sess != sess {
		return
	}
	p.failLocked(err)
}

// failLocked records a failure and either schedules a reconnection or gives up.
func (p *Prober) failLocked(err error) {
	p.closeSessionLocked()
	if p.probeTimer != nil {
		p.probeTimer.Stop()
		p.probeTimer = nil
	}
	p.connecting = false
	p.inFlight = false
	p.latency = 0
	p.retries++

	if p.retries >= p.opts.MaxRetries {
		p.state = StateGivenUp
		p.opts.Logger.Printf("ping %s: giving up after %d attempts: %v", p.target.Region, p.retries, err)
		return
	}

	p.state = StateRetrying
	p.opts.Logger.Printf("ping %s: attempt %d failed, retrying in %s: %v", p.target.Region, p.retries, p.opts.ReconnectBackoff, err)
	if p.retryTimer != nil {
		return
	}
	gen := p.gen
	p.retryTimer = p.opts.Clock.AfterFunc(p.opts.ReconnectBackoff, func() {
		p.reconnect(gen)
	})
}

func (p *Prober) reconnect(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		return
	}
	p.retryTimer = nil
	if p.connecting || p.sess != nil || p.state == StateGivenUp {
		return
	}
	p.connectLocked()
}

func (p *Prober) closeSessionLocked() {
	if p.sess == nil {
		return
	}
	close(p.sess.done)
	_ = p.sess.conn.Close()
	p.sess = nil
}

func (p *Prober) stopTimersLocked() {
	if p.probeTimer != nil {
		p.probeTimer.Stop()
		p.probeTimer = nil
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
}

// clampLatency rounds d to whole milliseconds within [1, MaxLatencyMs].
// 0 is reserved for "unknown" and never produced from a real reading.
func clampLatency(d time.Duration) int {
	ms := int((d + time.Millisecond/2) / time.Millisecond)
	if ms < 1 {
		return 1
	}
	if ms > models.MaxLatencyMs {
		return models.MaxLatencyMs
	}
	return ms
}
