package probe_test

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"regionping/internal/models"
	"regionping/internal/probe"
	"regionping/internal/probe/probetest"
	"regionping/internal/region"
)

func newProber(t *testing.T, tag string, dialer *probetest.Dialer, clock *probetest.Clock) *probe.Prober {
	t.Helper()
	target, err := region.Resolve(tag)
	if err != nil {
		t.Fatalf("Resolve(%q) err=%v", tag, err)
	}
	p := probe.New(target, probe.Options{
		Dialer: dialer,
		Clock:  clock,
		Logger: log.New(io.Discard, "", 0),
	})
	t.Cleanup(p.Stop)
	return p
}

func TestProber_MeasuresRoundTrip(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: conn})

	p := newProber(t, "EU", dialer, clock)
	p.Start()

	payload := conn.ExpectWrite(t)
	if !bytes.Equal(payload, []byte{0}) {
		t.Fatalf("payload=%v want single zero byte", payload)
	}
	if got := dialer.URLs()[0]; got != "wss://eur.mathsiscoolfun.com:8001/ptc" {
		t.Fatalf("dialed %q", got)
	}

	clock.Advance(42 * time.Millisecond)
	conn.Respond()
	probetest.WaitFor(t, "latency reading", func() bool { return p.LatencyMs() == 42 })

	snap := p.Snapshot()
	if snap.State != probe.StateConnected || snap.Retries != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Target.Region != models.RegionEU {
		t.Fatalf("target=%+v", snap.Target)
	}
}

func TestProber_ChainsProbesAfterResponses(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: conn})

	p := newProber(t, "NA", dialer, clock)
	p.Start()
	conn.ExpectWrite(t)

	// Nothing is sent while the first probe is unanswered.
	clock.Advance(10 * time.Second)
	conn.ExpectNoWrite(t)

	conn.Respond()
	probetest.WaitFor(t, "response", func() bool { return p.State() == probe.StateConnected })

	clock.Advance(100 * time.Millisecond)
	conn.ExpectNoWrite(t)
	clock.Advance(150 * time.Millisecond)
	conn.ExpectWrite(t)
	if p.State() != probe.StateAwaiting {
		t.Fatalf("state=%s want awaiting", p.State())
	}

	clock.Advance(5 * time.Second)
	conn.ExpectNoWrite(t)
}

func TestProber_ClampsSlowResponses(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: conn})

	p := newProber(t, "SA", dialer, clock)
	p.Start()
	conn.ExpectWrite(t)

	clock.Advance(1500 * time.Millisecond)
	conn.Respond()
	probetest.WaitFor(t, "clamped reading", func() bool { return p.LatencyMs() == models.MaxLatencyMs })
}

func TestProber_InstantResponseIsNotUnknown(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: conn})

	p := newProber(t, "NA", dialer, clock)
	p.Start()
	conn.ExpectWrite(t)

	conn.Respond()
	probetest.WaitFor(t, "reading", func() bool { return p.LatencyMs() == 1 })
}

func TestProber_GivesUpAfterThreeFailures(t *testing.T) {
	clock := probetest.NewClock()
	dialer := &probetest.Dialer{}

	p := newProber(t, "Asia", dialer, clock)
	p.Start()

	for attempt := 1; attempt <= 2; attempt++ {
		probetest.WaitFor(t, "retry scheduled", func() bool {
			snap := p.Snapshot()
			return snap.State == probe.StateRetrying && snap.Retries == attempt
		})
		clock.Advance(999 * time.Millisecond)
		if dialer.Attempts() != attempt {
			t.Fatalf("reconnected before backoff elapsed: attempts=%d", dialer.Attempts())
		}
		clock.Advance(time.Millisecond)
	}

	probetest.WaitFor(t, "given up", func() bool { return p.State() == probe.StateGivenUp })
	clock.Advance(time.Minute)

	if dialer.Attempts() != 3 {
		t.Fatalf("attempts=%d want 3", dialer.Attempts())
	}
	if clock.Pending() != 0 {
		t.Fatalf("pending timers=%d want 0", clock.Pending())
	}
	if p.LatencyMs() != 0 {
		t.Fatalf("latency=%d want 0", p.LatencyMs())
	}
}

func TestProber_StartAfterGivingUpRetriesAgain(t *testing.T) {
	clock := probetest.NewClock()
	dialer := &probetest.Dialer{}
	dialer.Queue(
		probetest.Dial{Err: errors.New("refused")},
		probetest.Dial{Err: errors.New("refused")},
		probetest.Dial{Err: errors.New("refused")},
	)

	p := newProber(t, "NA", dialer, clock)
	p.Start()
	for i := 0; i < 2; i++ {
		probetest.WaitFor(t, "retry", func() bool { return p.State() == probe.StateRetrying })
		clock.Advance(time.Second)
	}
	probetest.WaitFor(t, "given up", func() bool { return p.State() == probe.StateGivenUp })

	conn := probetest.NewConn()
	dialer.Queue(probetest.Dial{Conn: conn})
	p.Start()
	conn.ExpectWrite(t)
	if got := p.Snapshot().Retries; got != 0 {
		t.Fatalf("retries=%d want 0", got)
	}
}

func TestProber_SuccessfulReconnectResetsRetries(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(
		probetest.Dial{Err: errors.New("reset")},
		probetest.Dial{Conn: conn},
	)

	p := newProber(t, "EU", dialer, clock)
	p.Start()
	probetest.WaitFor(t, "retry", func() bool { return p.Snapshot().Retries == 1 })

	clock.Advance(time.Second)
	conn.ExpectWrite(t)
	if got := p.Snapshot().Retries; got != 0 {
		t.Fatalf("retries=%d want 0", got)
	}
}

func TestProber_ConnectionLossReconnects(t *testing.T) {
	clock := probetest.NewClock()
	first := probetest.NewConn()
	second := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: first}, probetest.Dial{Conn: second})

	p := newProber(t, "NA", dialer, clock)
	p.Start()
	first.ExpectWrite(t)
	clock.Advance(30 * time.Millisecond)
	first.Respond()
	probetest.WaitFor(t, "reading", func() bool { return p.LatencyMs() == 30 })

	first.Drop()
	probetest.WaitFor(t, "retrying", func() bool { return p.State() == probe.StateRetrying })
	if !first.IsClosed() {
		t.Fatalf("dropped connection was not closed")
	}
	if p.LatencyMs() != 0 {
		t.Fatalf("latency=%d want 0 after loss", p.LatencyMs())
	}

	// The probe timer of the dropped connection must not fire a send.
	clock.Advance(time.Second)
	second.ExpectWrite(t)
	first.ExpectNoWrite(t)
}

func TestProber_StartIsIdempotent(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: conn})

	p := newProber(t, "NA", dialer, clock)
	p.Start()
	p.Start()
	conn.ExpectWrite(t)
	p.Start()
	conn.ExpectNoWrite(t)

	if dialer.Attempts() != 1 {
		t.Fatalf("attempts=%d want 1", dialer.Attempts())
	}
}

func TestProber_StopCancelsSession(t *testing.T) {
	clock := probetest.NewClock()
	conn := probetest.NewConn()
	dialer := &probetest.Dialer{}
	dialer.Queue(probetest.Dial{Conn: conn})

	p := newProber(t, "EU", dialer, clock)
	p.Start()
	conn.ExpectWrite(t)
	clock.Advance(20 * time.Millisecond)
	conn.Respond()
	probetest.WaitFor(t, "reading", func() bool { return p.LatencyMs() == 20 })

	p.Stop()
	if !conn.IsClosed() {
		t.Fatalf("connection left open after Stop")
	}
	clock.Advance(5 * time.Second)
	conn.ExpectNoWrite(t)

	snap := p.Snapshot()
	if snap.State != probe.StateStopped || snap.LatencyMs != 0 || snap.Retries != 0 {
		t.Fatalf("snapshot after stop=%+v", snap)
	}
	if dialer.Attempts() != 1 {
		t.Fatalf("attempts=%d want 1", dialer.Attempts())
	}
}

func TestProber_StopDuringBackoff(t *testing.T) {
	clock := probetest.NewClock()
	dialer := &probetest.Dialer{}

	p := newProber(t, "SA", dialer, clock)
	p.Start()
	probetest.WaitFor(t, "retry", func() bool { return p.State() == probe.StateRetrying })

	p.Stop()
	clock.Advance(10 * time.Second)
	if dialer.Attempts() != 1 {
		t.Fatalf("attempts=%d want 1", dialer.Attempts())
	}
}
