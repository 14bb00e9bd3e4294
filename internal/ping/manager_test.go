package ping

import (
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

type harness struct {
	page    *region.Page
	clock   *probetest.Clock
	dialer  *probetest.Dialer
	manager *Manager
}

func newHarness(t *testing.T, state region.PageState) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	h := &harness{
		page:   region.NewPage(state),
		clock:  probetest.NewClock(),
		dialer: &probetest.Dialer{},
	}
	factory := ProberFactory(probe.Options{Dialer: h.dialer, Clock: h.clock, Logger: quiet})
	h.manager = NewManager(region.NewSelector(h.page, quiet), factory, quiet)
	h.manager.Watch()
	t.Cleanup(h.manager.Close)
	return h
}

func TestManager_ReportsMeasuredLatency(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "EU"})
	conn := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: conn})

	if got := h.manager.GetPingResult(); got.Ping != 0 {
		t.Fatalf("result before start=%+v", got)
	}
	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	conn.ExpectWrite(t)
	h.clock.Advance(42 * time.Millisecond)
	conn.Respond()

	want := models.PingResult{Region: "EU", Ping: 42}
	probetest.WaitFor(t, "EU reading", func() bool { return h.manager.GetPingResult() == want })
}

func TestManager_GivesUpSilently(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "NA"})
	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}

	for i := 0; i < 2; i++ {
		probetest.WaitFor(t, "retry", func() bool { return h.manager.Status().State == probe.StateRetrying })
		h.clock.Advance(time.Second)
	}
	probetest.WaitFor(t, "given up", func() bool { return h.manager.Status().State == probe.StateGivenUp })
	h.clock.Advance(time.Hour)

	if got := h.manager.GetPingResult(); got != (models.PingResult{Region: "NA", Ping: 0}) {
		t.Fatalf("result=%+v", got)
	}
	if h.dialer.Attempts() != 3 {
		t.Fatalf("attempts=%d want 3", h.dialer.Attempts())
	}

	conn := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: conn})
	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	conn.ExpectWrite(t)
	if h.manager.Generation() != 2 {
		t.Fatalf("generation=%d want 2", h.manager.Generation())
	}
}

func TestManager_RestartSameRegion(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "EU"})
	first := probetest.NewConn()
	second := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: first}, probetest.Dial{Conn: second})

	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	first.ExpectWrite(t)
	if err := h.manager.Restart(); err != nil {
		t.Fatalf("Restart err=%v", err)
	}
	second.ExpectWrite(t)
	if !first.IsClosed() {
		t.Fatalf("previous connection left open")
	}
}

func TestManager_RegionSwitchReplacesSession(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "NA"})
	na := probetest.NewConn()
	asia := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: na}, probetest.Dial{Conn: asia})

	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	na.ExpectWrite(t)
	h.clock.Advance(15 * time.Millisecond)
	na.Respond()
	probetest.WaitFor(t, "NA reading", func() bool { return h.manager.GetPingResult().Ping == 15 })

	// The next NA probe is scheduled but not yet sent.
	h.page.SetMainRegion("Asia")

	if !na.IsClosed() {
		t.Fatalf("NA connection still open after region switch")
	}
	asia.ExpectWrite(t)
	urls := h.dialer.URLs()
	if len(urls) != 2 || urls[1] != "wss://asr.mathsiscoolfun.com:8001/ptc" {
		t.Fatalf("dialed %v", urls)
	}

	got := h.manager.GetPingResult()
	if got.Region != "Asia" || got.Ping != 0 {
		t.Fatalf("result after switch=%+v want fresh Asia session", got)
	}

	h.clock.Advance(10 * time.Second)
	na.ExpectNoWrite(t)

	asia.Respond()
	probetest.WaitFor(t, "Asia reading", func() bool { return h.manager.GetPingResult().Ping > 0 })
	if h.manager.Generation() != 2 {
		t.Fatalf("generation=%d want 2", h.manager.Generation())
	}
}

func TestManager_SwitchDuringInFlightProbe(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "NA"})
	na := probetest.NewConn()
	asia := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: na}, probetest.Dial{Conn: asia})

	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	na.ExpectWrite(t)

	h.page.SetMainRegion("Asia")
	asia.ExpectWrite(t)
	h.clock.Advance(60 * time.Millisecond)
	asia.Respond()

	probetest.WaitFor(t, "Asia reading", func() bool {
		return h.manager.GetPingResult() == models.PingResult{Region: "Asia", Ping: 60}
	})
	if !na.IsClosed() {
		t.Fatalf("NA connection still open")
	}
}

func TestManager_SameRegionIsNoop(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "SA"})
	conn := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: conn})

	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	h.page.SetMainRegion("sa")
	conn.ExpectWrite(t)

	if h.manager.Generation() != 1 {
		t.Fatalf("generation=%d want 1", h.manager.Generation())
	}
	if conn.IsClosed() {
		t.Fatalf("connection closed on same-region restart")
	}
}

func TestManager_UnknownRegion(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "Atlantis"})
	err := h.manager.StartPingTest()
	if !errors.Is(err, region.ErrUnknownRegion) {
		t.Fatalf("err=%v want ErrUnknownRegion", err)
	}
	if got := h.manager.GetPingResult(); got.Ping != 0 || got.Region != "" {
		t.Fatalf("result=%+v", got)
	}
	if h.dialer.Attempts() != 0 {
		t.Fatalf("dialed despite unknown region")
	}
}

func TestManager_ResetPing(t *testing.T) {
	h := newHarness(t, region.PageState{MainRegion: "EU"})
	conn := probetest.NewConn()
	h.dialer.Queue(probetest.Dial{Conn: conn})

	if err := h.manager.StartPingTest(); err != nil {
		t.Fatalf("StartPingTest err=%v", err)
	}
	conn.ExpectWrite(t)
	h.clock.Advance(25 * time.Millisecond)
	conn.Respond()
	probetest.WaitFor(t, "reading", func() bool { return h.manager.GetPingResult().Ping == 25 })

	h.manager.ResetPing()
	if !conn.IsClosed() {
		t.Fatalf("connection left open")
	}
	if got := h.manager.GetPingResult(); got != (models.PingResult{Region: "EU"}) {
		t.Fatalf("result after reset=%+v", got)
	}
	if st := h.manager.Status(); st.State != probe.StateIdle {
		t.Fatalf("status after reset=%+v", st)
	}
}
