package hud

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"regionping/internal/models"
	"regionping/internal/ping"
	"regionping/internal/probe"
)

type staticSource struct {
	status ping.Status
}

func (s *staticSource) Status() ping.Status { return s.status }

func TestFormat(t *testing.T) {
	if got := Format(models.PingResult{Region: "EU", Ping: 42}); got != "PING: 42 ms" {
		t.Fatalf("Format=%q", got)
	}
	if got := Format(models.PingResult{Region: "EU"}); got != "PING: - ms" {
		t.Fatalf("Format unknown=%q", got)
	}
}

func TestStatusLine(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	status := ping.Status{
		Result:      models.PingResult{Region: "Asia", Ping: 180},
		State:       probe.StateConnected,
		LastReading: now.Add(-3 * time.Second),
	}
	want := "[Asia] PING: 180 ms (updated 3 seconds ago) connected"
	if got := StatusLine(status, now); got != want {
		t.Fatalf("StatusLine=%q want %q", got, want)
	}
}

func TestCounter_RenderOnlyOnChangeAndWhenVisible(t *testing.T) {
	source := &staticSource{status: ping.Status{Result: models.PingResult{Region: "NA", Ping: 20}}}
	var out bytes.Buffer
	visible := true
	c := NewCounter(source, &out, time.Second, func() bool { return visible })

	if wrote, err := c.Render(); err != nil || !wrote {
		t.Fatalf("first render wrote=%v err=%v", wrote, err)
	}
	if wrote, _ := c.Render(); wrote {
		t.Fatalf("unchanged line rendered twice")
	}

	source.status.Result.Ping = 25
	c.Render()

	visible = false
	source.status.Result.Ping = 30
	if wrote, _ := c.Render(); wrote {
		t.Fatalf("rendered while hidden")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[0] != "[NA] PING: 20 ms" || lines[1] != "[NA] PING: 25 ms" {
		t.Fatalf("lines=%q", lines)
	}
}
