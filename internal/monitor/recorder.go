package monitor

import (
	"log"
	"time"

	"regionping/internal/models"
	"regionping/internal/ping"
)

// StatusSource exposes the current probing status.
type StatusSource interface {
	Status() ping.Status
}

// Sink persists recorded samples.
type Sink interface {
	Append(models.LatencySample) error
}

// Recorder periodically samples the ping estimate into a sink.
type Recorder struct {
	source   StatusSource
	sink     Sink
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRecorder configures a recorder writing to sink.
func NewRecorder(source StatusSource, sink Sink, interval time.Duration, logger *log.Logger) *Recorder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the recording loop in a goroutine.
func (r *Recorder) Start() {
	go r.run()
}

// Stop requests the loop to terminate and waits until it is done.
func (r *Recorder) Stop() {
	select {
	case <-r.doneCh:
		return
	default:
	}
	close(r.stopCh)
	<-r.doneCh
}

// RecordOnce samples the current status. It reports false when no region
// has been selected yet.
func (r *Recorder) RecordOnce() (models.LatencySample, bool) {
	status := r.source.Status()
	if status.Result.Region == "" {
		return models.LatencySample{}, false
	}

	sample := models.LatencySample{
		Region:    status.Result.Region,
		PingMs:    status.Result.Ping,
		OK:        status.Result.Known(),
		State:     string(status.State),
		CheckedAt: r.now().UTC(),
	}

	if err := r.sink.Append(sample); err != nil {
		r.logger.Printf("record latency sample: %v", err)
	}
	return sample, true
}

func (r *Recorder) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RecordOnce()
		case <-r.stopCh:
			return
		}
	}
}
