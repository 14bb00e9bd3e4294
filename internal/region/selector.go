package region

import (
	"log"
	"regexp"
	"sync"

	"regionping/internal/models"
)

// teamContextPattern matches page URLs of a team lobby, e.g. https://host/#abcd.
var teamContextPattern = regexp.MustCompile(`/#\w+`)

// Controls is the host page surface the selector reads region choices from.
type Controls interface {
	TeamRegion() string
	MainRegion() string
	PageURL() string
	// OnChange registers fn to run after any control changes and returns
	// a function that removes it.
	OnChange(fn func()) (unsubscribe func())
}

// Selector determines which regional endpoint the page has selected.
type Selector struct {
	controls Controls
	logger   *log.Logger

	mu   sync.Mutex
	last models.Region

	// deliverMu orders change deliveries so the last one to run always
	// reflects the newest page state.
	deliverMu sync.Mutex
}

// NewSelector creates a selector over the given page controls.
func NewSelector(controls Controls, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{controls: controls, logger: logger}
}

// IsTeamContext reports whether url points at a team lobby.
func IsTeamContext(url string) bool {
	return teamContextPattern.MatchString(url)
}

// SelectedTag returns the raw region value the page currently has chosen.
// The team control wins inside a team lobby; the main control otherwise,
// falling back to NA when it is empty.
func (s *Selector) SelectedTag() string {
	team := s.controls.TeamRegion()
	if IsTeamContext(s.controls.PageURL()) && team != "" {
		return team
	}
	if main := s.controls.MainRegion(); main != "" {
		return main
	}
	return string(models.RegionNA)
}

// Current resolves the selected region to its probe target.
func (s *Selector) Current() (models.ProbeTarget, error) {
	target, err := Resolve(s.SelectedTag())
	if err != nil {
		return models.ProbeTarget{}, err
	}
	s.mu.Lock()
	s.last = target.Region
	s.mu.Unlock()
	return target, nil
}

// Watch calls fn with the new target whenever a control change moves the
// selection to a different region. Unresolvable selections are logged and
// otherwise ignored. Deliveries never overlap, and fn must not call Watch.
func (s *Selector) Watch(fn func(models.ProbeTarget)) (unsubscribe func()) {
	return s.controls.OnChange(func() {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()

		target, err := Resolve(s.SelectedTag())
		if err != nil {
			s.logger.Printf("region selector: %v", err)
			return
		}

		s.mu.Lock()
		changed := target.Region != s.last
		s.last = target.Region
		s.mu.Unlock()

		if changed {
			fn(target)
		}
	})
}
