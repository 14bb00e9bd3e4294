package region

import "sync"

// PageState is a snapshot of the host page controls.
type PageState struct {
	TeamRegion string `json:"team_region"`
	MainRegion string `json:"main_region"`
	URL        string `json:"url"`
}

// Page is an in-memory host page. Setters notify change listeners after the
// new state is visible.
type Page struct {
	mu        sync.RWMutex
	state     PageState
	nextID    int
	listeners map[int]func()
}

// NewPage seeds a page with the given state.
func NewPage(initial PageState) *Page {
	return &Page{state: initial, listeners: make(map[int]func())}
}

func (p *Page) TeamRegion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.TeamRegion
}

func (p *Page) MainRegion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.MainRegion
}

func (p *Page) PageURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.URL
}

// State returns a copy of the current controls.
func (p *Page) State() PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// OnChange implements Controls.
func (p *Page) OnChange(fn func()) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SetTeamRegion changes the team lobby selector.
func (p *Page) SetTeamRegion(tag string) {
	p.update(func(s *PageState) { s.TeamRegion = tag })
}

// SetMainRegion changes the main menu selector.
func (p *Page) SetMainRegion(tag string) {
	p.update(func(s *PageState) { s.MainRegion = tag })
}

// Navigate changes the page URL.
func (p *Page) Navigate(url string) {
	p.update(func(s *PageState) { s.URL = url })
}

// Apply replaces the whole state and fires a single change event.
func (p *Page) Apply(state PageState) {
	p.update(func(s *PageState) { *s = state })
}

func (p *Page) update(mutate func(*PageState)) {
	p.mu.Lock()
	before := p.state
	mutate(&p.state)
	changed := before != p.state
	listeners := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}
