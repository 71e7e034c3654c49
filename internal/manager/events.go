package manager

// Event represents a coordinator lifecycle event.
// Minimal and stable: name + generation and optional fields via key/values.
type Event struct {
	Name       string
	Generation uint64
	Fields     map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// SetEventPublisher replaces the publisher; nil restores the no-op default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.pubMu.Lock()
	m.publisher = p
	m.pubMu.Unlock()
}

func (m *Manager) publish(name string, gen uint64, fields map[string]any) {
	m.pubMu.RLock()
	p := m.publisher
	m.pubMu.RUnlock()
	p.Publish(Event{Name: name, Generation: gen, Fields: fields})
}
