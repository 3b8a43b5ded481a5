package objspace

// Frame is one call-stack entry. Stacks are ordered innermost first.
type Frame struct {
	Path  string
	Line  int
	Label string
}

// OpenEvent fires when a class or module body starts executing, for a
// first definition or a reopening. Path may be a pseudo-path such as
// "(eval)" for synthesized bodies.
type OpenEvent struct {
	Module *Module
	Path   string
	Line   int
	Stack  []Frame
}

// ConstructEvent fires when a construction call (Class.new, Module.new)
// returns a new module object.
type ConstructEvent struct {
	Result *Module
	Method string
	Path   string
	Line   int
	Stack  []Frame
}

// Hooks receives definition events. Handlers run synchronously on the
// goroutine that triggered the event.
type Hooks interface {
	OnOpen(OpenEvent)
	OnConstruct(ConstructEvent)
}

// Subscribe registers h and returns a function that removes it.
func (s *Space) Subscribe(h Hooks) (unsubscribe func()) {
	s.hooksMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.hooks[id] = h
	s.hooksMu.Unlock()
	return func() {
		s.hooksMu.Lock()
		delete(s.hooks, id)
		s.hooksMu.Unlock()
	}
}

// FireOpen delivers ev to every subscriber in subscription order.
func (s *Space) FireOpen(ev OpenEvent) {
	for _, h := range s.subscribers() {
		h.OnOpen(ev)
	}
}

// FireConstruct delivers ev to every subscriber in subscription order.
func (s *Space) FireConstruct(ev ConstructEvent) {
	for _, h := range s.subscribers() {
		h.OnConstruct(ev)
	}
}

func (s *Space) subscribers() []Hooks {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	out := make([]Hooks, 0, len(s.hooks))
	for id := 0; id < s.nextSub; id++ {
		if h, ok := s.hooks[id]; ok {
			out = append(out, h)
		}
	}
	return out
}
