package synth

import (
	"sync"
	"time"
)

// MockConfig shapes the simulated engine. Zero values give a small
// English voice set, instant voice availability and 20 ms per word.
type MockConfig struct {
	Voices []Voice
	// VoicesAfter delays voice availability to exercise the
	// voiceschanged path. Zero means voices are present from the start.
	VoicesAfter time.Duration
	WordDelay   time.Duration
	// FailCode, when set, aborts the utterance with that engine error
	// after FailAfterWords boundaries.
	FailCode       ErrorCode
	FailAfterWords int
}

type mockEngine struct {
	cfg  MockConfig
	mu   sync.Mutex
	cond *sync.Cond

	voices   []Voice
	speaking bool
	pending  bool
	paused   bool
	canceled bool
	current  *Utterance
	gen      int

	listeners map[int]func()
	nextID    int
}

// NewMock builds a deterministic in-process engine used by tests and
// by deployments without a real synthesizer.
func NewMock(cfg MockConfig) Engine {
	if cfg.WordDelay <= 0 {
		cfg.WordDelay = 20 * time.Millisecond
	}
	if cfg.Voices == nil {
		cfg.Voices = []Voice{
			{Name: "Alloy", Lang: "en-US", URI: "mock:en-US/alloy", Local: true, Default: true},
			{Name: "Hana", Lang: "ja-JP", URI: "mock:ja-JP/hana", Local: true},
		}
	}
	m := &mockEngine{cfg: cfg, listeners: make(map[int]func())}
	m.cond = sync.NewCond(&m.mu)
	if cfg.VoicesAfter <= 0 {
		m.voices = cfg.Voices
	} else {
		time.AfterFunc(cfg.VoicesAfter, m.deliverVoices)
	}
	return m
}

func (m *mockEngine) deliverVoices() {
	m.mu.Lock()
	m.voices = m.cfg.Voices
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *mockEngine) Speak(u *Utterance) error {
	m.mu.Lock()
	m.pending = true
	m.canceled = false
	m.current = u
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.run(u, gen)
	return nil
}

func (m *mockEngine) run(u *Utterance, gen int) {
	m.mu.Lock()
	if m.canceled || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.pending = false
	m.speaking = true
	m.mu.Unlock()

	if u.OnStart != nil {
		u.OnStart()
	}

	spans := wordSpans(u.Text)
	for i, sp := range spans {
		if !m.await(gen) {
			m.finish(gen)
			if u.OnError != nil {
				u.OnError(CodeInterrupted)
			}
			return
		}
		if m.cfg.FailCode != "" && i >= m.cfg.FailAfterWords {
			m.finish(gen)
			if u.OnError != nil {
				u.OnError(m.cfg.FailCode)
			}
			return
		}
		if u.OnBoundary != nil {
			u.OnBoundary(sp.start, sp.word)
		}
	}
	if !m.await(gen) {
		m.finish(gen)
		if u.OnError != nil {
			u.OnError(CodeInterrupted)
		}
		return
	}
	m.finish(gen)
	if u.OnEnd != nil {
		u.OnEnd()
	}
}

// await sleeps one word slot, honoring pause. It returns false when the
// utterance was canceled or superseded.
func (m *mockEngine) await(gen int) bool {
	deadline := time.Now().Add(m.cfg.WordDelay)
	for {
		m.mu.Lock()
		for m.paused && !m.canceled && m.gen == gen {
			m.cond.Wait()
		}
		dead := m.canceled || m.gen != gen
		m.mu.Unlock()
		if dead {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		time.Sleep(remaining)
	}
}

func (m *mockEngine) finish(gen int) {
	m.mu.Lock()
	if m.gen == gen {
		m.speaking = false
		m.pending = false
		m.paused = false
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *mockEngine) Cancel() {
	m.mu.Lock()
	m.canceled = true
	m.pending = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mockEngine) Pause() error {
	m.mu.Lock()
	u := m.current
	if m.speaking {
		m.paused = true
	}
	m.mu.Unlock()
	if u != nil && u.OnPause != nil {
		u.OnPause()
	}
	return nil
}

func (m *mockEngine) Resume() error {
	m.mu.Lock()
	u := m.current
	m.paused = false
	m.cond.Broadcast()
	m.mu.Unlock()
	if u != nil && u.OnResume != nil {
		u.OnResume()
	}
	return nil
}

func (m *mockEngine) Voices() []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Voice, len(m.voices))
	copy(out, m.voices)
	return out
}

func (m *mockEngine) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

func (m *mockEngine) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *mockEngine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *mockEngine) OnVoicesChanged(fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

type span struct {
	start int
	word  string
}

// wordSpans splits text into whitespace-delimited words with their
// starting byte offsets.
func wordSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if start >= 0 {
				spans = append(spans, span{start: start, word: text[start:i]})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start: start, word: text[start:]})
	}
	return spans
}
