package controller

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/settings"
	"github.com/voxbridge-labs/voxbridge-core/internal/synth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type emitted struct {
	kind    protocol.Kind
	payload any
}

// eventLog collects machine broadcasts and signals lifecycle edges so
// tests can wait without sleeping.
type eventLog struct {
	mu       sync.Mutex
	events   []emitted
	started  chan struct{}
	terminal chan protocol.Kind
}

func newEventLog() *eventLog {
	return &eventLog{
		started:  make(chan struct{}, 4),
		terminal: make(chan protocol.Kind, 4),
	}
}

func (l *eventLog) emit(kind protocol.Kind, payload any) {
	l.mu.Lock()
	l.events = append(l.events, emitted{kind: kind, payload: payload})
	l.mu.Unlock()
	switch kind {
	case protocol.KindTTSStarted:
		l.started <- struct{}{}
	case protocol.KindTTSCompleted, protocol.KindTTSStopped, protocol.KindTTSError:
		l.terminal <- kind
	}
}

func (l *eventLog) kinds() []protocol.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Kind, len(l.events))
	for i, e := range l.events {
		out[i] = e.kind
	}
	return out
}

func (l *eventLog) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-l.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TTS_STARTED")
	}
}

func (l *eventLog) waitTerminal(t *testing.T) protocol.Kind {
	t.Helper()
	select {
	case kind := <-l.terminal:
		return kind
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return ""
	}
}

func newTestMachine(t *testing.T, engine synth.Engine, cfg MachineConfig) (*Machine, *eventLog) {
	t.Helper()
	log := newEventLog()
	m := NewMachine(engine, cfg, log.emit, nil, testLogger())
	return m, log
}

func TestPlayHappyPath(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: 2 * time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	uid, err := m.Play("hello out there world", synth.Voice{URI: "mock:en-US/alloy"}, Params{Rate: 1.0})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if uid != 1 {
		t.Fatalf("first utterance id = %d", uid)
	}

	if kind := log.waitTerminal(t); kind != protocol.KindTTSCompleted {
		t.Fatalf("terminal = %s, want TTS_COMPLETED", kind)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after completion = %s", got)
	}

	kinds := log.kinds()
	if kinds[0] != protocol.KindTTSStarted {
		t.Fatalf("first event = %s", kinds[0])
	}
	terminals := 0
	for _, k := range kinds {
		switch k {
		case protocol.KindTTSCompleted, protocol.KindTTSStopped, protocol.KindTTSError:
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d in %v", terminals, kinds)
	}
}

func TestProgressNeverRunsBackwards(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: 2 * time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play("one two three four five six", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitTerminal(t)

	last := -1.0
	log.mu.Lock()
	defer log.mu.Unlock()
	for _, ev := range log.events {
		p, ok := ev.payload.(protocol.Progress)
		if !ok {
			continue
		}
		if p.Fraction < last {
			t.Fatalf("progress went backwards: %v after %v", p.Fraction, last)
		}
		if p.Fraction < 0 || p.Fraction > 1 {
			t.Fatalf("fraction out of range: %v", p.Fraction)
		}
		last = p.Fraction
	}
	if last < 0 {
		t.Fatal("no progress events observed")
	}
}

func TestPlayValidation(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: time.Millisecond})
	m, _ := newTestMachine(t, engine, MachineConfig{MaxTextLength: 10})

	if _, err := m.Play("   ", synth.Voice{}, Params{}); protocol.KindOf(err) != protocol.ErrEmptyInput {
		t.Fatalf("whitespace text: %v", err)
	}
	if _, err := m.Play(strings.Repeat("x", 11), synth.Voice{}, Params{}); protocol.KindOf(err) != protocol.ErrTooLong {
		t.Fatalf("long text: %v", err)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("rejected plays must not leave idle, state = %s", got)
	}
}

func TestPlayLengthBoundary(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play(strings.Repeat("a", DefaultMaxTextLength+1), synth.Voice{}, Params{}); protocol.KindOf(err) != protocol.ErrTooLong {
		t.Fatalf("1001 chars: %v", err)
	}
	if _, err := m.Play(strings.Repeat("a", DefaultMaxTextLength), synth.Voice{}, Params{}); err != nil {
		t.Fatalf("1000 chars rejected: %v", err)
	}
	log.waitTerminal(t)
}

func TestPlayLengthCountsRunes(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{MaxTextLength: 10})

	// 10 runes but 30 bytes; byte counting would reject this.
	if _, err := m.Play(strings.Repeat("あ", 10), synth.Voice{}, Params{}); err != nil {
		t.Fatalf("10 runes rejected: %v", err)
	}
	log.waitTerminal(t)

	if _, err := m.Play(strings.Repeat("あ", 11), synth.Voice{}, Params{}); protocol.KindOf(err) != protocol.ErrTooLong {
		t.Fatalf("11 runes: %v", err)
	}
}

func TestPlayWhileBusy(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: 50 * time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play("a long utterance with many words here", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("first play: %v", err)
	}
	if _, err := m.Play("second", synth.Voice{}, Params{}); protocol.KindOf(err) != protocol.ErrBusy {
		t.Fatalf("expected busy, got %v", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	log.waitTerminal(t)
}

func TestStopEmitsStoppedNotError(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: 30 * time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	uid, err := m.Play("words to be interrupted midway through", synth.Voice{}, Params{})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitStarted(t)

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if kind := log.waitTerminal(t); kind != protocol.KindTTSStopped {
		t.Fatalf("terminal = %s, want TTS_STOPPED", kind)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after stop = %s", got)
	}

	for _, k := range log.kinds() {
		if k == protocol.KindTTSError {
			t.Fatal("local stop must not surface an error event")
		}
	}
	_ = uid
}

func TestStopFromIdleIsSilent(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if err := m.Stop(); err != nil {
		t.Fatalf("idle stop: %v", err)
	}
	if kinds := log.kinds(); len(kinds) != 0 {
		t.Fatalf("idle stop broadcast %v", kinds)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %s", got)
	}
}

func TestPauseResume(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: 20 * time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play("pause me in the middle please", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitStarted(t)

	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := m.State(); got != StatePaused {
		t.Fatalf("state after pause = %s", got)
	}
	if err := m.Pause(); protocol.KindOf(err) != protocol.ErrInvalidState {
		t.Fatalf("double pause: %v", err)
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := m.State(); got != StateSpeaking {
		t.Fatalf("state after resume = %s", got)
	}
	if kind := log.waitTerminal(t); kind != protocol.KindTTSCompleted {
		t.Fatalf("terminal = %s", kind)
	}
}

func TestPauseResumeFromWrongState(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{})
	m, _ := newTestMachine(t, engine, MachineConfig{})

	if err := m.Pause(); protocol.KindOf(err) != protocol.ErrInvalidState {
		t.Fatalf("pause from idle: %v", err)
	}
	if err := m.Resume(); protocol.KindOf(err) != protocol.ErrInvalidState {
		t.Fatalf("resume from idle: %v", err)
	}
}

// holdingEngine confirms start but cannot hold audio mid-utterance,
// like a synthesizer without pause support.
type holdingEngine struct{ inertEngine }

func (holdingEngine) Pause() error {
	return protocol.NewError(protocol.ErrInvalidState, "pause unsupported")
}

func TestPauseRejectedByEngineKeepsSpeaking(t *testing.T) {
	m, _ := newTestMachine(t, holdingEngine{}, MachineConfig{})

	if _, err := m.Play("no audio hold on this engine", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.Pause(); protocol.KindOf(err) != protocol.ErrInvalidState {
		t.Fatalf("pause error = %v, want invalid-state", err)
	}
	if got := m.State(); got != StateSpeaking {
		t.Fatalf("state after rejected pause = %s, want speaking", got)
	}
}

func TestEngineFailureEntersErrorState(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{
		WordDelay:      2 * time.Millisecond,
		FailCode:       synth.CodeNetwork,
		FailAfterWords: 1,
	})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play("this one is going to fail", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if kind := log.waitTerminal(t); kind != protocol.KindTTSError {
		t.Fatalf("terminal = %s, want TTS_ERROR", kind)
	}
	if got := m.State(); got != StateError {
		t.Fatalf("state after failure = %s", got)
	}
	if snap := m.Snapshot(); snap.LastError != protocol.ErrSynthesisFailed {
		t.Fatalf("last error = %s", snap.LastError)
	}
}

func TestPlayClearsErrorState(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{
		WordDelay:      time.Millisecond,
		FailCode:       synth.CodeAudioBusy,
		FailAfterWords: 0,
	})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play("fails fast", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitTerminal(t)
	if got := m.State(); got != StateError {
		t.Fatalf("state = %s", got)
	}

	// The failing engine keeps failing; what matters is that play is
	// accepted from error and a fresh utterance id is issued.
	uid, err := m.Play("try again", synth.Voice{}, Params{})
	if err != nil {
		t.Fatalf("play from error: %v", err)
	}
	if uid != 2 {
		t.Fatalf("second utterance id = %d", uid)
	}
	log.waitTerminal(t)
}

func TestRestoreSeedsUtteranceID(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	m.Restore(settings.RecoveryRecord{State: "speaking", UtteranceID: 41})
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after restore = %s", got)
	}

	uid, err := m.Play("fresh start", synth.Voice{}, Params{})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if uid != 42 {
		t.Fatalf("utterance id after restore = %d, want 42", uid)
	}
	log.waitTerminal(t)
}

func TestRecoveryMirrorWrittenOnTransitions(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: time.Millisecond})
	log := newEventLog()

	var mu sync.Mutex
	var states []string
	persist := func(rec settings.RecoveryRecord) {
		mu.Lock()
		states = append(states, rec.State)
		mu.Unlock()
	}
	m := NewMachine(engine, MachineConfig{}, log.emit, persist, testLogger())

	if _, err := m.Play("mirror me", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitTerminal(t)

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 {
		t.Fatalf("expected preparing/speaking/idle mirrors, got %v", states)
	}
	if states[0] != "preparing" {
		t.Fatalf("first mirror = %s", states[0])
	}
	if states[len(states)-1] != "idle" {
		t.Fatalf("final mirror = %s", states[len(states)-1])
	}
}

// inertEngine accepts utterances and confirms start but never reacts
// to cancel, standing in for a wedged host synthesizer.
type inertEngine struct{}

func (inertEngine) Speak(u *synth.Utterance) error {
	if u.OnStart != nil {
		u.OnStart()
	}
	return nil
}
func (inertEngine) Cancel()                       {}
func (inertEngine) Pause() error                  { return nil }
func (inertEngine) Resume() error                 { return nil }
func (inertEngine) Voices() []synth.Voice         { return nil }
func (inertEngine) Speaking() bool                { return false }
func (inertEngine) Pending() bool                 { return false }
func (inertEngine) Paused() bool                  { return false }
func (inertEngine) OnVoicesChanged(func()) func() { return func() {} }

func TestStopWatchdogForcesIdle(t *testing.T) {
	m, log := newTestMachine(t, inertEngine{}, MachineConfig{StopWatchdog: 25 * time.Millisecond})

	if _, err := m.Play("never confirms cancellation", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitStarted(t)

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if kind := log.waitTerminal(t); kind != protocol.KindTTSStopped {
		t.Fatalf("terminal = %s, want TTS_STOPPED", kind)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after watchdog = %s", got)
	}
}

func TestPanicResetsToIdle(t *testing.T) {
	engine := synth.NewMock(synth.MockConfig{WordDelay: 50 * time.Millisecond})
	m, log := newTestMachine(t, engine, MachineConfig{})

	if _, err := m.Play("about to hit the fail safe", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	log.waitStarted(t)

	m.Panic("handler blew up")
	if kind := log.waitTerminal(t); kind != protocol.KindTTSError {
		t.Fatalf("terminal = %s, want TTS_ERROR", kind)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after panic = %s", got)
	}

	// The machine accepts new work immediately.
	if _, err := m.Play("recovered", synth.Voice{}, Params{}); err != nil {
		t.Fatalf("play after panic: %v", err)
	}
	log.waitTerminal(t)
}
