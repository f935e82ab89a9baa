package controller

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/settings"
	"github.com/voxbridge-labs/voxbridge-core/internal/synth"
)

// State names the playback state machine positions.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateSpeaking  State = "speaking"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateError     State = "error"
)

// DefaultStopWatchdog clears a stuck stopping state.
const DefaultStopWatchdog = time.Second

// DefaultMaxTextLength bounds accepted utterance text.
const DefaultMaxTextLength = 1000

// EmitFunc receives lifecycle broadcasts. It must not call back into
// the machine.
type EmitFunc func(kind protocol.Kind, payload any)

// PersistFunc mirrors the recovery record on every state transition.
type PersistFunc func(settings.RecoveryRecord)

// Machine arbitrates at most one synthesis at a time. All engine
// callbacks funnel back through it; stale callbacks from a previous
// utterance are discarded by id.
type Machine struct {
	engine       synth.Engine
	emit         EmitFunc
	persist      PersistFunc
	log          *slog.Logger
	stopWatchdog time.Duration
	maxText      int

	mu          sync.Mutex
	state       State
	utteranceID uint64
	text        string
	voice       synth.Voice
	params      Params
	fraction    float64
	word        string
	startedAt   time.Time
	lastErr     protocol.ErrKind
	terminal    bool
	watchdog    *time.Timer
	clock       func() time.Time
}

// MachineConfig tunes machine limits; zero values take the defaults.
type MachineConfig struct {
	StopWatchdog  time.Duration
	MaxTextLength int
}

func NewMachine(engine synth.Engine, cfg MachineConfig, emit EmitFunc, persist PersistFunc, log *slog.Logger) *Machine {
	if cfg.StopWatchdog <= 0 {
		cfg.StopWatchdog = DefaultStopWatchdog
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if emit == nil {
		emit = func(protocol.Kind, any) {}
	}
	if persist == nil {
		persist = func(settings.RecoveryRecord) {}
	}
	return &Machine{
		engine:       engine,
		emit:         emit,
		persist:      persist,
		log:          log.With(slog.String("component", "playback")),
		stopWatchdog: cfg.StopWatchdog,
		maxText:      cfg.MaxTextLength,
		state:        StateIdle,
		clock:        time.Now,
	}
}

// Snapshot is a point-in-time view of playback for status queries.
type Snapshot struct {
	State       State
	UtteranceID uint64
	Text        string
	Fraction    float64
	Word        string
	LastError   protocol.ErrKind
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:       m.state,
		UtteranceID: m.utteranceID,
		Text:        m.text,
		Fraction:    m.fraction,
		Word:        m.word,
		LastError:   m.lastErr,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore seeds the monotonic utterance id from the recovery record so
// ids stay unambiguous across controller restarts, then reconciles
// a non-idle mirror against the engine.
func (m *Machine) Restore(rec settings.RecoveryRecord) {
	m.mu.Lock()
	if rec.UtteranceID > m.utteranceID {
		m.utteranceID = rec.UtteranceID
	}
	dirty := rec.State != string(StateIdle) && rec.State != ""
	m.mu.Unlock()

	if dirty {
		if m.engine.Speaking() || m.engine.Pending() {
			m.log.Warn("recovering from non-idle shutdown, cancelling engine",
				slog.String("mirrored_state", rec.State))
			m.engine.Cancel()
		}
	}
	m.mu.Lock()
	m.state = StateIdle
	m.persistLocked()
	m.mu.Unlock()
}

// Play validates and starts a new utterance. Legal from idle and from
// error (which it clears); anything else fails with busy.
func (m *Machine) Play(text string, voice synth.Voice, p Params) (uint64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, protocol.NewError(protocol.ErrEmptyInput, "text is empty")
	}
	if n := utf8.RuneCountInString(text); n > m.maxText {
		return 0, protocol.NewError(protocol.ErrTooLong, "text length %d exceeds %d", n, m.maxText)
	}

	m.mu.Lock()
	switch m.state {
	case StateIdle:
	case StateError:
		m.lastErr = ""
	default:
		state := m.state
		m.mu.Unlock()
		return 0, protocol.NewError(protocol.ErrBusy, "playback state is %s", state)
	}

	m.utteranceID++
	uid := m.utteranceID
	m.state = StatePreparing
	m.text = text
	m.voice = voice
	m.params = p
	m.fraction = 0
	m.word = ""
	m.terminal = false
	m.startedAt = time.Time{}
	m.persistLocked()
	m.mu.Unlock()

	u := &synth.Utterance{
		Text:     text,
		VoiceURI: voice.URI,
		Lang:     p.Lang,
		Rate:     p.Rate,
		Pitch:    p.Pitch,
		Volume:   p.Volume,
		OnStart:  func() { m.onStart(uid) },
		OnBoundary: func(charIndex int, word string) {
			m.onBoundary(uid, charIndex, word)
		},
		OnEnd:   func() { m.onEnd(uid) },
		OnError: func(code synth.ErrorCode) { m.onError(uid, code) },
	}
	if err := m.engine.Speak(u); err != nil {
		m.failUtterance(uid, protocol.ErrSynthesisFailed, err.Error())
		return 0, protocol.NewError(protocol.ErrSynthesisFailed, "engine rejected utterance: %v", err)
	}
	return uid, nil
}

// Stop cancels playback. Idempotent from idle: no transition, no
// broadcast. From preparing, speaking or paused it enters stopping,
// cancels the engine and arms the watchdog.
func (m *Machine) Stop() error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateError:
		m.mu.Unlock()
		return nil
	case StateStopping:
		m.mu.Unlock()
		return nil
	}
	uid := m.utteranceID
	m.state = StateStopping
	m.persistLocked()
	m.watchdog = time.AfterFunc(m.stopWatchdog, func() { m.forceStopped(uid) })
	m.mu.Unlock()

	m.engine.Cancel()
	return nil
}

// Pause is legal only while speaking, and only when the engine can
// actually hold the audio; a rejected engine pause leaves the state
// untouched.
func (m *Machine) Pause() error {
	m.mu.Lock()
	if m.state != StateSpeaking {
		state := m.state
		m.mu.Unlock()
		return protocol.NewError(protocol.ErrInvalidState, "cannot pause from %s", state)
	}
	if err := m.engine.Pause(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StatePaused
	m.persistLocked()
	m.mu.Unlock()
	return nil
}

// Resume is legal only while paused; utterance id and progress carry
// over untouched.
func (m *Machine) Resume() error {
	m.mu.Lock()
	if m.state != StatePaused {
		state := m.state
		m.mu.Unlock()
		return protocol.NewError(protocol.ErrInvalidState, "cannot resume from %s", state)
	}
	if err := m.engine.Resume(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StateSpeaking
	m.persistLocked()
	m.mu.Unlock()
	return nil
}

// Panic is the fail-safe for unknown faults in command handling: it
// broadcasts an internal error for the current utterance (if any) and
// resets to idle.
func (m *Machine) Panic(msg string) {
	m.mu.Lock()
	uid := m.utteranceID
	emitTerminal := m.state != StateIdle && !m.terminal
	m.terminal = true
	m.state = StateIdle
	m.lastErr = protocol.ErrInternal
	m.stopWatchdogLocked()
	m.persistLocked()
	m.mu.Unlock()

	m.log.Error("playback fail-safe triggered", slog.String("reason", msg))
	if emitTerminal {
		m.emit(protocol.KindTTSError, protocol.Terminal{
			UtteranceID: uid,
			Err:         &protocol.ErrorInfo{Kind: protocol.ErrInternal, Message: msg},
		})
	}
	m.engine.Cancel()
}

func (m *Machine) onStart(uid uint64) {
	m.mu.Lock()
	if uid != m.utteranceID || m.state != StatePreparing {
		m.mu.Unlock()
		return
	}
	m.state = StateSpeaking
	m.startedAt = m.clock()
	m.persistLocked()
	text, voiceURI := m.text, m.voice.URI
	m.mu.Unlock()

	m.emit(protocol.KindTTSStarted, protocol.Started{UtteranceID: uid, Text: text, VoiceURI: voiceURI})
}

func (m *Machine) onBoundary(uid uint64, charIndex int, word string) {
	m.mu.Lock()
	if uid != m.utteranceID || (m.state != StateSpeaking && m.state != StatePaused) {
		m.mu.Unlock()
		return
	}
	frac := 0.0
	if n := len(m.text); n > 0 {
		frac = float64(charIndex) / float64(n)
	}
	if frac > 1 {
		frac = 1
	}
	// Progress never runs backwards within one utterance.
	if frac < m.fraction {
		frac = m.fraction
	}
	m.fraction = frac
	m.word = word
	m.mu.Unlock()

	m.emit(protocol.KindTTSProgress, protocol.Progress{UtteranceID: uid, Fraction: frac, Word: word})
}

func (m *Machine) onEnd(uid uint64) {
	m.mu.Lock()
	if uid != m.utteranceID || m.terminal {
		m.mu.Unlock()
		return
	}
	stopped := m.state == StateStopping
	m.terminal = true
	m.state = StateIdle
	m.stopWatchdogLocked()
	m.persistLocked()
	m.mu.Unlock()

	if stopped {
		m.emit(protocol.KindTTSStopped, protocol.Terminal{UtteranceID: uid})
		return
	}
	m.emit(protocol.KindTTSCompleted, protocol.Terminal{UtteranceID: uid})
}

func (m *Machine) onError(uid uint64, code synth.ErrorCode) {
	m.mu.Lock()
	if uid != m.utteranceID || m.terminal {
		m.mu.Unlock()
		return
	}
	// interrupted/canceled after a local stop is the stop completing,
	// not a failure.
	if m.state == StateStopping && (code == synth.CodeInterrupted || code == synth.CodeCanceled) {
		m.terminal = true
		m.state = StateIdle
		m.stopWatchdogLocked()
		m.persistLocked()
		m.mu.Unlock()
		m.emit(protocol.KindTTSStopped, protocol.Terminal{UtteranceID: uid})
		return
	}
	kind := synth.MapErrorCode(code)
	m.terminal = true
	m.state = StateError
	m.lastErr = kind
	m.stopWatchdogLocked()
	m.persistLocked()
	m.mu.Unlock()

	m.emit(protocol.KindTTSError, protocol.Terminal{
		UtteranceID: uid,
		Err:         &protocol.ErrorInfo{Kind: kind, Message: string(code)},
	})
}

// forceStopped fires when the engine never confirms a cancel.
func (m *Machine) forceStopped(uid uint64) {
	m.mu.Lock()
	if uid != m.utteranceID || m.state != StateStopping || m.terminal {
		m.mu.Unlock()
		return
	}
	m.log.Warn("stop watchdog fired, forcing idle", slog.Uint64("utterance_id", uid))
	m.terminal = true
	m.state = StateIdle
	m.persistLocked()
	m.mu.Unlock()

	m.emit(protocol.KindTTSStopped, protocol.Terminal{UtteranceID: uid})
}

func (m *Machine) failUtterance(uid uint64, kind protocol.ErrKind, msg string) {
	m.mu.Lock()
	if uid != m.utteranceID || m.terminal {
		m.mu.Unlock()
		return
	}
	m.terminal = true
	m.state = StateError
	m.lastErr = kind
	m.persistLocked()
	m.mu.Unlock()

	m.emit(protocol.KindTTSError, protocol.Terminal{
		UtteranceID: uid,
		Err:         &protocol.ErrorInfo{Kind: kind, Message: msg},
	})
}

func (m *Machine) stopWatchdogLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

func (m *Machine) persistLocked() {
	rec := settings.RecoveryRecord{
		State:       string(m.state),
		UtteranceID: m.utteranceID,
	}
	if !m.startedAt.IsZero() {
		rec.StartedAtMS = m.startedAt.UnixMilli()
	}
	m.persist(rec)
}
