package panel

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
)

// MaxTextLength mirrors the controller's input bound, counted in
// runes; longer text is truncated before dispatch.
const MaxTextLength = 1000

// Status is one of the three user-visible states.
type Status string

const (
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusError   Status = "error"
)

// Commander issues commands to the controller. *bus.Client satisfies
// it; tests substitute a fake.
type Commander interface {
	Command(ctx context.Context, kind protocol.Kind, tabID int, payload any) (protocol.Ack, error)
}

// DraftStore autosaves the text field. *settings.Store satisfies it.
type DraftStore interface {
	SaveDraft(text string) error
	LoadDraft() (string, bool)
}

// Panel is the view-model. It owns no persistent state beyond the
// autosaved draft; everything else is a projection of controller
// broadcasts.
type Panel struct {
	commander Commander
	drafts    DraftStore
	logger    *slog.Logger

	mu           sync.Mutex
	text         string
	playing      bool
	status       Status
	utteranceID  uint64
	progressPct  float64
	word         string
	errorLabel   string
	showProgress bool
}

// View is a point-in-time render of the panel.
type View struct {
	Text         string
	CharCount    int
	Playing      bool
	Status       Status
	PlayEnabled  bool
	InputEnabled bool
	ShowProgress bool
	ProgressPct  float64
	Word         string
	ErrorLabel   string
}

// New restores the last autosaved draft, if any, and starts in ready.
func New(commander Commander, drafts DraftStore, log *slog.Logger) *Panel {
	p := &Panel{
		commander: commander,
		drafts:    drafts,
		status:    StatusReady,
		logger:    log.With(slog.String("component", "panel")),
	}
	if drafts != nil {
		if text, ok := drafts.LoadDraft(); ok {
			p.text = text
		}
	}
	return p
}

func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	trimmed := strings.TrimSpace(p.text)
	chars := utf8.RuneCountInString(p.text)
	return View{
		Text:         p.text,
		CharCount:    chars,
		Playing:      p.playing,
		Status:       p.status,
		PlayEnabled:  trimmed != "" && chars <= MaxTextLength && !p.playing,
		InputEnabled: !p.playing,
		ShowProgress: p.showProgress,
		ProgressPct:  p.progressPct,
		Word:         p.word,
		ErrorLabel:   p.errorLabel,
	}
}

// SetText updates the text field. Mutations while playing are rejected
// silently; every accepted input autosaves the draft.
func (p *Panel) SetText(text string) {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.text = text
	p.mu.Unlock()

	if p.drafts != nil {
		// Storage failures are logged by the store and ignored here.
		_ = p.drafts.SaveDraft(text)
	}
}

// HandleEnter maps the Enter key: without shift it presses play; with
// shift it inserts a line break. Enter while playing is a no-op.
func (p *Panel) HandleEnter(ctx context.Context, shift bool) {
	if shift {
		p.mu.Lock()
		text := p.text + "\n"
		playing := p.playing
		p.mu.Unlock()
		if !playing {
			p.SetText(text)
		}
		return
	}
	p.PressPlay(ctx)
}

// PressPlay dispatches a play command. The gate on playing collapses
// rapid repeated presses into a single command.
func (p *Panel) PressPlay(ctx context.Context) {
	p.mu.Lock()
	text := strings.TrimSpace(p.text)
	if text == "" || p.playing {
		p.mu.Unlock()
		return
	}
	text = truncateRunes(text, MaxTextLength)
	p.playing = true
	p.mu.Unlock()

	ack, err := p.commander.Command(ctx, protocol.KindTTSPlay, 0, protocol.PlayRequest{Text: text})
	if err != nil {
		p.logger.Warn("play command failed", slog.String("error", err.Error()))
		p.mu.Lock()
		p.playing = false
		p.status = StatusError
		p.errorLabel = string(protocol.KindOf(err))
		p.showProgress = false
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.utteranceID = ack.UtteranceID
	p.mu.Unlock()
}

// PressStop dispatches a stop command. Failures surface as the error
// status the same way play failures do.
func (p *Panel) PressStop(ctx context.Context) {
	if _, err := p.commander.Command(ctx, protocol.KindTTSStop, 0, nil); err != nil {
		p.logger.Warn("stop command failed", slog.String("error", err.Error()))
		p.mu.Lock()
		p.status = StatusError
		p.errorLabel = string(protocol.KindOf(err))
		p.mu.Unlock()
	}
}

// HandleEvent projects a controller broadcast into view state. Events
// from an earlier utterance than the panel's current one are stale and
// discarded.
func (p *Panel) HandleEvent(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindTTSStarted:
		var ev protocol.Started
		if err := env.Decode(&ev); err != nil {
			return
		}
		p.mu.Lock()
		if ev.UtteranceID < p.utteranceID {
			p.mu.Unlock()
			return
		}
		p.utteranceID = ev.UtteranceID
		p.playing = true
		p.status = StatusPlaying
		p.showProgress = true
		p.progressPct = 0
		p.word = ""
		p.errorLabel = ""
		p.mu.Unlock()

	case protocol.KindTTSProgress:
		var ev protocol.Progress
		if err := env.Decode(&ev); err != nil {
			return
		}
		p.mu.Lock()
		if ev.UtteranceID < p.utteranceID {
			p.mu.Unlock()
			return
		}
		pct := ev.Fraction * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		p.progressPct = pct
		p.word = ev.Word
		p.mu.Unlock()

	case protocol.KindTTSCompleted, protocol.KindTTSStopped:
		var ev protocol.Terminal
		if err := env.Decode(&ev); err != nil {
			return
		}
		p.mu.Lock()
		if ev.UtteranceID < p.utteranceID {
			p.mu.Unlock()
			return
		}
		p.playing = false
		p.status = StatusReady
		p.showProgress = false
		p.word = ""
		p.mu.Unlock()

	case protocol.KindTTSError:
		var ev protocol.Terminal
		if err := env.Decode(&ev); err != nil {
			return
		}
		p.mu.Lock()
		if ev.UtteranceID < p.utteranceID {
			p.mu.Unlock()
			return
		}
		p.playing = false
		p.status = StatusError
		p.showProgress = false
		if ev.Err != nil {
			p.errorLabel = string(ev.Err.Kind)
		} else {
			p.errorLabel = string(protocol.ErrInternal)
		}
		p.mu.Unlock()
	}
}

// truncateRunes cuts text to at most max runes, never splitting a
// multibyte character.
func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}
