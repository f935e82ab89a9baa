package panel

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type commandCall struct {
	kind    protocol.Kind
	payload any
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []commandCall
	ack   protocol.Ack
	err   error
}

func (f *fakeCommander) Command(_ context.Context, kind protocol.Kind, _ int, payload any) (protocol.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{kind: kind, payload: payload})
	return f.ack, f.err
}

func (f *fakeCommander) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCommander) lastPlay(t *testing.T) protocol.PlayRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].kind == protocol.KindTTSPlay {
			req, ok := f.calls[i].payload.(protocol.PlayRequest)
			if !ok {
				t.Fatalf("play payload is %T", f.calls[i].payload)
			}
			return req
		}
	}
	t.Fatal("no play command dispatched")
	return protocol.PlayRequest{}
}

type memDrafts struct {
	mu    sync.Mutex
	text  string
	saved bool
}

func (d *memDrafts) SaveDraft(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.saved = true
	return nil
}

func (d *memDrafts) LoadDraft() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text, d.saved
}

func event(t *testing.T, kind protocol.Kind, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(kind, "", 0, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestNewRestoresDraft(t *testing.T) {
	drafts := &memDrafts{}
	_ = drafts.SaveDraft("picked up where I left off")

	p := New(&fakeCommander{ack: protocol.Ack{OK: true}}, drafts, testLogger())
	if v := p.View(); v.Text != "picked up where I left off" {
		t.Fatalf("restored text = %q", v.Text)
	}
}

func TestSetTextAutosavesDraft(t *testing.T) {
	drafts := &memDrafts{}
	p := New(&fakeCommander{ack: protocol.Ack{OK: true}}, drafts, testLogger())

	p.SetText("work in progress")
	if text, ok := drafts.LoadDraft(); !ok || text != "work in progress" {
		t.Fatalf("draft = %q ok=%v", text, ok)
	}
	if v := p.View(); v.CharCount != len("work in progress") {
		t.Fatalf("char count = %d", v.CharCount)
	}
}

func TestPressPlayDispatchesOnce(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true, UtteranceID: 5}}
	p := New(cmd, nil, testLogger())
	p.SetText("  read this aloud  ")

	ctx := context.Background()
	p.PressPlay(ctx)
	p.PressPlay(ctx)
	p.PressPlay(ctx)

	if cmd.callCount() != 1 {
		t.Fatalf("rapid presses dispatched %d commands", cmd.callCount())
	}
	if req := cmd.lastPlay(t); req.Text != "read this aloud" {
		t.Fatalf("dispatched text = %q", req.Text)
	}
	v := p.View()
	if !v.Playing || v.PlayEnabled || v.InputEnabled {
		t.Fatalf("view after play = %+v", v)
	}
}

func TestPressPlayEmptyTextIsNoop(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true}}
	p := New(cmd, nil, testLogger())

	p.PressPlay(context.Background())
	p.SetText("   \n  ")
	p.PressPlay(context.Background())
	if cmd.callCount() != 0 {
		t.Fatalf("empty text dispatched %d commands", cmd.callCount())
	}
}

func TestPressPlayTruncatesLongText(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true}}
	p := New(cmd, nil, testLogger())
	p.SetText(strings.Repeat("a", MaxTextLength+250))

	p.PressPlay(context.Background())
	if req := cmd.lastPlay(t); len(req.Text) != MaxTextLength {
		t.Fatalf("dispatched %d chars", len(req.Text))
	}
}

func TestPressPlayTruncatesOnRuneBoundary(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true}}
	p := New(cmd, nil, testLogger())
	p.SetText(strings.Repeat("あ", MaxTextLength+5))

	if got := p.View().CharCount; got != MaxTextLength+5 {
		t.Fatalf("char count = %d, want %d", got, MaxTextLength+5)
	}

	p.PressPlay(context.Background())
	req := cmd.lastPlay(t)
	if got := utf8.RuneCountInString(req.Text); got != MaxTextLength {
		t.Fatalf("dispatched %d runes", got)
	}
	if !utf8.ValidString(req.Text) {
		t.Fatal("dispatched text cut mid-rune")
	}
}

func TestPressPlayFailureShowsError(t *testing.T) {
	cmd := &fakeCommander{err: protocol.NewError(protocol.ErrBusy, "playback state is speaking")}
	p := New(cmd, nil, testLogger())
	p.SetText("try me")

	p.PressPlay(context.Background())
	v := p.View()
	if v.Playing {
		t.Fatal("failed play left the panel playing")
	}
	if v.Status != StatusError || v.ErrorLabel != "busy" {
		t.Fatalf("view after failure = %+v", v)
	}

	// The gate reopens after the failure.
	cmd.err = nil
	cmd.ack = protocol.Ack{OK: true, UtteranceID: 1}
	p.PressPlay(context.Background())
	if cmd.callCount() != 2 {
		t.Fatalf("retry did not dispatch, count = %d", cmd.callCount())
	}
}

func TestHandleEnter(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true}}
	p := New(cmd, nil, testLogger())
	p.SetText("line one")

	p.HandleEnter(context.Background(), true)
	if v := p.View(); v.Text != "line one\n" {
		t.Fatalf("shift-enter text = %q", v.Text)
	}
	if cmd.callCount() != 0 {
		t.Fatal("shift-enter must not dispatch")
	}

	p.HandleEnter(context.Background(), false)
	if cmd.callCount() != 1 {
		t.Fatalf("plain enter dispatched %d commands", cmd.callCount())
	}
}

func TestSetTextRejectedWhilePlaying(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true, UtteranceID: 1}}
	p := New(cmd, nil, testLogger())
	p.SetText("original")
	p.PressPlay(context.Background())

	p.SetText("sneaky edit")
	if v := p.View(); v.Text != "original" {
		t.Fatalf("text mutated during playback: %q", v.Text)
	}
}

func TestEventProjection(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true, UtteranceID: 3}}
	p := New(cmd, nil, testLogger())
	p.SetText("hello world")
	p.PressPlay(context.Background())

	p.HandleEvent(event(t, protocol.KindTTSStarted, protocol.Started{UtteranceID: 3, Text: "hello world"}))
	v := p.View()
	if v.Status != StatusPlaying || !v.ShowProgress || v.ProgressPct != 0 {
		t.Fatalf("view after started = %+v", v)
	}

	p.HandleEvent(event(t, protocol.KindTTSProgress, protocol.Progress{UtteranceID: 3, Fraction: 0.5, Word: "world"}))
	v = p.View()
	if v.ProgressPct != 50 || v.Word != "world" {
		t.Fatalf("view after progress = %+v", v)
	}

	// Out-of-range fractions clamp into the bar.
	p.HandleEvent(event(t, protocol.KindTTSProgress, protocol.Progress{UtteranceID: 3, Fraction: 1.7}))
	if v := p.View(); v.ProgressPct != 100 {
		t.Fatalf("pct after overshoot = %v", v.ProgressPct)
	}

	p.HandleEvent(event(t, protocol.KindTTSCompleted, protocol.Terminal{UtteranceID: 3}))
	v = p.View()
	if v.Playing || v.Status != StatusReady || v.ShowProgress {
		t.Fatalf("view after completed = %+v", v)
	}
	if !v.InputEnabled {
		t.Fatal("input stays disabled after completion")
	}
}

func TestErrorEventShowsLabel(t *testing.T) {
	p := New(&fakeCommander{ack: protocol.Ack{OK: true}}, nil, testLogger())

	p.HandleEvent(event(t, protocol.KindTTSStarted, protocol.Started{UtteranceID: 1}))
	p.HandleEvent(event(t, protocol.KindTTSError, protocol.Terminal{
		UtteranceID: 1,
		Err:         &protocol.ErrorInfo{Kind: protocol.ErrSynthesisFailed, Message: "engine gave up"},
	}))
	v := p.View()
	if v.Status != StatusError || v.ErrorLabel != "synthesis-failed" {
		t.Fatalf("view after error = %+v", v)
	}
	if v.Playing || v.ShowProgress {
		t.Fatalf("error must stop playback projection: %+v", v)
	}
}

func TestStaleEventsDiscarded(t *testing.T) {
	cmd := &fakeCommander{ack: protocol.Ack{OK: true, UtteranceID: 9}}
	p := New(cmd, nil, testLogger())
	p.SetText("current utterance")
	p.PressPlay(context.Background())

	// Terminal for an utterance older than the panel's current one.
	p.HandleEvent(event(t, protocol.KindTTSCompleted, protocol.Terminal{UtteranceID: 4}))
	if v := p.View(); !v.Playing {
		t.Fatal("stale terminal reset the panel")
	}

	p.HandleEvent(event(t, protocol.KindTTSCompleted, protocol.Terminal{UtteranceID: 9}))
	if v := p.View(); v.Playing {
		t.Fatal("current terminal ignored")
	}
}
