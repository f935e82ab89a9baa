package synth

import "github.com/voxbridge-labs/voxbridge-core/internal/protocol"

// Voice describes one installed synthesis voice. The list is rebuilt
// from the engine on every controller start and is never persisted.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	URI     string `json:"uri"`
	Local   bool   `json:"local"`
	Default bool   `json:"default"`
}

// ErrorCode enumerates the engine's own error strings. The set is
// closed; anything else maps to unknown.
type ErrorCode string

const (
	CodeInterrupted         ErrorCode = "interrupted"
	CodeCanceled            ErrorCode = "canceled"
	CodeNetwork             ErrorCode = "network"
	CodeSynthesisFailed     ErrorCode = "synthesis-failed"
	CodeNotAllowed          ErrorCode = "not-allowed"
	CodeAudioBusy           ErrorCode = "audio-busy"
	CodeLanguageUnavailable ErrorCode = "language-unavailable"
	CodeVoiceUnavailable    ErrorCode = "voice-unavailable"
	CodeTextTooLong         ErrorCode = "text-too-long"
	CodeUnknown             ErrorCode = "unknown"
)

// MapErrorCode translates an engine error string into the shared
// taxonomy. Interrupted/canceled are mapped here too; the controller
// suppresses them separately when they follow a local stop.
func MapErrorCode(code ErrorCode) protocol.ErrKind {
	switch code {
	case CodeInterrupted, CodeCanceled:
		return protocol.ErrSynthesisFailed
	case CodeNetwork, CodeSynthesisFailed:
		return protocol.ErrSynthesisFailed
	case CodeNotAllowed:
		return protocol.ErrNotAllowed
	case CodeAudioBusy:
		return protocol.ErrAudioBusy
	case CodeLanguageUnavailable:
		return protocol.ErrLanguageUnavailable
	case CodeVoiceUnavailable:
		return protocol.ErrVoiceUnavailable
	case CodeTextTooLong:
		return protocol.ErrTooLong
	default:
		return protocol.ErrInternal
	}
}

// Utterance is one synthesis request plus its lifecycle callbacks.
// Callbacks may be nil; the engine invokes them from its own goroutine.
type Utterance struct {
	Text     string
	VoiceURI string
	Lang     string
	Rate     float64
	Pitch    float64
	Volume   float64

	OnStart    func()
	OnBoundary func(charIndex int, word string)
	OnEnd      func()
	OnError    func(code ErrorCode)
	OnPause    func()
	OnResume   func()
}

// Engine is the narrow facade over the host synthesis service. One
// engine instance exists per controller and only the controller
// touches it.
type Engine interface {
	// Speak queues the utterance. The engine reports progress through
	// the utterance callbacks; Speak itself returns only queueing
	// failures.
	Speak(u *Utterance) error
	// Cancel discards the queued and current utterance. A canceled
	// utterance surfaces OnError with interrupted or canceled.
	Cancel()
	// Pause and Resume fail with invalid-state on engines that cannot
	// hold audio mid-utterance; the caller must not report a paused
	// state in that case.
	Pause() error
	Resume() error
	// Voices returns the installed voice list, possibly empty shortly
	// after engine start.
	Voices() []Voice
	Speaking() bool
	Pending() bool
	Paused() bool
	// OnVoicesChanged registers a one-shot callback fired when the
	// voice list becomes available or changes. The returned function
	// unregisters it.
	OnVoicesChanged(fn func()) (cancel func())
}
