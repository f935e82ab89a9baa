package protocol

import "fmt"

// ErrKind enumerates the error taxonomy shared by every agent.
type ErrKind string

const (
	ErrEmptyInput          ErrKind = "empty-input"
	ErrTooLong             ErrKind = "too-long"
	ErrBusy                ErrKind = "busy"
	ErrInvalidState        ErrKind = "invalid-state"
	ErrVoicesUnavailable   ErrKind = "voices-unavailable"
	ErrVoiceUnavailable    ErrKind = "voice-unavailable"
	ErrLanguageUnavailable ErrKind = "language-unavailable"
	ErrSynthesisFailed     ErrKind = "synthesis-failed"
	ErrNotAllowed          ErrKind = "not-allowed"
	ErrAudioBusy           ErrKind = "audio-busy"
	ErrNoResponse          ErrKind = "no-response"
	ErrStorageUnavailable  ErrKind = "storage-unavailable"
	ErrInternal            ErrKind = "internal"
)

// Error pairs a taxonomy kind with a human-readable message. Commands
// return it in the acknowledgement; aborted playback also broadcasts it.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a taxonomy error.
func NewError(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy kind from err, defaulting to internal.
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return ErrInternal
}

// InfoOf converts err to its wire form.
func InfoOf(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return &ErrorInfo{Kind: pe.Kind, Message: pe.Message}
	}
	return &ErrorInfo{Kind: ErrInternal, Message: err.Error()}
}
