package protocol

import (
	"encoding/json"
	"time"
)

// Kind tags every message exchanged between agents. The set is closed;
// unknown kinds are dropped by receivers.
type Kind string

const (
	KindTTSPlay   Kind = "TTS_PLAY"
	KindTTSStop   Kind = "TTS_STOP"
	KindTTSPause  Kind = "TTS_PAUSE"
	KindTTSResume Kind = "TTS_RESUME"

	KindTTSStarted   Kind = "TTS_STARTED"
	KindTTSProgress  Kind = "TTS_PROGRESS"
	KindTTSCompleted Kind = "TTS_COMPLETED"
	KindTTSStopped   Kind = "TTS_STOPPED"
	KindTTSError     Kind = "TTS_ERROR"

	KindVoiceDetection  Kind = "VOICE_DETECTION"
	KindSettingsGet     Kind = "SETTINGS_GET"
	KindSettingsSet     Kind = "SETTINGS_SET"
	KindSettingsChanged Kind = "SETTINGS_CHANGED"
	KindVoicesList      Kind = "VOICES_LIST"
)

// Envelope is the on-the-wire frame. ID is unique per command and is
// the deduplication key; broadcasts reuse the envelope with an empty ID.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id,omitempty"`
	TabID     int             `json:"tab_id,omitempty"`
	Timestamp int64           `json:"ts_ms"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope stamps an envelope with the current wall clock and
// marshals the payload. A nil payload is allowed.
func NewEnvelope(kind Kind, id string, tabID int, payload any) (Envelope, error) {
	env := Envelope{
		Kind:      kind,
		ID:        id,
		TabID:     tabID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = data
	}
	return env, nil
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// PlayRequest asks the controller to synthesize text. Overrides, when
// present, win over every other parameter source.
type PlayRequest struct {
	Text      string     `json:"text"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

// Overrides carries explicit per-request synthesis parameters. Nil
// fields defer to site, length, language and settings resolution.
type Overrides struct {
	VoiceURI *string  `json:"voice_uri,omitempty"`
	Language *string  `json:"language,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
	Pitch    *float64 `json:"pitch,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

// Ack answers every command exactly once. Err is set iff OK is false;
// Payload carries query results (settings record, voice list).
type Ack struct {
	OK          bool            `json:"ok"`
	UtteranceID uint64          `json:"utterance_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Err         *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo is the wire form of a taxonomy error.
type ErrorInfo struct {
	Kind    ErrKind `json:"kind"`
	Message string  `json:"message,omitempty"`
}

// Started announces that the engine began speaking an utterance.
type Started struct {
	UtteranceID uint64 `json:"utterance_id"`
	Text        string `json:"text"`
	VoiceURI    string `json:"voice_uri,omitempty"`
}

// Progress reports a word boundary. Fraction is in [0,1] and is
// non-decreasing within one utterance id.
type Progress struct {
	UtteranceID uint64  `json:"utterance_id"`
	Fraction    float64 `json:"fraction"`
	Word        string  `json:"word,omitempty"`
}

// Terminal closes out an utterance; exactly one of TTS_COMPLETED,
// TTS_STOPPED or TTS_ERROR carries it per utterance id.
type Terminal struct {
	UtteranceID uint64     `json:"utterance_id"`
	Err         *ErrorInfo `json:"error,omitempty"`
}

// Detection reports a tab's voice-widget state transition. Closed marks
// the observer's teardown so the controller can drop the tab record.
type Detection struct {
	TabID   int    `json:"tab_id"`
	Site    string `json:"site"`
	URL     string `json:"url,omitempty"`
	Capable bool   `json:"capable"`
	Active  bool   `json:"active"`
	Closed  bool   `json:"closed,omitempty"`
}
