package protocol

// Bus subjects. Commands use request/reply; events are best-effort
// fanout to whoever is subscribed at the time.
const (
	SubjectPlay        = "tts.cmd.play"
	SubjectStop        = "tts.cmd.stop"
	SubjectPause       = "tts.cmd.pause"
	SubjectResume      = "tts.cmd.resume"
	SubjectVoicesList  = "tts.cmd.voices"
	SubjectSettingsGet = "settings.cmd.get"
	SubjectSettingsSet = "settings.cmd.set"

	SubjectPlaybackEvents  = "tts.evt.playback"
	SubjectSettingsChanged = "settings.evt.changed"
	SubjectDetection       = "detect.evt.state"
)

// SubjectForCommand maps a command kind to its request subject.
func SubjectForCommand(kind Kind) (string, bool) {
	switch kind {
	case KindTTSPlay:
		return SubjectPlay, true
	case KindTTSStop:
		return SubjectStop, true
	case KindTTSPause:
		return SubjectPause, true
	case KindTTSResume:
		return SubjectResume, true
	case KindVoicesList:
		return SubjectVoicesList, true
	case KindSettingsGet:
		return SubjectSettingsGet, true
	case KindSettingsSet:
		return SubjectSettingsSet, true
	}
	return "", false
}
