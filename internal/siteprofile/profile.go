package siteprofile

import "time"

// Tag identifies a site profile. The enumeration is closed; adding a
// site means adding a table row, not new detection logic.
type Tag string

const (
	TagChatGPT         Tag = "chatgpt"
	TagGoogleSearch    Tag = "google-search"
	TagGoogleTranslate Tag = "google-translate"
	TagGoogleGeneric   Tag = "google-generic"
	TagBing            Tag = "bing"
	TagYouTube         Tag = "youtube"
	TagGeneric         Tag = "generic"
)

// Tags lists every known tag; the settings whitelist validates
// against it.
var Tags = []Tag{
	TagChatGPT, TagGoogleSearch, TagGoogleTranslate, TagGoogleGeneric,
	TagBing, TagYouTube, TagGeneric,
}

// KnownTag reports whether s names a profile.
func KnownTag(s string) bool {
	for _, t := range Tags {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Profile is one row of the static site table.
type Profile struct {
	Tag          Tag
	PollInterval time.Duration
	// WidgetSelectors: any match means the page is voice-capable.
	WidgetSelectors []string
	// ActiveSelectors: any match means the widget is listening.
	ActiveSelectors []string
	BaseRate        float64
	BasePitch       float64
	BaseVolume      float64
}

var table = map[Tag]Profile{
	TagChatGPT: {
		Tag:          TagChatGPT,
		PollInterval: 1000 * time.Millisecond,
		WidgetSelectors: []string{
			`[data-testid="voice-button"]`,
			`button[aria-label*="voice" i]`,
			`.voice-mode-button`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`[data-listening="true"]`,
			`.voice-active`,
		},
		BaseRate: 0.9, BasePitch: 1.0, BaseVolume: 0.8,
	},
	TagGoogleSearch: {
		Tag:          TagGoogleSearch,
		PollInterval: 500 * time.Millisecond,
		WidgetSelectors: []string{
			`[aria-label*="Search by voice" i]`,
			`.gsri_mic`,
			`[jsaction*="voice"]`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`[aria-pressed="true"]`,
		},
		BaseRate: 0.9, BasePitch: 1.0, BaseVolume: 0.8,
	},
	TagGoogleTranslate: {
		Tag:          TagGoogleTranslate,
		PollInterval: 800 * time.Millisecond,
		WidgetSelectors: []string{
			`[aria-label*="Listen" i]`,
			`[aria-label*="voice" i]`,
			`[jsname][data-is-listening]`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`[data-is-listening="true"]`,
			`[aria-pressed="true"]`,
		},
		BaseRate: 0.85, BasePitch: 1.0, BaseVolume: 0.8,
	},
	TagGoogleGeneric: {
		Tag:          TagGoogleGeneric,
		PollInterval: 1000 * time.Millisecond,
		WidgetSelectors: []string{
			`[aria-label*="voice" i]`,
			`[jsaction*="voice"]`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`[aria-pressed="true"]`,
		},
		BaseRate: 0.95, BasePitch: 1.0, BaseVolume: 0.8,
	},
	TagBing: {
		Tag:          TagBing,
		PollInterval: 800 * time.Millisecond,
		WidgetSelectors: []string{
			`#sb_form_mic`,
			`[aria-label*="voice" i]`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`.mic_on`,
			`[aria-pressed="true"]`,
		},
		BaseRate: 0.9, BasePitch: 1.0, BaseVolume: 0.8,
	},
	TagYouTube: {
		Tag:          TagYouTube,
		PollInterval: 1200 * time.Millisecond,
		WidgetSelectors: []string{
			`#voice-search-button`,
			`[aria-label*="Search with your voice" i]`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`[data-state="listening"]`,
		},
		BaseRate: 0.95, BasePitch: 1.0, BaseVolume: 0.8,
	},
	TagGeneric: {
		Tag:          TagGeneric,
		PollInterval: 1500 * time.Millisecond,
		WidgetSelectors: []string{
			`[aria-label*="voice" i]`,
			`[aria-label*="microphone" i]`,
			`.voice-input`,
		},
		ActiveSelectors: []string{
			`.listening`,
			`.recording`,
		},
		BaseRate: 1.0, BasePitch: 1.0, BaseVolume: 0.8,
	},
}

// Lookup returns the profile for tag, falling back to generic for
// anything unknown.
func Lookup(tag Tag) Profile {
	if p, ok := table[tag]; ok {
		return p
	}
	return table[TagGeneric]
}
