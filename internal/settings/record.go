package settings

import (
	"regexp"
	"strings"

	"github.com/voxbridge-labs/voxbridge-core/internal/siteprofile"
)

// Record is the persisted user configuration. Numeric fields clamp to
// the playback ranges on every write; VoiceURI is empty or refers to
// an installed voice.
type Record struct {
	Language     string   `json:"language"`
	VoiceURI     string   `json:"voice_uri,omitempty"`
	Rate         float64  `json:"rate"`
	Pitch        float64  `json:"pitch"`
	Volume       float64  `json:"volume"`
	AutoDetect   bool     `json:"auto_detect"`
	EnabledSites []string `json:"enabled_sites"`
	Shortcut     string   `json:"shortcut,omitempty"`
}

// Patch is a merge-write: nil fields leave the record untouched.
type Patch struct {
	Language     *string   `json:"language,omitempty"`
	VoiceURI     *string   `json:"voice_uri,omitempty"`
	Rate         *float64  `json:"rate,omitempty"`
	Pitch        *float64  `json:"pitch,omitempty"`
	Volume       *float64  `json:"volume,omitempty"`
	AutoDetect   *bool     `json:"auto_detect,omitempty"`
	EnabledSites *[]string `json:"enabled_sites,omitempty"`
	Shortcut     *string   `json:"shortcut,omitempty"`
}

var languageTag = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// Defaults is the fully defaulted record returned when the store is
// empty or corrupt.
func Defaults() Record {
	sites := make([]string, len(siteprofile.Tags))
	for i, t := range siteprofile.Tags {
		sites[i] = string(t)
	}
	return Record{
		Language:     "en-US",
		Rate:         1.0,
		Pitch:        1.0,
		Volume:       0.8,
		AutoDetect:   true,
		EnabledSites: sites,
	}
}

// Apply merges a patch into the record. Partial writes stay valid
// because Normalize runs before persistence.
func (r *Record) Apply(p Patch) {
	if p.Language != nil {
		r.Language = *p.Language
	}
	if p.VoiceURI != nil {
		r.VoiceURI = *p.VoiceURI
	}
	if p.Rate != nil {
		r.Rate = *p.Rate
	}
	if p.Pitch != nil {
		r.Pitch = *p.Pitch
	}
	if p.Volume != nil {
		r.Volume = *p.Volume
	}
	if p.AutoDetect != nil {
		r.AutoDetect = *p.AutoDetect
	}
	if p.EnabledSites != nil {
		r.EnabledSites = append([]string(nil), (*p.EnabledSites)...)
	}
	if p.Shortcut != nil {
		r.Shortcut = *p.Shortcut
	}
}

// Normalize clamps numeric fields and repairs invalid values in place.
// knownVoice, when non-nil, nulls voice identifiers that no longer
// resolve in the registry.
func (r *Record) Normalize(knownVoice func(uri string) bool) {
	if !languageTag.MatchString(r.Language) {
		r.Language = Defaults().Language
	}
	r.Rate = clamp(r.Rate, 0.5, 1.5)
	r.Pitch = clamp(r.Pitch, 0.5, 2.0)
	r.Volume = clamp(r.Volume, 0.0, 1.0)
	if r.VoiceURI != "" && knownVoice != nil && !knownVoice(r.VoiceURI) {
		r.VoiceURI = ""
	}
	var sites []string
	for _, s := range r.EnabledSites {
		if siteprofile.KnownTag(s) {
			sites = append(sites, s)
		}
	}
	r.EnabledSites = sites
	r.Shortcut = strings.TrimSpace(r.Shortcut)
}

// SiteEnabled reports whether detection reporting is on for a tag.
func (r Record) SiteEnabled(tag string) bool {
	for _, s := range r.EnabledSites {
		if s == tag {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
