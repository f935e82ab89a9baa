package controller

import (
	"time"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/settings"
	"github.com/voxbridge-labs/voxbridge-core/internal/siteprofile"
)

// Hard clamps applied as the final resolution step. Later steps only
// narrow; nothing widens past these.
const (
	minRate, maxRate     = 0.5, 1.5
	minPitch, maxPitch   = 0.5, 2.0
	minVolume, maxVolume = 0.0, 1.0
)

// Params are the fully resolved synthesis parameters for one utterance.
type Params struct {
	Rate       float64
	Pitch      float64
	Volume     float64
	Lang       string
	PauseAfter time.Duration
}

// Resolve picks synthesis parameters in precedence order: explicit
// request overrides, then the site profile of the originating tab,
// then the length band, then the language factor, then user settings,
// then the hard clamp.
func Resolve(text string, profile *siteprofile.Profile, rec settings.Record, ov *protocol.Overrides) Params {
	lang := rec.Language
	if ov != nil && ov.Language != nil && *ov.Language != "" {
		lang = *ov.Language
	}

	rate, pitch, volume := rec.Rate, rec.Pitch, rec.Volume
	if profile != nil {
		rate = profile.BaseRate
		pitch = profile.BasePitch
		volume = profile.BaseVolume
	}

	band := siteprofile.BandFor(text)
	rate -= band.RateDelta()
	rate *= siteprofile.LanguageRateFactor(lang)

	if ov != nil {
		if ov.Rate != nil {
			rate = *ov.Rate
		}
		if ov.Pitch != nil {
			pitch = *ov.Pitch
		}
		if ov.Volume != nil {
			volume = *ov.Volume
		}
	}

	return Params{
		Rate:       clampF(rate, minRate, maxRate),
		Pitch:      clampF(pitch, minPitch, maxPitch),
		Volume:     clampF(volume, minVolume, maxVolume),
		Lang:       lang,
		PauseAfter: band.PauseAfter(),
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
