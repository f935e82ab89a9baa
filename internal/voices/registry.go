package voices

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/synth"
)

// DefaultWait caps how long List blocks on an initially empty engine
// voice list before failing with voices-unavailable.
const DefaultWait = 3 * time.Second

// Registry caches the engine's voice list. The cache is volatile and
// rebuilt lazily after every controller restart.
type Registry struct {
	engine synth.Engine
	log    *slog.Logger
	wait   time.Duration

	mu   sync.Mutex
	list []synth.Voice
}

func NewRegistry(engine synth.Engine, wait time.Duration, log *slog.Logger) *Registry {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Registry{
		engine: engine,
		wait:   wait,
		log:    log.With(slog.String("component", "voice-registry")),
	}
}

// List returns the installed voices. An empty engine list subscribes to
// a one-shot change notification and resolves when voices arrive,
// bounded by the registry's wait cap.
func (r *Registry) List(ctx context.Context) ([]synth.Voice, error) {
	r.mu.Lock()
	if len(r.list) > 0 {
		out := cloneVoices(r.list)
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	if vs := r.engine.Voices(); len(vs) > 0 {
		r.store(vs)
		return cloneVoices(vs), nil
	}

	changed := make(chan struct{}, 1)
	cancel := r.engine.OnVoicesChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	// Re-check after subscribing; the list may have arrived in between.
	if vs := r.engine.Voices(); len(vs) > 0 {
		r.store(vs)
		return cloneVoices(vs), nil
	}

	timer := time.NewTimer(r.wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, protocol.NewError(protocol.ErrVoicesUnavailable, "voice list wait canceled")
		case <-timer.C:
			return nil, protocol.NewError(protocol.ErrVoicesUnavailable, "engine reported no voices within %s", r.wait)
		case <-changed:
			if vs := r.engine.Voices(); len(vs) > 0 {
				r.store(vs)
				return cloneVoices(vs), nil
			}
		}
	}
}

func (r *Registry) store(vs []synth.Voice) {
	r.mu.Lock()
	r.list = cloneVoices(vs)
	r.mu.Unlock()
}

// ByURI resolves a voice identifier against the cached list.
func (r *Registry) ByURI(uri string) (synth.Voice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.list {
		if v.URI == uri {
			return v, true
		}
	}
	return synth.Voice{}, false
}

// DefaultFor picks a voice for a language tag: exact tag match first,
// then primary-subtag match, then the engine default, then the first
// voice. ok is false only when the cache is empty.
func (r *Registry) DefaultFor(lang string) (synth.Voice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return synth.Voice{}, false
	}
	primary := lang
	if i := strings.IndexByte(lang, '-'); i > 0 {
		primary = lang[:i]
	}
	var subtagMatch, engineDefault *synth.Voice
	for i := range r.list {
		v := &r.list[i]
		if strings.EqualFold(v.Lang, lang) {
			return *v, true
		}
		if subtagMatch == nil && primary != "" && strings.HasPrefix(strings.ToLower(v.Lang), strings.ToLower(primary)) {
			subtagMatch = v
		}
		if engineDefault == nil && v.Default {
			engineDefault = v
		}
	}
	if subtagMatch != nil {
		return *subtagMatch, true
	}
	if engineDefault != nil {
		return *engineDefault, true
	}
	return r.list[0], true
}

// Known reports whether a URI resolves in the cached list. Used by the
// settings store to null dangling voice identifiers at load time.
func (r *Registry) Known(uri string) bool {
	_, ok := r.ByURI(uri)
	return ok
}

func cloneVoices(vs []synth.Voice) []synth.Voice {
	out := make([]synth.Voice, len(vs))
	copy(out, vs)
	return out
}
