package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxbridge-labs/voxbridge-core/internal/bus"
	"github.com/voxbridge-labs/voxbridge-core/internal/config"
	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/settings"
	"github.com/voxbridge-labs/voxbridge-core/internal/siteprofile"
	"github.com/voxbridge-labs/voxbridge-core/internal/synth"
	"github.com/voxbridge-labs/voxbridge-core/internal/voices"
)

// Service is the controller agent: it owns the engine, the state
// machine, the settings record and the tab registry, and exposes the
// command surface over the bus.
type Service struct {
	cfg      config.ControllerConfig
	bus      *bus.Client
	machine  *Machine
	registry *voices.Registry
	store    *settings.Store
	tabs     *tabRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	current settings.Record

	acks *lru.Cache[string, []byte]
	subs []*nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc

	meter          metric.Meter
	utterances     metric.Int64Counter
	terminals      metric.Int64Counter
	dedupedReplays metric.Int64Counter
}

func NewService(parent context.Context, cfg config.ControllerConfig, busClient *bus.Client, engine synth.Engine, store *settings.Store, log *slog.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(parent)

	acks, err := lru.New[string, []byte](cfg.DedupCacheSize)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		store:    store,
		tabs:     newTabRegistry(),
		logger:   log.With(slog.String("component", "controller")),
		acks:     acks,
		ctx:      ctx,
		cancel:   cancel,
		registry: voices.NewRegistry(engine, time.Duration(cfg.VoicesWaitMS)*time.Millisecond, log),
		meter:    otel.Meter("github.com/voxbridge-labs/voxbridge-core/controller"),
	}

	s.machine = NewMachine(engine, MachineConfig{
		StopWatchdog:  time.Duration(cfg.StopWatchdogMS) * time.Millisecond,
		MaxTextLength: cfg.MaxTextLength,
	}, s.broadcastPlayback, s.persistRecovery, log)

	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	s.utterances, err = s.meter.Int64Counter("voxbridge.utterances.started")
	if err != nil {
		s.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	s.terminals, err = s.meter.Int64Counter("voxbridge.utterances.terminal")
	if err != nil {
		s.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	s.dedupedReplays, err = s.meter.Int64Counter("voxbridge.commands.deduped")
	if err != nil {
		s.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
}

// Start loads settings, reconciles the playback recovery mirror and
// subscribes the command surface.
func (s *Service) Start() error {
	rec := s.store.LoadSettings(s.ctx)
	rec.Normalize(s.voiceValidator())
	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()

	s.machine.Restore(s.store.LoadRecovery(s.ctx))

	commands := map[string]func(protocol.Envelope) protocol.Ack{
		protocol.SubjectPlay:        s.handlePlay,
		protocol.SubjectStop:        s.handleStop,
		protocol.SubjectPause:       s.handlePause,
		protocol.SubjectResume:      s.handleResume,
		protocol.SubjectVoicesList:  s.handleVoices,
		protocol.SubjectSettingsGet: s.handleSettingsGet,
		protocol.SubjectSettingsSet: s.handleSettingsSet,
	}
	for subject, handler := range commands {
		h := handler
		sub, err := s.bus.Conn().Subscribe(subject, func(msg *nats.Msg) { s.serve(msg, h) })
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	detSub, err := s.bus.Conn().Subscribe(protocol.SubjectDetection, s.handleDetection)
	if err != nil {
		return fmt.Errorf("subscribe detection: %w", err)
	}
	s.subs = append(s.subs, detSub)

	s.logger.Info("controller started", slog.Int("max_text_length", s.cfg.MaxTextLength))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return len(s.subs) > 0
}

// Playback exposes the machine snapshot for health/status surfaces.
func (s *Service) Playback() Snapshot {
	return s.machine.Snapshot()
}

// Tabs reports how many tabs are currently observed.
func (s *Service) Tabs() int {
	return s.tabs.Len()
}

// serve wraps every command handler with envelope decoding, duplicate
// replay and the fail-safe recover.
func (s *Service) serve(msg *nats.Msg, handler func(protocol.Envelope) protocol.Ack) {
	var env protocol.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.logger.Warn("failed to decode command envelope", slog.String("error", err.Error()))
		s.respond(msg, protocol.Ack{OK: false, Err: &protocol.ErrorInfo{Kind: protocol.ErrInternal, Message: "malformed envelope"}})
		return
	}

	if env.ID != "" {
		if cached, ok := s.acks.Get(env.ID); ok {
			if s.dedupedReplays != nil {
				s.dedupedReplays.Add(s.ctx, 1)
			}
			_ = msg.Respond(cached)
			return
		}
	}

	ack := s.dispatch(env, handler)

	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Warn("failed to marshal ack", slog.String("error", err.Error()))
		return
	}
	if env.ID != "" {
		s.acks.Add(env.ID, data)
	}
	_ = msg.Respond(data)
}

func (s *Service) dispatch(env protocol.Envelope, handler func(protocol.Envelope) protocol.Ack) (ack protocol.Ack) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic in %s handler: %v", env.Kind, r)
			s.machine.Panic(msg)
			ack = protocol.Ack{OK: false, Err: &protocol.ErrorInfo{Kind: protocol.ErrInternal, Message: msg}}
		}
	}()
	return handler(env)
}

func (s *Service) respond(msg *nats.Msg, ack protocol.Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_ = msg.Respond(data)
}

func errAck(err error) protocol.Ack {
	return protocol.Ack{OK: false, Err: protocol.InfoOf(err)}
}

func (s *Service) handlePlay(env protocol.Envelope) protocol.Ack {
	var req protocol.PlayRequest
	if err := env.Decode(&req); err != nil {
		return errAck(protocol.NewError(protocol.ErrInternal, "malformed play payload: %v", err))
	}

	s.mu.Lock()
	rec := s.current
	s.mu.Unlock()

	var profile *siteprofile.Profile
	if obs, ok := s.tabs.Get(env.TabID); ok {
		p := siteprofile.Lookup(obs.Site)
		profile = &p
	}

	params := Resolve(req.Text, profile, rec, req.Overrides)

	voice, err := s.resolveVoice(rec, req.Overrides, params.Lang)
	if err != nil {
		s.broadcastPlaybackError(err)
		return errAck(err)
	}

	uid, err := s.machine.Play(req.Text, voice, params)
	if err != nil {
		s.broadcastPlaybackError(err)
		return errAck(err)
	}
	if s.utterances != nil {
		s.utterances.Add(s.ctx, 1)
	}
	s.logger.Info("play accepted",
		slog.Uint64("utterance_id", uid),
		slog.Int("text_len", len(req.Text)),
		slog.String("voice", voice.URI),
		slog.String("lang", params.Lang))
	return protocol.Ack{OK: true, UtteranceID: uid}
}

// resolveVoice picks the utterance voice: explicit override first, then
// the configured voice, then the language default. A dangling override
// is an error; a dangling configured voice falls back silently.
func (s *Service) resolveVoice(rec settings.Record, ov *protocol.Overrides, lang string) (synth.Voice, error) {
	if _, err := s.registry.List(s.ctx); err != nil {
		return synth.Voice{}, err
	}

	if ov != nil && ov.VoiceURI != nil && *ov.VoiceURI != "" {
		v, ok := s.registry.ByURI(*ov.VoiceURI)
		if !ok {
			return synth.Voice{}, protocol.NewError(protocol.ErrVoiceUnavailable, "voice %q is not installed", *ov.VoiceURI)
		}
		return v, nil
	}
	if rec.VoiceURI != "" {
		if v, ok := s.registry.ByURI(rec.VoiceURI); ok {
			return v, nil
		}
	}
	v, ok := s.registry.DefaultFor(lang)
	if !ok {
		return synth.Voice{}, protocol.NewError(protocol.ErrVoicesUnavailable, "no voices installed")
	}
	return v, nil
}

func (s *Service) handleStop(protocol.Envelope) protocol.Ack {
	if err := s.machine.Stop(); err != nil {
		return errAck(err)
	}
	return protocol.Ack{OK: true}
}

func (s *Service) handlePause(protocol.Envelope) protocol.Ack {
	if err := s.machine.Pause(); err != nil {
		return errAck(err)
	}
	return protocol.Ack{OK: true}
}

func (s *Service) handleResume(protocol.Envelope) protocol.Ack {
	if err := s.machine.Resume(); err != nil {
		return errAck(err)
	}
	return protocol.Ack{OK: true}
}

func (s *Service) handleVoices(protocol.Envelope) protocol.Ack {
	list, err := s.registry.List(s.ctx)
	if err != nil {
		return errAck(err)
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return errAck(err)
	}
	return protocol.Ack{OK: true, Payload: payload}
}

func (s *Service) handleSettingsGet(protocol.Envelope) protocol.Ack {
	s.mu.Lock()
	rec := s.current
	s.mu.Unlock()
	payload, err := json.Marshal(rec)
	if err != nil {
		return errAck(err)
	}
	return protocol.Ack{OK: true, Payload: payload}
}

func (s *Service) handleSettingsSet(env protocol.Envelope) protocol.Ack {
	var patch settings.Patch
	if err := env.Decode(&patch); err != nil {
		return errAck(protocol.NewError(protocol.ErrInternal, "malformed settings patch: %v", err))
	}

	known := s.voiceValidator()

	s.mu.Lock()
	rec := s.current
	rec.Apply(patch)
	rec.Normalize(known)
	s.current = rec
	s.mu.Unlock()

	if err := s.store.SaveSettings(s.ctx, rec); err != nil {
		return errAck(protocol.NewError(protocol.ErrStorageUnavailable, "settings write failed: %v", err))
	}

	s.broadcast(protocol.SubjectSettingsChanged, protocol.KindSettingsChanged, rec)

	payload, err := json.Marshal(rec)
	if err != nil {
		return errAck(err)
	}
	return protocol.Ack{OK: true, Payload: payload}
}

// voiceValidator resolves the voice list before normalization so a
// configured voice is checked against real registry contents, not an
// empty cache. When the list cannot be resolved yet, validation is
// skipped and the configured voice survives untouched.
func (s *Service) voiceValidator() func(uri string) bool {
	if _, err := s.registry.List(s.ctx); err != nil {
		s.logger.Warn("voice list unavailable, keeping configured voice",
			slog.String("error", err.Error()))
		return nil
	}
	return s.registry.Known
}

func (s *Service) handleDetection(msg *nats.Msg) {
	var env protocol.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.logger.Warn("failed to decode detection envelope", slog.String("error", err.Error()))
		return
	}
	var det protocol.Detection
	if err := env.Decode(&det); err != nil {
		s.logger.Warn("failed to decode detection payload", slog.String("error", err.Error()))
		return
	}

	obs, kept := s.tabs.Update(det)
	if !kept {
		s.logger.Info("tab closed", slog.Int("tab_id", det.TabID))
		return
	}
	s.logger.Info("voice detection",
		slog.Int("tab_id", obs.TabID),
		slog.String("site", string(obs.Site)),
		slog.Bool("active", obs.Active))
}

func (s *Service) broadcastPlayback(kind protocol.Kind, payload any) {
	if s.terminals != nil {
		switch kind {
		case protocol.KindTTSCompleted, protocol.KindTTSStopped, protocol.KindTTSError:
			s.terminals.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		}
	}
	s.broadcast(protocol.SubjectPlaybackEvents, kind, payload)
}

// broadcastPlaybackError reports a failure that prevented playback from
// starting, so subscribers see it even though no utterance ran.
func (s *Service) broadcastPlaybackError(err error) {
	s.broadcast(protocol.SubjectPlaybackEvents, protocol.KindTTSError, protocol.Terminal{Err: protocol.InfoOf(err)})
}

func (s *Service) broadcast(subject string, kind protocol.Kind, payload any) {
	env, err := protocol.NewEnvelope(kind, "", 0, payload)
	if err != nil {
		s.logger.Warn("failed to build broadcast", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(subject, env); err != nil {
		s.logger.Warn("failed to publish broadcast",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (s *Service) persistRecovery(rec settings.RecoveryRecord) {
	s.store.SaveRecovery(s.ctx, rec)
}
