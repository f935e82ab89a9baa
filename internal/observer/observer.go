package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge-labs/voxbridge-core/internal/config"
	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/settings"
	"github.com/voxbridge-labs/voxbridge-core/internal/siteprofile"
)

// Publisher sends detection reports to the controller. *bus.Client
// satisfies it.
type Publisher interface {
	Publish(subject string, env protocol.Envelope) error
}

// DefaultMutationThrottle bounds how often DOM-mutation ticks trigger
// a detection pass.
const DefaultMutationThrottle = 500 * time.Millisecond

// Observer is the per-tab agent. It classifies the page once, then
// polls the snapshot for listening indicators and reports transitions
// to the controller.
type Observer struct {
	tabID    int
	page     Page
	site     siteprofile.Tag
	profile  siteprofile.Profile
	bus      Publisher
	logger   *slog.Logger
	throttle time.Duration
	gated    bool

	mutations chan struct{}
	lastMut   time.Time

	mu         sync.Mutex
	lastActive bool
	reported   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New classifies page and prepares the detection loop. The settings
// record gates reporting: auto-detect off or a site outside the
// whitelist keeps the observer silent.
func New(parent context.Context, cfg config.ObserverConfig, page Page, pub Publisher, rec settings.Record, log *slog.Logger) *Observer {
	ctx, cancel := context.WithCancel(parent)
	site := siteprofile.Classify(page.URL())
	throttle := time.Duration(cfg.MutationThrottleMS) * time.Millisecond
	if throttle <= 0 {
		throttle = DefaultMutationThrottle
	}
	return &Observer{
		tabID:     cfg.TabID,
		page:      page,
		site:      site,
		profile:   siteprofile.Lookup(site),
		bus:       pub,
		throttle:  throttle,
		gated:     !rec.AutoDetect || !rec.SiteEnabled(string(site)),
		mutations: make(chan struct{}, 1),
		logger: log.With(
			slog.String("component", "observer"),
			slog.Int("tab_id", cfg.TabID),
			slog.String("site", string(site)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Site returns the classification result.
func (o *Observer) Site() siteprofile.Tag {
	return o.site
}

func (o *Observer) Start() error {
	if o.gated {
		o.logger.Info("detection disabled for site, observer idle")
		return nil
	}
	o.wg.Add(1)
	go o.run()
	o.logger.Info("observer started", slog.Duration("poll_interval", o.profile.PollInterval))
	return nil
}

// Close tears the observer down. Pending timers are dropped without
// waiting; a closed report lets the controller drop the tab record.
func (o *Observer) Close() {
	o.cancel()
	o.wg.Wait()

	o.mu.Lock()
	reported := o.reported
	o.mu.Unlock()
	if reported {
		o.report(protocol.Detection{TabID: o.tabID, Site: string(o.site), Closed: true})
	}
}

// NotifyMutation feeds a DOM-mutation tick into the loop. Ticks are
// throttled to at most one detection pass per throttle window.
func (o *Observer) NotifyMutation() {
	select {
	case o.mutations <- struct{}{}:
	default:
	}
}

func (o *Observer) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.profile.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.check()
		case <-o.mutations:
			now := time.Now()
			if now.Sub(o.lastMut) < o.throttle {
				continue
			}
			o.lastMut = now
			o.check()
		}
	}
}

// check runs one detection pass: widget selectors first, then active
// predicates, reporting only when the combined boolean changes.
func (o *Observer) check() {
	capable := o.matchAny(o.profile.WidgetSelectors)
	active := capable && o.matchAny(o.profile.ActiveSelectors)

	o.mu.Lock()
	changed := active != o.lastActive
	if changed {
		o.lastActive = active
		o.reported = true
	}
	o.mu.Unlock()

	if !changed {
		return
	}
	o.report(protocol.Detection{
		TabID:   o.tabID,
		Site:    string(o.site),
		URL:     o.page.URL(),
		Capable: capable,
		Active:  active,
	})
}

// matchAny tries selectors in order. Failed reads count as no match;
// a mid-navigation DOM must not take the observer down.
func (o *Observer) matchAny(selectors []string) bool {
	for _, sel := range selectors {
		ok, err := o.page.Matches(sel)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (o *Observer) report(det protocol.Detection) {
	env, err := protocol.NewEnvelope(protocol.KindVoiceDetection, "", o.tabID, det)
	if err != nil {
		o.logger.Warn("failed to build detection report", slog.String("error", err.Error()))
		return
	}
	if err := o.bus.Publish(protocol.SubjectDetection, env); err != nil {
		o.logger.Warn("failed to publish detection report", slog.String("error", err.Error()))
		return
	}
	o.logger.Info("reported detection", slog.Bool("active", det.Active), slog.Bool("closed", det.Closed))
}
