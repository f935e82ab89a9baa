// Command voxbridge-panel is an operator surface for a running
// voxbridged: it acts as a panel or observer peer on the bus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxbridge-labs/voxbridge-core/internal/bus"
	"github.com/voxbridge-labs/voxbridge-core/internal/config"
	"github.com/voxbridge-labs/voxbridge-core/internal/observer"
	"github.com/voxbridge-labs/voxbridge-core/internal/panel"
	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
	"github.com/voxbridge-labs/voxbridge-core/internal/settings"
	"github.com/voxbridge-labs/voxbridge-core/internal/siteprofile"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected one of: play, stop, pause, resume, voices, settings, detect, observe, watch, version")
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	if cmd == "version" {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cmd, args, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, servers string, logger *slog.Logger) (*bus.Client, error) {
	cfg := config.Default().Bus
	cfg.Embedded = false
	if servers != "" {
		cfg.Servers = strings.Split(servers, ",")
	}
	return bus.Connect(ctx, cfg, logger)
}

func run(ctx context.Context, cmd string, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	servers := fs.String("servers", "", "Comma-separated bus servers (default nats://localhost:4222)")
	tabID := fs.Int("tab", 0, "Originating tab id")

	switch cmd {
	case "play":
		follow := fs.Bool("follow", false, "Stay subscribed and print playback events until the utterance ends")
		fs.Parse(args)
		text := strings.Join(fs.Args(), " ")
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		return runPlay(ctx, client, text, *tabID, *follow, logger)

	case "stop", "pause", "resume":
		fs.Parse(args)
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		kinds := map[string]protocol.Kind{
			"stop":   protocol.KindTTSStop,
			"pause":  protocol.KindTTSPause,
			"resume": protocol.KindTTSResume,
		}
		if _, err := client.Command(ctx, kinds[cmd], *tabID, nil); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "voices":
		fs.Parse(args)
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		ack, err := client.Command(ctx, protocol.KindVoicesList, 0, nil)
		if err != nil {
			return err
		}
		return printJSON(ack.Payload)

	case "settings":
		fs.Parse(args)
		rest := fs.Args()
		if len(rest) == 0 {
			return fmt.Errorf("expected 'settings get' or 'settings set key=value ...'")
		}
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		return runSettings(ctx, client, rest)

	case "detect":
		url := fs.String("url", "", "Page URL of the simulated tab")
		active := fs.Bool("active", false, "Report the listening state as active")
		closed := fs.Bool("closed", false, "Report the tab as closed")
		fs.Parse(args)
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		return runDetect(client, *tabID, *url, *active, *closed)

	case "observe":
		url := fs.String("url", "", "Page URL of the simulated tab")
		fixture := fs.String("fixture", "", "Path to a JSON page fixture (array of elements)")
		fs.Parse(args)
		if *url == "" {
			return fmt.Errorf("observe requires -url")
		}
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		return runObserve(ctx, client, *tabID, *url, *fixture)

	case "watch":
		fs.Parse(args)
		client, err := connect(ctx, *servers, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		return runWatch(ctx, client)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runPlay(ctx context.Context, client *bus.Client, text string, tabID int, follow bool, logger *slog.Logger) error {
	vm := panel.New(client, nil, logger)
	vm.SetText(text)

	done := make(chan struct{})
	if follow {
		sub, err := client.Conn().Subscribe(protocol.SubjectPlaybackEvents, func(msg *nats.Msg) {
			var env protocol.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				return
			}
			vm.HandleEvent(env)
			view := vm.View()
			fmt.Printf("%-12s %5.1f%% %s\n", env.Kind, view.ProgressPct, view.Word)
			if env.Kind == protocol.KindTTSCompleted || env.Kind == protocol.KindTTSStopped || env.Kind == protocol.KindTTSError {
				close(done)
			}
		})
		if err != nil {
			return err
		}
		defer sub.Drain()
	}

	vm.PressPlay(ctx)
	view := vm.View()
	if view.Status == panel.StatusError {
		return fmt.Errorf("play failed: %s", view.ErrorLabel)
	}
	fmt.Printf("status: %s (%d chars)\n", view.Status, view.CharCount)

	if follow {
		select {
		case <-done:
		case <-ctx.Done():
		case <-time.After(2 * time.Minute):
		}
		fmt.Printf("status: %s\n", vm.View().Status)
	}
	return nil
}

func runSettings(ctx context.Context, client *bus.Client, args []string) error {
	switch args[0] {
	case "get":
		ack, err := client.Command(ctx, protocol.KindSettingsGet, 0, nil)
		if err != nil {
			return err
		}
		return printJSON(ack.Payload)
	case "set":
		patch, err := parsePatch(args[1:])
		if err != nil {
			return err
		}
		ack, err := client.Command(ctx, protocol.KindSettingsSet, 0, patch)
		if err != nil {
			return err
		}
		return printJSON(ack.Payload)
	default:
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func parsePatch(pairs []string) (settings.Patch, error) {
	var patch settings.Patch
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return patch, fmt.Errorf("expected key=value, got %q", pair)
		}
		switch key {
		case "language":
			patch.Language = &value
		case "voice":
			patch.VoiceURI = &value
		case "rate", "pitch", "volume":
			var f float64
			if _, err := fmt.Sscanf(value, "%g", &f); err != nil {
				return patch, fmt.Errorf("%s must be a number: %q", key, value)
			}
			switch key {
			case "rate":
				patch.Rate = &f
			case "pitch":
				patch.Pitch = &f
			case "volume":
				patch.Volume = &f
			}
		case "auto_detect":
			b := value == "true" || value == "1"
			patch.AutoDetect = &b
		case "sites":
			sites := strings.Split(value, ",")
			patch.EnabledSites = &sites
		case "shortcut":
			patch.Shortcut = &value
		default:
			return patch, fmt.Errorf("unknown settings key %q", key)
		}
	}
	return patch, nil
}

func runDetect(client *bus.Client, tabID int, url string, active, closed bool) error {
	det := protocol.Detection{
		TabID:   tabID,
		URL:     url,
		Capable: true,
		Active:  active,
		Closed:  closed,
	}
	if url != "" {
		det.Site = string(siteprofile.Classify(url))
	}
	env, err := protocol.NewEnvelope(protocol.KindVoiceDetection, "", tabID, det)
	if err != nil {
		return err
	}
	if err := client.Publish(protocol.SubjectDetection, env); err != nil {
		return err
	}
	fmt.Printf("reported tab=%d site=%s active=%v closed=%v\n", tabID, det.Site, active, closed)
	return nil
}

// runObserve hosts a tab observer over a page fixture. The fixture is
// re-read once a second; edits to it show up as DOM mutations.
func runObserve(ctx context.Context, client *bus.Client, tabID int, url, fixture string) error {
	elements, err := loadFixture(fixture)
	if err != nil {
		return err
	}
	page := observer.NewStaticPage(url, elements...)

	rec := settings.Defaults()
	if ack, err := client.Command(ctx, protocol.KindSettingsGet, 0, nil); err == nil {
		_ = json.Unmarshal(ack.Payload, &rec)
	}

	cfg := config.Default().Observer
	cfg.TabID = tabID
	cfg.URL = url
	obs := observer.New(ctx, cfg, page, client, rec, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := obs.Start(); err != nil {
		return err
	}
	defer obs.Close()
	fmt.Printf("observing tab=%d site=%s\n", tabID, obs.Site())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if fixture == "" {
				continue
			}
			next, err := loadFixture(fixture)
			if err != nil {
				continue
			}
			page.SetElements(next...)
			obs.NotifyMutation()
		}
	}
}

type fixtureElement struct {
	Tag     string            `json:"tag"`
	ID      string            `json:"id,omitempty"`
	Classes []string          `json:"classes,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

func loadFixture(path string) ([]observer.Element, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var raw []fixtureElement
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	elements := make([]observer.Element, len(raw))
	for i, e := range raw {
		elements[i] = observer.Element{Tag: e.Tag, ID: e.ID, Classes: e.Classes, Attrs: e.Attrs}
	}
	return elements, nil
}

func runWatch(ctx context.Context, client *bus.Client) error {
	print := func(msg *nats.Msg) {
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		fmt.Printf("%s %-16s %s\n", time.UnixMilli(env.Timestamp).Format(time.TimeOnly), env.Kind, string(env.Payload))
	}
	for _, subject := range []string{protocol.SubjectPlaybackEvents, protocol.SubjectSettingsChanged, protocol.SubjectDetection} {
		sub, err := client.Conn().Subscribe(subject, print)
		if err != nil {
			return err
		}
		defer sub.Drain()
	}
	<-ctx.Done()
	return nil
}

func printJSON(raw json.RawMessage) error {
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return err
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
