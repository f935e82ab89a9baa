package synth

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
)

// execEngine drives an external synthesizer process. The process reads
// one JSON request on stdin and emits JSON-lines events on stdout:
// {"event":"start"}, {"event":"boundary","char_index":N,"word":W},
// {"event":"end"}, {"event":"error","code":C}.
type execEngine struct {
	cmd       []string
	voicesCmd []string

	mu       sync.Mutex
	proc     *exec.Cmd
	speaking bool
	pending  bool
	canceled bool
	voices   []Voice
	loaded   bool
}

type execRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Lang   string  `json:"lang,omitempty"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

type execEvent struct {
	Event     string `json:"event"`
	CharIndex int    `json:"char_index,omitempty"`
	Word      string `json:"word,omitempty"`
	Code      string `json:"code,omitempty"`
}

// NewExec builds an engine over the given synthesizer command.
// voicesCommand, when non-empty, is invoked once to list voices as a
// JSON array; an empty command yields an empty voice list.
func NewExec(command, voicesCommand string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	var vargs []string
	if voicesCommand != "" {
		vargs, err = parser.Parse(voicesCommand)
		if err != nil {
			return nil, fmt.Errorf("parse voices command: %w", err)
		}
	}
	return &execEngine{cmd: args, voicesCmd: vargs}, nil
}

func (e *execEngine) Speak(u *Utterance) error {
	req := execRequest{
		Text:   u.Text,
		Voice:  u.VoiceURI,
		Lang:   u.Lang,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
		Volume: u.Volume,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	cmd := exec.Command(e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	e.mu.Lock()
	e.proc = cmd
	e.pending = true
	e.canceled = false
	e.mu.Unlock()

	go func() {
		defer cmd.Wait()

		if _, err := stdin.Write(data); err != nil {
			e.fail(u, CodeSynthesisFailed)
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var evt execEvent
			if err := json.Unmarshal(line, &evt); err != nil {
				e.fail(u, CodeSynthesisFailed)
				return
			}
			switch evt.Event {
			case "start":
				e.mu.Lock()
				e.pending = false
				e.speaking = true
				e.mu.Unlock()
				if u.OnStart != nil {
					u.OnStart()
				}
			case "boundary":
				if u.OnBoundary != nil {
					u.OnBoundary(evt.CharIndex, evt.Word)
				}
			case "end":
				e.settle()
				if u.OnEnd != nil {
					u.OnEnd()
				}
				return
			case "error":
				code := ErrorCode(evt.Code)
				if code == "" {
					code = CodeUnknown
				}
				e.fail(u, code)
				return
			}
		}
		// Process exited without a terminal event. A local cancel kills
		// the process, which lands here.
		e.mu.Lock()
		canceled := e.canceled
		e.mu.Unlock()
		if canceled {
			e.fail(u, CodeInterrupted)
			return
		}
		e.fail(u, CodeUnknown)
	}()
	return nil
}

func (e *execEngine) settle() {
	e.mu.Lock()
	e.speaking = false
	e.pending = false
	e.proc = nil
	e.mu.Unlock()
}

func (e *execEngine) fail(u *Utterance, code ErrorCode) {
	e.settle()
	if u.OnError != nil {
		u.OnError(code)
	}
}

func (e *execEngine) Cancel() {
	e.mu.Lock()
	e.canceled = true
	proc := e.proc
	e.mu.Unlock()
	if proc != nil && proc.Process != nil {
		_ = proc.Process.Kill()
	}
}

// Pause and Resume are not supported by the stdio protocol. The
// external process keeps speaking regardless, so pretending to pause
// would leave the caller's state lying about the audio.
func (e *execEngine) Pause() error {
	return protocol.NewError(protocol.ErrInvalidState, "exec engine cannot pause mid-utterance")
}

func (e *execEngine) Resume() error {
	return protocol.NewError(protocol.ErrInvalidState, "exec engine cannot resume, pause is unsupported")
}

func (e *execEngine) Voices() []Voice {
	e.mu.Lock()
	if e.loaded {
		out := make([]Voice, len(e.voices))
		copy(out, e.voices)
		e.mu.Unlock()
		return out
	}
	e.mu.Unlock()

	var voices []Voice
	if len(e.voicesCmd) > 0 {
		out, err := exec.Command(e.voicesCmd[0], e.voicesCmd[1:]...).Output()
		if err == nil {
			_ = json.Unmarshal(out, &voices)
		}
	}

	e.mu.Lock()
	e.voices = voices
	e.loaded = true
	e.mu.Unlock()
	return voices
}

func (e *execEngine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *execEngine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *execEngine) Paused() bool {
	return false
}

func (e *execEngine) OnVoicesChanged(fn func()) func() {
	// The exec engine's voice list is static per process; there is
	// nothing to notify.
	return func() {}
}
