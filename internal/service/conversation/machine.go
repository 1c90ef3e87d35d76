package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle position of the in-progress user turn.
type State string

const (
	StateIdle               State = "idle"
	StateCapturing          State = "capturing"
	StateAwaitingTranscript State = "awaiting_transcript"
	StateReady              State = "ready"
	StateSending            State = "sending"
	StateErrorRecoverable   State = "error_recoverable"
)

// InputMode distinguishes voice capture from typed entry.
type InputMode string

const (
	ModeNone  InputMode = ""
	ModeVoice InputMode = "voice"
	ModeText  InputMode = "text"
)

var (
	// ErrGuardRejected means the event was refused without a transition:
	// empty or oversized draft, or a second submission while one is already
	// in flight. Guard rejections never produce a log entry.
	ErrGuardRejected = errors.New("submission rejected by guard")

	// ErrInvalidTransition means the event is not defined for the current
	// state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Machine governs one in-progress user turn. At most one turn may be in
// flight: entering Sending is mutually exclusive with a concurrent Sending,
// and overlapping submissions are rejected rather than queued.
type Machine struct {
	mu           sync.Mutex
	state        State
	mode         InputMode
	draft        string
	audio        []byte
	audioRef     string
	audioFormat  string
	captureStart time.Time
}

// NewMachine returns a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State reports the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mode reports the input mode of the turn in progress.
func (m *Machine) Mode() InputMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Draft returns the current draft content.
func (m *Machine) Draft() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// AudioRef returns the reference to the retained capture, if any.
func (m *Machine) AudioRef() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioRef
}

// Audio returns the retained raw capture so a failed transcription can be
// retried without re-recording.
func (m *Machine) Audio() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

// AudioFormat returns the container format of the retained capture.
func (m *Machine) AudioFormat() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioFormat
}

// CaptureElapsed reports how long the current voice capture has been running.
// The timer is independent of any network operation.
func (m *Machine) CaptureElapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.captureStart.IsZero() {
		return 0
	}
	return time.Since(m.captureStart)
}

// BeginCapture starts a new turn in voice or text mode. Voice capture starts
// the recording timer.
func (m *Machine) BeginCapture(mode InputMode) error {
	if mode != ModeVoice && mode != ModeText {
		return fmt.Errorf("%w: unknown input mode %q", ErrInvalidTransition, mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return fmt.Errorf("%w: begin capture from %s", ErrInvalidTransition, m.state)
	}
	m.state = StateCapturing
	m.mode = mode
	m.draft = ""
	m.audio = nil
	m.audioRef = ""
	if mode == ModeVoice {
		m.captureStart = time.Now()
	}
	return nil
}

// SetDraft updates the editable draft. In text mode the first non-empty
// content moves Capturing to Ready, since no transcription step is needed.
func (m *Machine) SetDraft(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCapturing:
		if m.mode != ModeText {
			return fmt.Errorf("%w: draft edits during voice capture", ErrInvalidTransition)
		}
		m.draft = text
		if text != "" {
			m.state = StateReady
		}
		return nil
	case StateReady:
		m.draft = text
		return nil
	default:
		return fmt.Errorf("%w: set draft in %s", ErrInvalidTransition, m.state)
	}
}

// EndCapture finishes a voice capture, stops the timer, and retains the raw
// audio and its format while awaiting transcription. Invalid in text mode.
func (m *Machine) EndCapture(audio []byte, audioRef, format string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCapturing || m.mode != ModeVoice {
		return 0, fmt.Errorf("%w: end capture in %s/%s", ErrInvalidTransition, m.state, m.mode)
	}
	elapsed := time.Since(m.captureStart)
	m.captureStart = time.Time{}
	m.state = StateAwaitingTranscript
	m.audio = audio
	m.audioRef = audioRef
	m.audioFormat = format
	return elapsed, nil
}

// TranscriptReady installs the transcription result as the draft, editable
// before send.
func (m *Machine) TranscriptReady(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingTranscript {
		return fmt.Errorf("%w: transcript in %s", ErrInvalidTransition, m.state)
	}
	m.draft = text
	m.state = StateReady
	return nil
}

// TranscriptFailed records a transcription failure. The captured audio stays
// retained for retry.
func (m *Machine) TranscriptFailed() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingTranscript {
		return fmt.Errorf("%w: transcript failure in %s", ErrInvalidTransition, m.state)
	}
	m.state = StateErrorRecoverable
	return nil
}

// BeginSend guards and enters Sending, returning the draft to submit. The
// submission is rejected without a transition when the draft is empty, exceeds
// maxLen (when positive), or another send is already in flight.
func (m *Machine) BeginSend(maxLen int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReady {
		return "", fmt.Errorf("%w: submit in %s", ErrGuardRejected, m.state)
	}
	if m.draft == "" {
		return "", fmt.Errorf("%w: empty draft", ErrGuardRejected)
	}
	if maxLen > 0 && len(m.draft) > maxLen {
		return "", fmt.Errorf("%w: draft exceeds %d bytes", ErrGuardRejected, maxLen)
	}
	m.state = StateSending
	return m.draft, nil
}

// FinishSend completes a successful round trip and returns the machine to
// Idle for the next turn.
func (m *Machine) FinishSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSending {
		return fmt.Errorf("%w: finish send in %s", ErrInvalidTransition, m.state)
	}
	m.reset()
	return nil
}

// FailSend records a forwarder failure. The draft is preserved so the user
// can resubmit without retyping.
func (m *Machine) FailSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSending {
		return fmt.Errorf("%w: fail send in %s", ErrInvalidTransition, m.state)
	}
	m.state = StateErrorRecoverable
	return nil
}

// CancelSend aborts an in-flight send and returns the draft to Ready. No
// error entry is fabricated; nothing reached the log for the attempt.
func (m *Machine) CancelSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSending {
		return fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, m.state)
	}
	m.state = StateReady
	return nil
}

// Retry acknowledges a recoverable error and resumes the turn: back to Ready
// when draft content exists, or back to AwaitingTranscript when only retained
// audio exists (transcription retry without re-recording).
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateErrorRecoverable {
		return fmt.Errorf("%w: retry in %s", ErrInvalidTransition, m.state)
	}
	if m.draft != "" {
		m.state = StateReady
		return nil
	}
	if len(m.audio) > 0 {
		m.state = StateAwaitingTranscript
		return nil
	}
	return fmt.Errorf("%w: nothing to retry", ErrInvalidTransition)
}

// Discard acknowledges an error or abandons a ready draft and returns to
// Idle, dropping draft and retained audio.
func (m *Machine) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateErrorRecoverable && m.state != StateReady {
		return fmt.Errorf("%w: discard in %s", ErrInvalidTransition, m.state)
	}
	m.reset()
	return nil
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.mode = ModeNone
	m.draft = ""
	m.audio = nil
	m.audioRef = ""
	m.audioFormat = ""
	m.captureStart = time.Time{}
}
