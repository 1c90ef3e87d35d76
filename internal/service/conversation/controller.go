package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
	"github.com/yapvoice/yap/backend/internal/service/llm"
	"github.com/yapvoice/yap/backend/internal/service/metrics"
)

// Forwarder relays an assembled request to the LLM provider. Satisfied by
// *llm.Forwarder; faked in tests.
type Forwarder interface {
	Complete(ctx context.Context, settings convo.Settings, req llm.Request) (*llm.Result, error)
}

// Controller orchestrates one conversation aggregate: on submit it assembles
// context, drives the state machine through Sending, invokes the forwarder,
// and appends the outcome to the store. The aggregate is passed in explicitly;
// the controller holds no ambient state beyond it.
type Controller struct {
	store     *Store
	machine   *Machine
	forwarder Forwarder
	recorder  metrics.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController wires a controller around a store, machine, and forwarder.
// A nil recorder disables metrics.
func NewController(store *Store, machine *Machine, forwarder Forwarder, recorder metrics.Recorder) *Controller {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Controller{
		store:     store,
		machine:   machine,
		forwarder: forwarder,
		recorder:  recorder,
	}
}

// Store exposes the message log of the aggregate.
func (c *Controller) Store() *Store {
	return c.store
}

// Machine exposes the input state machine of the aggregate.
func (c *Controller) Machine() *Machine {
	return c.machine
}

// Submit runs one turn: guard, assemble, forward, record. On success the
// assistant reply is appended and returned. On forwarder failure a synthetic
// error entry carrying the sanitized description is appended, the user message
// is marked error, and the machine lands in ErrorRecoverable with the draft
// preserved. A guard-rejected submission produces no log entry at all.
func (c *Controller) Submit(ctx context.Context, settings convo.Settings) (convo.Message, error) {
	draft, err := c.machine.BeginSend(settings.MaxDraftLength)
	if err != nil {
		return convo.Message{}, err
	}

	turns := AssembleContext(c.store.Messages(), settings.MaxContextMessages, settings.SystemPrompt, draft)

	userMsg, err := c.store.Append(convo.Message{
		Role:     convo.RoleUser,
		Content:  draft,
		AudioRef: c.machine.AudioRef(),
		Status:   convo.StatusSent,
	})
	if err != nil {
		// Guard already refused empty drafts; an append failure here means
		// the attempt never started.
		_ = c.machine.CancelSend()
		return convo.Message{}, fmt.Errorf("append user message: %w", err)
	}

	ctx, cancelSend := context.WithCancel(ctx)
	c.setCancel(cancelSend)
	defer c.setCancel(nil)
	defer cancelSend()

	start := time.Now()
	result, err := c.forwarder.Complete(ctx, settings, llm.Request{
		Model:       settings.Model,
		Messages:    turns,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	})
	if err != nil {
		return convo.Message{}, c.failTurn(userMsg, draft, start, err)
	}

	assistant, err := c.store.Append(convo.Message{
		Role:    convo.RoleAssistant,
		Content: result.Content,
		Status:  convo.StatusComplete,
		Usage:   result.Usage,
	})
	if err != nil {
		return convo.Message{}, c.failTurn(userMsg, draft, start, fmt.Errorf("append assistant message: %w", err))
	}

	if err := c.store.UpdateStatus(userMsg.ID, convo.StatusComplete); err != nil {
		log.Printf("[controller] failed to complete user message: %v", err)
	}
	if err := c.machine.FinishSend(); err != nil {
		log.Printf("[controller] finish send: %v", err)
	}

	c.recorder.Record(metrics.Event{
		EventType:       metrics.EventChatSend,
		DurationSeconds: time.Since(start).Seconds(),
		InputChars:      len(draft),
		OutputChars:     len(result.Content),
		Status:          "success",
	})
	return assistant, nil
}

// failTurn converts a forwarder failure into log entries and a state
// transition. A caller-initiated cancellation instead rolls the attempt back:
// the pending user entry is removed, the draft returns to Ready, and no error
// entry is fabricated.
func (c *Controller) failTurn(userMsg convo.Message, draft string, start time.Time, cause error) error {
	if errors.Is(cause, context.Canceled) {
		if err := c.store.Delete(userMsg.ID); err != nil {
			log.Printf("[controller] failed to roll back canceled turn: %v", err)
		}
		if err := c.machine.CancelSend(); err != nil {
			log.Printf("[controller] cancel send: %v", err)
		}
		return cause
	}

	if _, err := c.store.Append(convo.Message{
		Role:    convo.RoleError,
		Content: cause.Error(),
		Status:  convo.StatusError,
	}); err != nil {
		log.Printf("[controller] failed to append error entry: %v", err)
	}
	if err := c.store.UpdateStatus(userMsg.ID, convo.StatusError); err != nil {
		log.Printf("[controller] failed to mark user message: %v", err)
	}
	if err := c.machine.FailSend(); err != nil {
		log.Printf("[controller] fail send: %v", err)
	}

	c.recorder.Record(metrics.Event{
		EventType:       metrics.EventChatSend,
		DurationSeconds: time.Since(start).Seconds(),
		InputChars:      len(draft),
		Status:          "error",
	})
	return cause
}

// SubmitText runs a full typed turn from Idle: begin text entry, install the
// draft, submit. If the guard refuses the draft the machine is returned to
// Idle so the next turn is not blocked.
func (c *Controller) SubmitText(ctx context.Context, settings convo.Settings, text string) (convo.Message, error) {
	if text == "" {
		return convo.Message{}, fmt.Errorf("%w: empty draft", ErrGuardRejected)
	}
	if err := c.machine.BeginCapture(ModeText); err != nil {
		return convo.Message{}, fmt.Errorf("%w: a turn is already in progress", ErrGuardRejected)
	}
	if err := c.machine.SetDraft(text); err != nil {
		return convo.Message{}, err
	}

	reply, err := c.Submit(ctx, settings)
	if errors.Is(err, ErrGuardRejected) {
		if derr := c.machine.Discard(); derr != nil {
			log.Printf("[controller] discard rejected draft: %v", derr)
		}
	}
	return reply, err
}

// Abort cancels the in-flight send, if any. Reports whether a send was
// actually in flight.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

func (c *Controller) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
}
