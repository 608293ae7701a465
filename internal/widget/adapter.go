package widget

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventKind tags the application-level signals surfaced from the embedded
// payment widget. The browser side reports untyped JSON; everything past
// this package works with the tagged form only.
type EventKind string

const (
	// EventReady means the widget mounted and can accept input.
	EventReady EventKind = "ready"
	// EventSettled means the widget believes submission succeeded. This is
	// not proof of settlement; the poller confirms against the processor.
	EventSettled EventKind = "settled"
	// EventFailed means the widget reported an error or never loaded.
	EventFailed EventKind = "failed"
)

const ReasonScriptLoadTimeout = "script_load_timeout"

type Event struct {
	Kind EventKind
	// OutcomeReference is set for settled events only.
	OutcomeReference string
	// Reason is set for failed events only.
	Reason string
}

// RawEvent is the untyped callback payload delivered by the browser widget.
type RawEvent struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// ParseEvent converts a raw widget callback into a tagged Event. Unknown
// event types are rejected at the boundary so nothing downstream handles
// untyped data.
func ParseEvent(raw RawEvent) (Event, error) {
	switch raw.Type {
	case "ready":
		return Event{Kind: EventReady}, nil
	case "success", "settled":
		ref, _ := raw.Payload["outcome_reference"].(string)
		return Event{Kind: EventSettled, OutcomeReference: ref}, nil
	case "error", "failed":
		reason, _ := raw.Payload["reason"].(string)
		if reason == "" {
			reason = "widget_error"
		}
		return Event{Kind: EventFailed, Reason: reason}, nil
	default:
		return Event{}, fmt.Errorf("unknown widget event type %q", raw.Type)
	}
}

// TeardownFunc releases widget-session resources. Errors are reported to
// the logger and never propagated; a failing teardown must not block
// navigation away from the page.
type TeardownFunc func() error

// Session bridges one mounted widget instance to the booking flow. Each
// outcome kind is surfaced at most once per mount, terminal outcomes
// (settled, failed) shut further delivery off, and teardown runs exactly
// once however many times it is requested.
type Session struct {
	intentID string
	logger   *slog.Logger
	events   chan Event

	mu        sync.Mutex
	delivered map[EventKind]bool
	terminal  bool
	unmounted bool

	teardownOnce sync.Once
	teardown     TeardownFunc
	scriptTimer  *time.Timer
}

// NewSession mounts an adapter session bound to a payment intent. If the
// widget never reports ready within scriptTimeout, the session fails with
// ReasonScriptLoadTimeout instead of hanging.
func NewSession(intentID string, scriptTimeout time.Duration, teardown TeardownFunc, logger *slog.Logger) *Session {
	s := &Session{
		intentID:  intentID,
		logger:    logger,
		events:    make(chan Event, 4),
		delivered: make(map[EventKind]bool),
		teardown:  teardown,
	}

	if scriptTimeout > 0 {
		s.scriptTimer = time.AfterFunc(scriptTimeout, func() {
			delivered := s.Deliver(Event{Kind: EventFailed, Reason: ReasonScriptLoadTimeout})
			if delivered {
				logger.Warn("widget script load timed out", "intent_id", s.intentID)
			}
		})
	}

	return s
}

// Deliver surfaces one widget event. Returns false when the event was
// dropped: duplicate kind, a terminal outcome already fired, or the session
// is unmounted.
func (s *Session) Deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unmounted || s.terminal || s.delivered[ev.Kind] {
		s.logger.Debug("widget event dropped",
			"intent_id", s.intentID,
			"kind", ev.Kind,
			"unmounted", s.unmounted,
			"terminal", s.terminal)
		return false
	}

	s.delivered[ev.Kind] = true

	switch ev.Kind {
	case EventReady:
		if s.scriptTimer != nil {
			s.scriptTimer.Stop()
		}
	case EventSettled, EventFailed:
		s.terminal = true
		if s.scriptTimer != nil {
			s.scriptTimer.Stop()
		}
	}

	select {
	case s.events <- ev:
	default:
		// Buffer full can only happen if the consumer is gone; treat as
		// unmounted and drop.
		s.logger.Warn("widget event buffer full, dropping", "intent_id", s.intentID, "kind", ev.Kind)
		return false
	}

	return true
}

// Events is the channel the booking flow consumes adapter signals from.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Mounted reports whether the session should still act on results. Pollers
// check this before reconciling so an unmounted page never commits state.
func (s *Session) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unmounted
}

// Teardown releases the widget's resources exactly once. Errors are logged
// and swallowed.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.unmounted = true
		if s.scriptTimer != nil {
			s.scriptTimer.Stop()
		}
		s.mu.Unlock()

		if s.teardown != nil {
			if err := s.teardown(); err != nil {
				s.logger.Error("widget teardown failed", "intent_id", s.intentID, "error", err)
			}
		}

		close(s.events)
		s.logger.Debug("widget session torn down", "intent_id", s.intentID)
	})
}
