// Package pending holds the single-slot buffer for a push action that arrives
// before the host application can execute it.
//
// The slot has last-offer-wins semantics: an offer overwrites any undelivered
// occupant. A readiness poller drains it once the host is ready.
package pending

import (
	"log/slog"
	"sync"
)

// SourcePush is the source tag passed to the executor for push-originated actions.
const SourcePush = "push"

// Action is a resolved action to run in the host application, e.g. opening a URL.
type Action struct {
	Type      string
	Data      string
	UserInput string
}

// EventMetadata identifies the event a delivery is attributed to.
type EventMetadata struct {
	CampaignID int
	TemplateID int
	MessageID  string
}

// PendingAction is one push action awaiting delivery.
type PendingAction struct {
	Event EventMetadata
	// Payload is the raw push payload the action was decoded from.
	Payload map[string]string
	// Action is nil when the payload carried no resolvable action.
	Action  *Action
	OpenApp bool
	// DataFields are attached to the delivery record, e.g. the button identifier.
	DataFields map[string]any
}

// ReadinessProbe reports whether the host application can execute actions now.
type ReadinessProbe interface {
	IsHostReady() bool
}

// ReadinessFunc adapts a function to ReadinessProbe.
type ReadinessFunc func() bool

// IsHostReady calls f.
func (f ReadinessFunc) IsHostReady() bool {
	return f()
}

// Executor delivers an action: it records the delivery for the originating
// event, then executes the action and reports whether something handled it.
type Executor interface {
	RecordDelivery(event EventMetadata, dataFields map[string]any)
	Execute(action *Action, source string) bool
}

// Slot holds at most one pending action.
type Slot struct {
	executor Executor

	mu      sync.Mutex
	current *PendingAction
}

// NewSlot creates an empty slot that delivers to executor.
func NewSlot(executor Executor) *Slot {
	return &Slot{executor: executor}
}

// Offer replaces the slot's occupant with a.
func (s *Slot) Offer(a PendingAction) {
	s.mu.Lock()
	replaced := s.current != nil
	s.current = &a
	s.mu.Unlock()

	if replaced {
		slog.Debug("Slot.Offer: discarded undelivered action", "messageID", a.Event.MessageID)
	}
}

// Occupied reports whether an action is waiting.
func (s *Slot) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// DrainIfReady delivers the waiting action when probe reports the host ready.
//
// An empty slot returns false without consulting probe. A host that is not
// ready leaves the occupant in place. Otherwise the occupant is removed before
// delivery, so it is delivered at most once, and the executor's result is
// returned.
func (s *Slot) DrainIfReady(probe ReadinessProbe) bool {
	if !s.Occupied() {
		return false
	}
	if probe == nil || !probe.IsHostReady() {
		slog.Debug("Slot.DrainIfReady: host not ready, keeping pending action")
		return false
	}

	s.mu.Lock()
	a := s.current
	s.current = nil
	s.mu.Unlock()
	if a == nil {
		// Drained concurrently between the check and the take.
		return false
	}
	return s.deliver(a)
}

func (s *Slot) deliver(a *PendingAction) bool {
	if s.executor == nil {
		slog.Warn("Slot.deliver: no executor configured, dropping action", "messageID", a.Event.MessageID)
		return false
	}
	s.executor.RecordDelivery(a.Event, a.DataFields)
	handled := s.executor.Execute(a.Action, SourcePush)
	slog.Debug("Slot.deliver: action delivered", "messageID", a.Event.MessageID, "handled", handled)
	return handled
}
