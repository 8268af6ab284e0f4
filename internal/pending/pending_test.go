package pending

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu       sync.Mutex
	recorded []EventMetadata
	executed []*Action
	sources  []string
	result   bool
}

func (e *recordingExecutor) RecordDelivery(event EventMetadata, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorded = append(e.recorded, event)
}

func (e *recordingExecutor) Execute(action *Action, source string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, action)
	e.sources = append(e.sources, source)
	return e.result
}

type countingLauncher struct {
	calls      int
	resolvable bool
}

func (l *countingLauncher) LaunchHostApplication() bool {
	l.calls++
	return l.resolvable
}

func ready(v bool) ReadinessProbe {
	return ReadinessFunc(func() bool { return v })
}

func actionFor(msg, url string, openApp bool) PendingAction {
	return PendingAction{
		Event:      EventMetadata{CampaignID: 7, TemplateID: 11, MessageID: msg},
		Action:     &Action{Type: "openUrl", Data: url},
		OpenApp:    openApp,
		DataFields: map[string]any{"actionIdentifier": "default"},
	}
}

func TestSlot_LastOfferWins(t *testing.T) {
	exec := &recordingExecutor{result: true}
	s := NewSlot(exec)

	s.Offer(actionFor("a", "https://example.com/a", false))
	s.Offer(actionFor("b", "https://example.com/b", false))

	require.True(t, s.DrainIfReady(ready(true)))
	require.Len(t, exec.executed, 1)
	assert.Equal(t, "https://example.com/b", exec.executed[0].Data)
	assert.Equal(t, []EventMetadata{{CampaignID: 7, TemplateID: 11, MessageID: "b"}}, exec.recorded)
	assert.Equal(t, []string{SourcePush}, exec.sources)
	assert.False(t, s.Occupied())
}

func TestSlot_EmptyDoesNotConsultProbe(t *testing.T) {
	s := NewSlot(&recordingExecutor{})
	probed := false

	handled := s.DrainIfReady(ReadinessFunc(func() bool {
		probed = true
		return true
	}))
	assert.False(t, handled)
	assert.False(t, probed)
}

func TestSlot_NotReadyKeepsOccupant(t *testing.T) {
	exec := &recordingExecutor{result: true}
	s := NewSlot(exec)
	s.Offer(actionFor("a", "https://example.com/a", false))

	assert.False(t, s.DrainIfReady(ready(false)))
	assert.True(t, s.Occupied())
	assert.Empty(t, exec.executed)

	assert.True(t, s.DrainIfReady(ready(true)))
	assert.False(t, s.Occupied())
}

func TestSlot_ClearedEvenWhenUnhandled(t *testing.T) {
	exec := &recordingExecutor{result: false}
	s := NewSlot(exec)
	s.Offer(actionFor("a", "https://example.com/a", false))

	assert.False(t, s.DrainIfReady(ready(true)))
	assert.False(t, s.Occupied())
	assert.Len(t, exec.executed, 1)

	// At most one delivery per occupancy.
	assert.False(t, s.DrainIfReady(ready(true)))
	assert.Len(t, exec.executed, 1)
}

func TestSlot_NilExecutorClearsSlot(t *testing.T) {
	s := NewSlot(nil)
	s.Offer(actionFor("a", "https://example.com/a", false))

	assert.False(t, s.DrainIfReady(ready(true)))
	assert.False(t, s.Occupied())
}

func TestSlot_ConcurrentDrainDeliversOnce(t *testing.T) {
	exec := &recordingExecutor{result: true}
	s := NewSlot(exec)
	s.Offer(actionFor("a", "https://example.com/a", false))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.DrainIfReady(ready(true))
		}()
	}
	wg.Wait()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Len(t, exec.executed, 1)
}

func TestDispatcher_HandleWhenReady(t *testing.T) {
	exec := &recordingExecutor{result: true}
	launcher := &countingLauncher{resolvable: true}
	d := NewDispatcher(NewSlot(exec), ready(true), launcher)

	assert.True(t, d.Handle(actionFor("a", "https://example.com/a", true)))
	assert.Len(t, exec.executed, 1)
	assert.Equal(t, 0, launcher.calls, "handled actions do not launch the host")
}

func TestDispatcher_HandleBeforeReadyLaunchesAndDefers(t *testing.T) {
	exec := &recordingExecutor{result: true}
	launcher := &countingLauncher{resolvable: true}
	hostReady := false
	slot := NewSlot(exec)
	d := NewDispatcher(slot, ReadinessFunc(func() bool { return hostReady }), launcher)

	assert.False(t, d.Handle(actionFor("a", "https://example.com/a", true)))
	assert.Equal(t, 1, launcher.calls)
	assert.True(t, slot.Occupied())
	assert.Empty(t, exec.executed)

	hostReady = true
	assert.True(t, d.ProcessPending())
	assert.Len(t, exec.executed, 1)
	assert.False(t, slot.Occupied())
	assert.False(t, d.ProcessPending())
}

func TestDispatcher_UnhandledWithoutOpenAppDoesNotLaunch(t *testing.T) {
	exec := &recordingExecutor{result: false}
	launcher := &countingLauncher{resolvable: true}
	d := NewDispatcher(NewSlot(exec), ready(true), launcher)

	assert.False(t, d.Handle(actionFor("a", "https://example.com/a", false)))
	assert.Equal(t, 0, launcher.calls)
}

func TestDispatcher_UnhandledWithOpenAppLaunches(t *testing.T) {
	exec := &recordingExecutor{result: false}
	launcher := &countingLauncher{resolvable: false}
	d := NewDispatcher(NewSlot(exec), ready(true), launcher)

	assert.False(t, d.Handle(actionFor("a", "https://example.com/a", true)))
	assert.Equal(t, 1, launcher.calls)
}

func TestDispatcher_NoActionBypassesSlot(t *testing.T) {
	exec := &recordingExecutor{result: true}
	launcher := &countingLauncher{resolvable: true}
	slot := NewSlot(exec)
	d := NewDispatcher(slot, ready(true), launcher)

	slot.Offer(actionFor("earlier", "https://example.com/earlier", false))
	ok := d.Handle(PendingAction{Event: EventMetadata{MessageID: "plain"}, OpenApp: true})

	assert.False(t, ok)
	assert.Equal(t, 1, launcher.calls)
	assert.True(t, slot.Occupied(), "the earlier occupant is untouched")
	assert.Empty(t, exec.executed)
}

func TestDispatcher_NilLauncher(t *testing.T) {
	d := NewDispatcher(NewSlot(&recordingExecutor{}), ready(false), nil)
	assert.NotPanics(t, func() {
		d.Handle(actionFor("a", "https://example.com/a", true))
	})
}
